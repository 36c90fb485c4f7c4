package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/creditmeter/internal/config"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

const signatureHeader = "Stripe-Signature"

// Verifier authenticates Stripe webhooks with the endpoint secret.
type Verifier struct {
	secret string
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{secret: strings.TrimSpace(cfg.Stripe.WebhookSecret)}
}

func (v *Verifier) Provider() string {
	return paymentdomain.ProviderStripe
}

func (v *Verifier) Verify(ctx context.Context, payload []byte, headers http.Header) (*paymentdomain.SubscriptionEvent, error) {
	if v.secret == "" {
		return nil, paymentdomain.ErrProviderNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrInvalidSignature, err)
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, paymentdomain.ErrInvalidEvent
	}

	out := &paymentdomain.SubscriptionEvent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: event.ID,
		Type:            string(event.Type),
		OccurredAt:      time.Unix(event.Created, 0).UTC(),
		RawPayload:      payload,
	}

	switch out.Type {
	case paymentdomain.EventSubscriptionCreated,
		paymentdomain.EventSubscriptionUpdated,
		paymentdomain.EventSubscriptionDeleted:
		var sub stripelib.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%w: decode subscription: %v", paymentdomain.ErrInvalidPayload, err)
		}
		out.Subscription = fromStripe(&sub)
		if out.Subscription.ID == "" {
			return nil, paymentdomain.ErrInvalidEvent
		}
		if err := fillPeriod(out.Subscription, event.Data.Raw); err != nil {
			return nil, fmt.Errorf("%w: decode subscription period: %v", paymentdomain.ErrInvalidPayload, err)
		}
	case paymentdomain.EventInvoicePaid, paymentdomain.EventInvoicePaymentFail:
		var invoice invoiceObject
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("%w: decode invoice: %v", paymentdomain.ErrInvalidPayload, err)
		}
		out.InvoiceSubscriptionRef = invoice.subscriptionRef()
	case paymentdomain.EventPaymentSucceeded:
		var intent paymentIntentObject
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			return nil, fmt.Errorf("%w: decode payment_intent: %v", paymentdomain.ErrInvalidPayload, err)
		}
		out.CustomerRef = expandableID(intent.Customer)
		out.Amount = intent.AmountReceived
		if out.Amount <= 0 {
			out.Amount = intent.Amount
		}
		out.Currency = strings.ToUpper(strings.TrimSpace(intent.Currency))
	default:
		return out, paymentdomain.ErrEventIgnored
	}
	return out, nil
}

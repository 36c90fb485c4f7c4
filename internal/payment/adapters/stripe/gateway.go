package stripe

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/config"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	stripelib "github.com/stripe/stripe-go/v82"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	paymentmethodpkg "github.com/stripe/stripe-go/v82/paymentmethod"
	setupintentpkg "github.com/stripe/stripe-go/v82/setupintent"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

// Gateway calls the Stripe API with the configured secret key.
type Gateway struct {
	log            *zap.Logger
	subscriptions  *subscriptionpkg.Client
	customers      *customerpkg.Client
	paymentMethods *paymentmethodpkg.Client
	setupIntents   *setupintentpkg.Client
}

// NewGateway returns nil when no secret key is configured; callers then
// report the provider as unavailable.
func NewGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	key := strings.TrimSpace(cfg.Stripe.SecretKey)
	if key == "" {
		return nil
	}
	backend := stripelib.GetBackend(stripelib.APIBackend)
	return &Gateway{
		log:            log.Named("payment.stripe"),
		subscriptions:  &subscriptionpkg.Client{B: backend, Key: key},
		customers:      &customerpkg.Client{B: backend, Key: key},
		paymentMethods: &paymentmethodpkg.Client{B: backend, Key: key},
		setupIntents:   &setupintentpkg.Client{B: backend, Key: key},
	}
}

func (g *Gateway) FetchSubscription(ctx context.Context, ref string) (*paymentdomain.ProviderSubscription, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	params := &stripelib.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.subscriptions.Get(ref, params)
	if err != nil {
		return nil, providerErr("retrieve subscription", err)
	}
	return fromStripe(sub), nil
}

func (g *Gateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripelib.CustomerParams{}
	params.Context = ctx
	if email = strings.TrimSpace(email); email != "" {
		params.Email = stripelib.String(email)
	}
	params.AddMetadata("user_id", userID)

	cust, err := g.customers.New(params)
	if err != nil {
		return "", providerErr("create customer", err)
	}
	g.log.Info("stripe customer created", zap.String("user_id", userID), zap.String("customer_ref", cust.ID))
	return cust.ID, nil
}

// CreateSubscription opens an incomplete subscription whose first invoice
// is confirmed client side with the returned secret.
func (g *Gateway) CreateSubscription(ctx context.Context, req paymentdomain.CheckoutRequest) (*paymentdomain.CheckoutResult, error) {
	if req.CustomerRef == "" || req.PriceID == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}

	params := &stripelib.SubscriptionParams{
		Customer: stripelib.String(req.CustomerRef),
		Items: []*stripelib.SubscriptionItemsParams{
			{Price: stripelib.String(req.PriceID)},
		},
		PaymentBehavior: stripelib.String("default_incomplete"),
	}
	params.Context = ctx
	if pm := strings.TrimSpace(req.PaymentMethodID); pm != "" {
		if err := g.attachPaymentMethod(ctx, req.CustomerRef, pm); err != nil {
			return nil, err
		}
		params.DefaultPaymentMethod = stripelib.String(pm)
	}
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("tier_id", req.TierID.String())
	params.AddExpand("latest_invoice.confirmation_secret")

	sub, err := g.subscriptions.New(params)
	if err != nil {
		return nil, providerErr("create subscription", err)
	}

	status, ok := MapStatus(string(sub.Status))
	if !ok {
		status = subscriptiondomain.SubscriptionStatusIncomplete
	}
	result := &paymentdomain.CheckoutResult{
		SubscriptionRef: sub.ID,
		Status:          status,
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		result.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return result, nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return paymentdomain.ErrInvalidRequest
	}
	params := &stripelib.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := g.subscriptions.Cancel(ref, params); err != nil {
		return providerErr("cancel subscription", err)
	}
	return nil
}

func (g *Gateway) CreateSetupIntent(ctx context.Context, customerRef string) (*paymentdomain.SetupIntentResult, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	params := &stripelib.SetupIntentParams{
		Customer:           stripelib.String(customerRef),
		PaymentMethodTypes: stripelib.StringSlice([]string{"card"}),
		Usage:              stripelib.String("off_session"),
	}
	params.Context = ctx

	intent, err := g.setupIntents.New(params)
	if err != nil {
		return nil, providerErr("create setup intent", err)
	}
	return &paymentdomain.SetupIntentResult{
		SetupIntentID: intent.ID,
		ClientSecret:  intent.ClientSecret,
	}, nil
}

// ListPaymentMethods pages through every card saved on the customer.
func (g *Gateway) ListPaymentMethods(ctx context.Context, customerRef string) ([]paymentdomain.PaymentMethod, error) {
	customerRef = strings.TrimSpace(customerRef)
	if customerRef == "" {
		return nil, paymentdomain.ErrInvalidRequest
	}
	params := &stripelib.PaymentMethodListParams{
		Customer: stripelib.String(customerRef),
		Type:     stripelib.String("card"),
	}
	params.Context = ctx

	methods := []paymentdomain.PaymentMethod{}
	iter := g.paymentMethods.List(params)
	for iter.Next() {
		methods = append(methods, toPaymentMethod(iter.PaymentMethod()))
	}
	if err := iter.Err(); err != nil {
		return nil, providerErr("list payment methods", err)
	}
	return methods, nil
}

func toPaymentMethod(pm *stripelib.PaymentMethod) paymentdomain.PaymentMethod {
	out := paymentdomain.PaymentMethod{
		ID:   pm.ID,
		Type: string(pm.Type),
	}
	if pm.Card != nil {
		out.Brand = string(pm.Card.Brand)
		out.Last4 = pm.Card.Last4
		out.ExpMonth = pm.Card.ExpMonth
		out.ExpYear = pm.Card.ExpYear
	}
	return out
}

func (g *Gateway) attachPaymentMethod(ctx context.Context, customerRef, paymentMethodID string) error {
	params := &stripelib.PaymentMethodAttachParams{
		Customer: stripelib.String(customerRef),
	}
	params.Context = ctx
	if _, err := g.paymentMethods.Attach(paymentMethodID, params); err != nil {
		return providerErr("attach payment method", err)
	}
	return nil
}

func providerErr(op string, err error) error {
	return fmt.Errorf("stripe %s: %w: %v", op, paymentdomain.ErrProviderUnavailable, err)
}

package stripe

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	stripelib "github.com/stripe/stripe-go/v82"
)

// MapStatus folds Stripe subscription statuses onto local ones. Statuses
// with no local meaning (paused) report false.
func MapStatus(status string) (subscriptiondomain.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return subscriptiondomain.SubscriptionStatusActive, true
	case "canceled", "cancelled", "unpaid", "incomplete_expired":
		return subscriptiondomain.SubscriptionStatusCancelled, true
	case "past_due":
		return subscriptiondomain.SubscriptionStatusPastDue, true
	case "incomplete":
		return subscriptiondomain.SubscriptionStatusIncomplete, true
	default:
		return "", false
	}
}

func fromStripe(sub *stripelib.Subscription) *paymentdomain.ProviderSubscription {
	if sub == nil {
		return nil
	}
	status, _ := MapStatus(string(sub.Status))
	out := &paymentdomain.ProviderSubscription{
		ID:             strings.TrimSpace(sub.ID),
		Status:         status,
		ProviderStatus: string(sub.Status),
		Metadata:       sub.Metadata,
	}
	if sub.Customer != nil {
		out.CustomerRef = strings.TrimSpace(sub.Customer.ID)
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item == nil {
				continue
			}
			if item.Price != nil && item.Price.ID != "" {
				out.PriceIDs = append(out.PriceIDs, item.Price.ID)
			}
			// Items share the billing period; the first one with a value wins.
			if out.CurrentPeriodEnd == nil {
				out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
				out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
			}
		}
	}
	return out
}

// subscriptionPeriod reads the period that older API versions carry on the
// subscription itself instead of on its items.
type subscriptionPeriod struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
}

// fillPeriod applies the subscription-level period when the items did not
// carry one.
func fillPeriod(sub *paymentdomain.ProviderSubscription, raw json.RawMessage) error {
	if sub == nil || sub.CurrentPeriodEnd != nil {
		return nil
	}
	var period subscriptionPeriod
	if err := json.Unmarshal(raw, &period); err != nil {
		return err
	}
	sub.CurrentPeriodEnd = unixTime(period.CurrentPeriodEnd)
	if sub.CurrentPeriodStart == nil {
		sub.CurrentPeriodStart = unixTime(period.CurrentPeriodStart)
	}
	return nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// invoiceObject carries the fields of an invoice needed to find its
// subscription across Stripe API versions.
type invoiceObject struct {
	ID           string          `json:"id"`
	Subscription json.RawMessage `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines *struct {
		Data []struct {
			Subscription json.RawMessage `json:"subscription"`
		} `json:"data"`
	} `json:"lines"`
}

func (i invoiceObject) subscriptionRef() string {
	if ref := expandableID(i.Subscription); ref != "" {
		return ref
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		if ref := expandableID(i.Parent.SubscriptionDetails.Subscription); ref != "" {
			return ref
		}
	}
	if i.Lines != nil {
		for _, line := range i.Lines.Data {
			if ref := expandableID(line.Subscription); ref != "" {
				return ref
			}
		}
	}
	return ""
}

type paymentIntentObject struct {
	ID             string          `json:"id"`
	Customer       json.RawMessage `json:"customer"`
	Amount         int64           `json:"amount"`
	AmountReceived int64           `json:"amount_received"`
	Currency       string          `json:"currency"`
}

// expandableID reads a Stripe field that is either an id string or an
// expanded object.
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.ID)
	}
	return ""
}

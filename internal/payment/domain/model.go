package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"gorm.io/datatypes"
)

// EventRecord is the log entry of a verified provider event.
type EventRecord struct {
	ID                      snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider                string         `json:"provider" gorm:"type:varchar(32);not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID         string         `json:"provider_event_id" gorm:"type:varchar(255);not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType               string         `json:"event_type" gorm:"type:varchar(64);not null"`
	ExternalSubscriptionRef *string        `json:"external_subscription_ref,omitempty" gorm:"type:varchar(255);index"`
	Payload                 datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Outcome                 string         `json:"outcome" gorm:"type:varchar(32)"`
	ReceivedAt              time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt             *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const ProviderStripe = "stripe"

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.paid"
	EventInvoicePaymentFail  = "invoice.payment_failed"
	EventPaymentSucceeded    = "payment_intent.succeeded"
)

// Outcomes stored on the event log.
const (
	OutcomeCreated         = "created"
	OutcomeUpdated         = "updated"
	OutcomeUnchanged       = "unchanged"
	OutcomeIgnored         = "ignored"
	OutcomeLogged          = "logged"
	OutcomeUnknownCustomer = "unknown_customer"
)

// ProviderSubscription is a provider subscription with its status already
// mapped onto local statuses.
type ProviderSubscription struct {
	ID                 string
	CustomerRef        string
	Status             subscriptiondomain.SubscriptionStatus
	ProviderStatus     string
	Metadata           map[string]string
	PriceIDs           []string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
}

// SubscriptionEvent is the canonical event produced by a webhook verifier.
type SubscriptionEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	// Subscription is set for customer.subscription.* events.
	Subscription *ProviderSubscription
	// InvoiceSubscriptionRef is set for invoice events tied to a subscription.
	InvoiceSubscriptionRef string
	// CustomerRef and Amount describe payment_intent events.
	CustomerRef string
	Amount      int64
	Currency    string
	OccurredAt  time.Time
	RawPayload  []byte
}

// SubscriptionRef returns the provider subscription the event is about.
func (e *SubscriptionEvent) SubscriptionRef() string {
	if e == nil {
		return ""
	}
	if e.Subscription != nil {
		return e.Subscription.ID
	}
	return e.InvoiceSubscriptionRef
}

type CheckoutRequest struct {
	UserID          string
	CustomerRef     string
	PriceID         string
	TierID          snowflake.ID
	PaymentMethodID string
}

type CheckoutResult struct {
	SubscriptionRef string
	ClientSecret    string
	Status          subscriptiondomain.SubscriptionStatus
}

type SubscribeRequest struct {
	UserID          string       `json:"-"`
	Email           string       `json:"-"`
	TierID          snowflake.ID `json:"tier_id"`
	PaymentMethodID string       `json:"payment_method_id"`
}

type SubscribeResult struct {
	Subscription *subscriptiondomain.UserSubscription `json:"subscription"`
	Tier         *subscriptiondomain.Tier             `json:"tier"`
	ClientSecret string                               `json:"client_secret,omitempty"`
}

type SetupIntentResult struct {
	SetupIntentID string `json:"setup_intent_id"`
	ClientSecret  string `json:"client_secret"`
}

// PaymentMethod is the display summary of a saved card.
type PaymentMethod struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Brand    string `json:"brand,omitempty"`
	Last4    string `json:"last4,omitempty"`
	ExpMonth int64  `json:"exp_month,omitempty"`
	ExpYear  int64  `json:"exp_year,omitempty"`
}

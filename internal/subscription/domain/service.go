package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type CreateSubscriptionRequest struct {
	UserID      string       `json:"user_id"`
	TierID      snowflake.ID `json:"tier_id"`
	ExternalRef string       `json:"external_subscription_ref"`
}

// ProviderState is the subscription as last reported by the payment
// provider, already mapped onto local statuses.
type ProviderState struct {
	ExternalRef string
	UserID      string
	// TierID is zero when the provider did not say which tier it bills.
	TierID      snowflake.ID
	Status      SubscriptionStatus
	PeriodStart *time.Time
	PeriodEnd   *time.Time
	// AllowCreate permits inserting a row when no local match exists.
	AllowCreate bool
}

type ApplyOutcome string

const (
	ApplyOutcomeCreated   ApplyOutcome = "created"
	ApplyOutcomeUpdated   ApplyOutcome = "updated"
	ApplyOutcomeUnchanged ApplyOutcome = "unchanged"
	ApplyOutcomeIgnored   ApplyOutcome = "ignored"
)

type ApplyResult struct {
	Outcome      ApplyOutcome
	Subscription *UserSubscription
	// Cancelled counts other active rows of the user closed by an activation.
	Cancelled int64
}

type Service interface {
	ListTiers(ctx context.Context) ([]Tier, error)
	GetTier(ctx context.Context, id snowflake.ID) (*Tier, error)
	GetTierByCode(ctx context.Context, code string) (*Tier, error)
	SeedTiers(ctx context.Context) error

	GetActiveSubscription(ctx context.Context, userID string) (*UserSubscription, error)
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*UserSubscription, error)
	CancelSubscription(ctx context.Context, userID string) (*UserSubscription, error)
	ApplyProviderState(ctx context.Context, state ProviderState) (ApplyResult, error)
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusCancelled  SubscriptionStatus = "cancelled"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusIncomplete,
		SubscriptionStatusActive,
		SubscriptionStatusCancelled,
		SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}

// Tier is a catalog entry. Tiers are seeded and read-only at runtime.
type Tier struct {
	ID                    snowflake.ID    `gorm:"primaryKey" json:"id"`
	Code                  string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"code"`
	Name                  string          `gorm:"type:text;not null" json:"name"`
	MonthlyPriceUSD       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"monthly_price_usd"`
	MonthlyCreditQuota    int64           `gorm:"not null" json:"monthly_credit_quota"`
	OverageCreditPriceUSD decimal.Decimal `gorm:"type:numeric(12,6);not null" json:"overage_credit_price_usd"`
	CreatedAt             time.Time       `gorm:"not null" json:"-"`
	UpdatedAt             time.Time       `gorm:"not null" json:"-"`
}

func (Tier) TableName() string { return "subscription_tiers" }

// Quota returns the monthly credit allowance as a decimal.
func (t Tier) Quota() decimal.Decimal {
	return decimal.NewFromInt(t.MonthlyCreditQuota)
}

// UserSubscription binds a user to a tier. At most one row per user is
// active at any time.
type UserSubscription struct {
	ID                      snowflake.ID       `gorm:"primaryKey" json:"id"`
	UserID                  string             `gorm:"type:varchar(128);not null;index" json:"user_id"`
	TierID                  snowflake.ID       `gorm:"not null" json:"tier_id"`
	Status                  SubscriptionStatus `gorm:"type:varchar(32);not null" json:"status"`
	ExternalSubscriptionRef *string            `gorm:"type:varchar(255);uniqueIndex" json:"external_subscription_ref,omitempty"`
	PeriodStart             *time.Time         `json:"period_start,omitempty"`
	PeriodEnd               *time.Time         `json:"period_end,omitempty"`
	CreatedAt               time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt               time.Time          `gorm:"not null" json:"updated_at"`
}

func (UserSubscription) TableName() string { return "user_subscriptions" }

func (s *UserSubscription) ExternalRef() string {
	if s == nil || s.ExternalSubscriptionRef == nil {
		return ""
	}
	return *s.ExternalSubscriptionRef
}

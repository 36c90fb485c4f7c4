// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UsageRecord stores a single metered event. Records are append-only.
type UsageRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	UserID         string            `gorm:"type:varchar(128);not null;index:idx_usage_records_user_created,priority:1;uniqueIndex:ux_usage_records_user_idempotency,priority:1" json:"user_id"`
	ChatID         *string           `gorm:"type:varchar(128)" json:"chat_id,omitempty"`
	MessageID      *string           `gorm:"type:varchar(128)" json:"message_id,omitempty"`
	IdempotencyKey *string           `gorm:"type:varchar(255);uniqueIndex:ux_usage_records_user_idempotency,priority:2" json:"idempotency_key,omitempty"`
	InputTokens    int64             `gorm:"not null" json:"input_tokens"`
	OutputTokens   int64             `gorm:"not null" json:"output_tokens"`
	StorageBytes   int64             `gorm:"not null" json:"storage_bytes"`
	CreditsUsed    decimal.Decimal   `gorm:"type:numeric(18,2);not null" json:"credits_used"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `gorm:"not null;index:idx_usage_records_user_created,priority:2" json:"created_at"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }

// MonthlyUsageSummary holds the running totals of one user for one calendar
// month. It is created by the first record of the month and never deleted.
type MonthlyUsageSummary struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	UserID         string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_monthly_usage_period,priority:1" json:"user_id"`
	Year           int             `gorm:"not null;uniqueIndex:ux_monthly_usage_period,priority:2" json:"year"`
	Month          int             `gorm:"not null;uniqueIndex:ux_monthly_usage_period,priority:3" json:"month"`
	InputTokens    int64           `gorm:"not null;default:0" json:"input_tokens"`
	OutputTokens   int64           `gorm:"not null;default:0" json:"output_tokens"`
	StorageBytes   int64           `gorm:"not null;default:0" json:"storage_bytes"`
	InputCredits   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"input_credits"`
	OutputCredits  decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"output_credits"`
	StorageCredits decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"storage_credits"`
	TotalCredits   decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0" json:"total_credits"`
	BaseCostUSD    decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0" json:"base_cost_usd"`
	OverageCostUSD decimal.Decimal `gorm:"type:numeric(18,6);not null;default:0" json:"overage_cost_usd"`
	RecordCount    int64           `gorm:"not null;default:0" json:"record_count"`
	CreatedAt      time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (MonthlyUsageSummary) TableName() string { return "monthly_usage_summaries" }

// CostUSD is the amount billed for the period so far.
func (s MonthlyUsageSummary) CostUSD() decimal.Decimal {
	return s.BaseCostUSD.Add(s.OverageCostUSD)
}

package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/credit"
	"gorm.io/gorm"
)

type RecordUsageRequest struct {
	UserID    string `json:"user_id"`
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	// IdempotencyKey makes retries of the same event count once.
	IdempotencyKey string         `json:"idempotency_key"`
	Sample         credit.Sample  `json:"sample"`
	Metadata       map[string]any `json:"metadata"`
}

// CurrentUsage is the caller-facing view of the running month.
type CurrentUsage struct {
	UserID         string          `json:"user_id"`
	Year           int             `json:"year"`
	Month          int             `json:"month"`
	InputTokens    int64           `json:"input_tokens"`
	OutputTokens   int64           `json:"output_tokens"`
	StorageBytes   int64           `json:"storage_bytes"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
	CostUSD        decimal.Decimal `json:"cost_usd"`
	BaseCostUSD    decimal.Decimal `json:"base_cost_usd"`
	OverageCostUSD decimal.Decimal `json:"overage_cost_usd"`
}

// PeriodSummary aggregates every user's summary for one month.
type PeriodSummary struct {
	Year                  int             `json:"year"`
	Month                 int             `json:"month"`
	TotalUsers            int64           `json:"total_users"`
	TotalCredits          decimal.Decimal `json:"total_credits"`
	TotalCostUSD          decimal.Decimal `json:"total_cost_usd"`
	AverageCreditsPerUser decimal.Decimal `json:"average_credits_per_user"`
	AverageCostPerUser    decimal.Decimal `json:"average_cost_per_user"`
}

// SummaryDelta is the increment one record applies to its period summary.
type SummaryDelta struct {
	UserID    string
	Year      int
	Month     int
	Sample    credit.Sample
	Breakdown credit.Breakdown
	At        time.Time
}

// PeriodAggregate is the raw column sum behind a PeriodSummary.
type PeriodAggregate struct {
	Users        int64
	TotalCredits decimal.Decimal
	BaseCost     decimal.Decimal
	OverageCost  decimal.Decimal
}

type Repository interface {
	// InsertRecord reports false when the idempotency key was already used.
	InsertRecord(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindRecordByIdempotencyKey(ctx context.Context, db *gorm.DB, userID, key string) (*UsageRecord, error)
	IncrementSummary(ctx context.Context, db *gorm.DB, delta SummaryDelta, id snowflake.ID) error
	FindSummary(ctx context.Context, db *gorm.DB, userID string, year, month int, forUpdate bool) (*MonthlyUsageSummary, error)
	UpdateSummaryCost(ctx context.Context, db *gorm.DB, id snowflake.ID, base, overage decimal.Decimal, at time.Time) error
	AggregatePeriod(ctx context.Context, db *gorm.DB, year, month int) (PeriodAggregate, error)
}

type Service interface {
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageRecord, error)
	GetMonthlySummary(ctx context.Context, userID string, year, month int) (*MonthlyUsageSummary, error)
	GetCurrentUsage(ctx context.Context, userID string) (CurrentUsage, error)
	SummarizePeriod(ctx context.Context, year, month int) (PeriodSummary, error)
}

var (
	ErrInvalidUser     = errors.New("invalid_user")
	ErrInvalidPeriod   = errors.New("invalid_period")
	ErrSummaryNotFound = errors.New("usage_summary_not_found")
	ErrPersistence     = errors.New("usage_persistence_failed")
	ErrStorageTimeout  = errors.New("usage_storage_timeout")
)

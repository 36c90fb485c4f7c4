package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const summaryColumns = `id, user_id, year, month,
	input_tokens, output_tokens, storage_bytes,
	input_credits, output_credits, storage_credits, total_credits,
	base_cost_usd, overage_cost_usd, record_count, created_at, updated_at`

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, conn *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	tx := conn.WithContext(ctx)
	if record.IdempotencyKey != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		})
	}
	result := tx.Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindRecordByIdempotencyKey(ctx context.Context, conn *gorm.DB, userID, key string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := conn.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		Limit(1).
		Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

// IncrementSummary creates the period row or adds the delta to it in a
// single statement, so concurrent writers never lose an update.
func (r *repo) IncrementSummary(ctx context.Context, conn *gorm.DB, delta usagedomain.SummaryDelta, id snowflake.ID) error {
	row := &usagedomain.MonthlyUsageSummary{
		ID:             id,
		UserID:         delta.UserID,
		Year:           delta.Year,
		Month:          delta.Month,
		InputTokens:    delta.Sample.InputTokens,
		OutputTokens:   delta.Sample.OutputTokens,
		StorageBytes:   delta.Sample.StorageBytes,
		InputCredits:   delta.Breakdown.InputCredits,
		OutputCredits:  delta.Breakdown.OutputCredits,
		StorageCredits: delta.Breakdown.StorageCredits,
		TotalCredits:   delta.Breakdown.TotalCredits,
		BaseCostUSD:    decimal.Zero,
		OverageCostUSD: decimal.Zero,
		RecordCount:    1,
		CreatedAt:      delta.At,
		UpdatedAt:      delta.At,
	}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "year"}, {Name: "month"}},
			DoUpdates: clause.Assignments(map[string]any{
				"input_tokens":    increment("input_tokens", delta.Sample.InputTokens),
				"output_tokens":   increment("output_tokens", delta.Sample.OutputTokens),
				"storage_bytes":   increment("storage_bytes", delta.Sample.StorageBytes),
				"input_credits":   increment("input_credits", delta.Breakdown.InputCredits),
				"output_credits":  increment("output_credits", delta.Breakdown.OutputCredits),
				"storage_credits": increment("storage_credits", delta.Breakdown.StorageCredits),
				"total_credits":   increment("total_credits", delta.Breakdown.TotalCredits),
				"record_count":    increment("record_count", 1),
				"updated_at":      delta.At,
			}),
		}).
		Create(row).Error
}

func increment(column string, value any) clause.Expr {
	return gorm.Expr("monthly_usage_summaries."+column+" + ?", value)
}

func (r *repo) FindSummary(ctx context.Context, conn *gorm.DB, userID string, year, month int, forUpdate bool) (*usagedomain.MonthlyUsageSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM monthly_usage_summaries
		WHERE user_id = ? AND year = ? AND month = ?
		LIMIT 1`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += ` FOR UPDATE`
	}

	var summary usagedomain.MonthlyUsageSummary
	if err := conn.WithContext(ctx).Raw(query, userID, year, month).Scan(&summary).Error; err != nil {
		return nil, err
	}
	if summary.ID == 0 {
		return nil, nil
	}
	return &summary, nil
}

func (r *repo) UpdateSummaryCost(ctx context.Context, conn *gorm.DB, id snowflake.ID, base, overage decimal.Decimal, at time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE monthly_usage_summaries
		 SET base_cost_usd = ?, overage_cost_usd = ?, updated_at = ?
		 WHERE id = ?`,
		base,
		overage,
		at,
		id,
	).Error
}

func (r *repo) AggregatePeriod(ctx context.Context, conn *gorm.DB, year, month int) (usagedomain.PeriodAggregate, error) {
	var agg usagedomain.PeriodAggregate
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS users,
			COALESCE(SUM(total_credits), 0) AS total_credits,
			COALESCE(SUM(base_cost_usd), 0) AS base_cost,
			COALESCE(SUM(overage_cost_usd), 0) AS overage_cost
		 FROM monthly_usage_summaries
		 WHERE year = ? AND month = ?`,
		year,
		month,
	).Scan(&agg).Error
	return agg, err
}

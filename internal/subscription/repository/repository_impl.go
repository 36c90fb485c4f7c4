package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tierColumns = `id, code, name, monthly_price_usd, monthly_credit_quota, overage_credit_price_usd, created_at, updated_at`

const subscriptionColumns = `id, user_id, tier_id, status, external_subscription_ref,
	period_start, period_end, created_at, updated_at`

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) ListTiers(ctx context.Context, conn *gorm.DB) ([]subscriptiondomain.Tier, error) {
	var tiers []subscriptiondomain.Tier
	err := conn.WithContext(ctx).Raw(
		`SELECT ` + tierColumns + ` FROM subscription_tiers ORDER BY monthly_credit_quota ASC, id ASC`,
	).Scan(&tiers).Error
	if err != nil {
		return nil, err
	}
	return tiers, nil
}

func (r *repo) FindTierByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.Tier, error) {
	return r.findTier(ctx, conn, `id = ?`, id)
}

func (r *repo) FindTierByCode(ctx context.Context, conn *gorm.DB, code string) (*subscriptiondomain.Tier, error) {
	return r.findTier(ctx, conn, `code = ?`, code)
}

func (r *repo) findTier(ctx context.Context, conn *gorm.DB, where string, arg any) (*subscriptiondomain.Tier, error) {
	var tier subscriptiondomain.Tier
	err := conn.WithContext(ctx).Raw(
		`SELECT `+tierColumns+` FROM subscription_tiers WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&tier).Error
	if err != nil {
		return nil, err
	}
	if tier.ID == 0 {
		return nil, nil
	}
	return &tier, nil
}

func (r *repo) UpsertTier(ctx context.Context, conn *gorm.DB, tier *subscriptiondomain.Tier) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name",
				"monthly_price_usd",
				"monthly_credit_quota",
				"overage_credit_price_usd",
				"updated_at",
			}),
		}).
		Create(tier).Error
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, sub *subscriptiondomain.UserSubscription) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO user_subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.UserID,
		sub.TierID,
		sub.Status,
		sub.ExternalSubscriptionRef,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*subscriptiondomain.UserSubscription, error) {
	return r.findOne(ctx, conn, false, `id = ?`, id)
}

func (r *repo) FindActiveByUserID(ctx context.Context, conn *gorm.DB, userID string) (*subscriptiondomain.UserSubscription, error) {
	return r.findOne(ctx, conn, false, `user_id = ? AND status = ?`, userID, subscriptiondomain.SubscriptionStatusActive)
}

func (r *repo) FindActiveByUserIDForUpdate(ctx context.Context, conn *gorm.DB, userID string) (*subscriptiondomain.UserSubscription, error) {
	return r.findOne(ctx, conn, true, `user_id = ? AND status = ?`, userID, subscriptiondomain.SubscriptionStatusActive)
}

func (r *repo) FindByExternalRefForUpdate(ctx context.Context, conn *gorm.DB, ref string) (*subscriptiondomain.UserSubscription, error) {
	return r.findOne(ctx, conn, true, `external_subscription_ref = ?`, ref)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, forUpdate bool, where string, args ...any) (*subscriptiondomain.UserSubscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM user_subscriptions WHERE ` + where +
		` ORDER BY created_at DESC, id DESC LIMIT 1`
	if forUpdate && db.SupportsRowLocks(conn) {
		query += ` FOR UPDATE`
	}

	var sub subscriptiondomain.UserSubscription
	if err := conn.WithContext(ctx).Raw(query, args...).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) CountActiveByUserID(ctx context.Context, conn *gorm.DB, userID string) (int64, error) {
	var count int64
	err := conn.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM user_subscriptions WHERE user_id = ? AND status = ?`,
		userID,
		subscriptiondomain.SubscriptionStatusActive,
	).Scan(&count).Error
	return count, err
}

func (r *repo) CancelActiveByUserID(ctx context.Context, conn *gorm.DB, userID string, keepID snowflake.ID, now time.Time) (int64, error) {
	result := conn.WithContext(ctx).Exec(
		`UPDATE user_subscriptions SET status = ?, updated_at = ?
		 WHERE user_id = ? AND status = ? AND id <> ?`,
		subscriptiondomain.SubscriptionStatusCancelled,
		now,
		userID,
		subscriptiondomain.SubscriptionStatusActive,
		keepID,
	)
	return result.RowsAffected, result.Error
}

func (r *repo) UpdateState(ctx context.Context, conn *gorm.DB, sub *subscriptiondomain.UserSubscription) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE user_subscriptions
		 SET tier_id = ?, status = ?, period_start = ?, period_end = ?, updated_at = ?
		 WHERE id = ?`,
		sub.TierID,
		sub.Status,
		sub.PeriodStart,
		sub.PeriodEnd,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

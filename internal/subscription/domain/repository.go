package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists tiers and user subscriptions. Every method takes the
// handle to run on so callers can compose them inside one transaction.
type Repository interface {
	ListTiers(ctx context.Context, db *gorm.DB) ([]Tier, error)
	FindTierByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tier, error)
	FindTierByCode(ctx context.Context, db *gorm.DB, code string) (*Tier, error)
	UpsertTier(ctx context.Context, db *gorm.DB, tier *Tier) error

	Insert(ctx context.Context, db *gorm.DB, sub *UserSubscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UserSubscription, error)
	FindActiveByUserID(ctx context.Context, db *gorm.DB, userID string) (*UserSubscription, error)
	FindActiveByUserIDForUpdate(ctx context.Context, db *gorm.DB, userID string) (*UserSubscription, error)
	FindByExternalRefForUpdate(ctx context.Context, db *gorm.DB, ref string) (*UserSubscription, error)
	CountActiveByUserID(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	// CancelActiveByUserID cancels every active row of the user except keepID.
	CancelActiveByUserID(ctx context.Context, db *gorm.DB, userID string, keepID snowflake.ID, now time.Time) (int64, error)
	UpdateState(ctx context.Context, db *gorm.DB, sub *UserSubscription) error
}

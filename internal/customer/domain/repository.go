package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *BillingCustomer) error
	FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*BillingCustomer, error)
	FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*BillingCustomer, error)
	UpdateExternalRef(ctx context.Context, db *gorm.DB, customer *BillingCustomer) error
}

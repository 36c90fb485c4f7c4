package repository

import (
	"context"

	"github.com/smallbiznis/creditmeter/internal/customer/domain"
	"gorm.io/gorm"
)

const customerColumns = `id, user_id, email, external_customer_ref, created_at, updated_at`

type repository struct{}

func Provide() domain.Repository {
	return &repository{}
}

func (r *repository) Insert(ctx context.Context, db *gorm.DB, customer *domain.BillingCustomer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_customers (`+customerColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.UserID,
		customer.Email,
		customer.ExternalCustomerRef,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repository) FindByUserID(ctx context.Context, db *gorm.DB, userID string) (*domain.BillingCustomer, error) {
	return r.findOne(ctx, db, `user_id = ?`, userID)
}

func (r *repository) FindByExternalRef(ctx context.Context, db *gorm.DB, ref string) (*domain.BillingCustomer, error) {
	return r.findOne(ctx, db, `external_customer_ref = ?`, ref)
}

func (r *repository) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.BillingCustomer, error) {
	var customer domain.BillingCustomer
	err := db.WithContext(ctx).Raw(
		`SELECT `+customerColumns+` FROM billing_customers WHERE `+where+` LIMIT 1`,
		arg,
	).Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repository) UpdateExternalRef(ctx context.Context, db *gorm.DB, customer *domain.BillingCustomer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_customers SET external_customer_ref = ?, email = ?, updated_at = ? WHERE id = ?`,
		customer.ExternalCustomerRef,
		customer.Email,
		customer.UpdatedAt,
		customer.ID,
	).Error
}

package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// BillingCustomer links a local user to the payment provider's customer.
type BillingCustomer struct {
	ID                  snowflake.ID `gorm:"primaryKey" json:"id"`
	UserID              string       `gorm:"type:varchar(128);not null;uniqueIndex" json:"user_id"`
	Email               string       `gorm:"type:varchar(320);not null" json:"email"`
	ExternalCustomerRef *string      `gorm:"type:varchar(255);uniqueIndex" json:"external_customer_ref,omitempty"`
	CreatedAt           time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time    `gorm:"not null" json:"updated_at"`
}

func (BillingCustomer) TableName() string { return "billing_customers" }

func (c *BillingCustomer) ExternalRef() string {
	if c == nil || c.ExternalCustomerRef == nil {
		return ""
	}
	return *c.ExternalCustomerRef
}

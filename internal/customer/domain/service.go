package domain

import (
	"context"
	"errors"
)

type EnsureCustomerRequest struct {
	UserID string
	Email  string
}

type Service interface {
	// Ensure returns the user's billing customer, creating it on first use.
	Ensure(context.Context, EnsureCustomerRequest) (*BillingCustomer, error)
	GetByUserID(ctx context.Context, userID string) (*BillingCustomer, error)
	// ResolveUserID maps a provider customer reference to a local user.
	ResolveUserID(ctx context.Context, externalRef string) (string, error)
	AttachExternalRef(ctx context.Context, userID, externalRef string) (*BillingCustomer, error)
}

var (
	ErrInvalidUser        = errors.New("invalid_user")
	ErrInvalidEmail       = errors.New("invalid_email")
	ErrInvalidExternalRef = errors.New("invalid_external_ref")
	ErrExternalRefInUse   = errors.New("external_ref_in_use")
	ErrNotFound           = errors.New("not_found")
)

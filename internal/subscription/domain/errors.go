package domain

import "errors"

var (
	ErrInvalidUser          = errors.New("invalid_user")
	ErrInvalidTier          = errors.New("invalid_tier")
	ErrInvalidStatus        = errors.New("invalid_status")
	ErrInvalidExternalRef   = errors.New("invalid_external_ref")
	ErrTierNotFound         = errors.New("tier_not_found")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrStorageTimeout       = errors.New("subscription_storage_timeout")

	// ErrWriteConflict means a concurrent writer won a unique index race.
	// The caller may retry.
	ErrWriteConflict = errors.New("subscription_write_conflict")
)

package db

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout bounds a single storage call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// WithTimeout derives a context that expires after d, or DefaultTimeout when
// d is not positive.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// IsTimeout reports whether err came from an expired storage deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

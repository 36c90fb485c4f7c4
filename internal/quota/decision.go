package quota

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/credit"
)

var ErrQuotaExceeded = errors.New("quota_exceeded")

// Decision is the outcome of a pre-flight check. A denial is a normal
// result; callers must inspect Allowed before running the metered action.
type Decision struct {
	Allowed          bool            `json:"allowed"`
	Reason           string          `json:"reason,omitempty"`
	TierCode         string          `json:"tier,omitempty"`
	CurrentCredits   decimal.Decimal `json:"current_credits"`
	EstimatedCredits decimal.Decimal `json:"estimated_credits"`
	QuotaCredits     decimal.Decimal `json:"quota_credits"`
}

// Err converts a denial into a *QuotaExceededError and returns nil when
// the action is allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &QuotaExceededError{
		Current:   d.CurrentCredits,
		Estimated: d.EstimatedCredits,
		Quota:     d.QuotaCredits,
	}
}

type QuotaExceededError struct {
	Current   decimal.Decimal
	Estimated decimal.Decimal
	Quota     decimal.Decimal
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s used + %s estimated exceeds %s credits",
		e.Current.StringFixed(credit.Scale),
		e.Estimated.StringFixed(credit.Scale),
		e.Quota.StringFixed(0),
	)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

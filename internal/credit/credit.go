// Package credit converts raw resource consumption into billing credits.
//
// Every component is rounded to two decimal places before it is summed, so
// the total of a breakdown always equals the sum of its displayed parts.
package credit

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput is returned for negative resource amounts.
var ErrInvalidInput = errors.New("invalid_input")

const (
	// Scale is the number of decimal places credits are rounded to.
	Scale int32 = 2

	// BytesPerGiB is the binary gigabyte used for storage.
	BytesPerGiB int64 = 1 << 30
)

var (
	InputRate   = decimal.NewFromInt(1)
	OutputRate  = decimal.NewFromInt(3)
	StorageRate = decimal.NewFromInt(1)
)

// Sample is one observation of consumed resources.
type Sample struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	StorageBytes int64 `json:"storage_bytes"`
}

func (s Sample) Validate() error {
	if s.InputTokens < 0 || s.OutputTokens < 0 || s.StorageBytes < 0 {
		return ErrInvalidInput
	}
	return nil
}

func (s Sample) IsZero() bool {
	return s.InputTokens == 0 && s.OutputTokens == 0 && s.StorageBytes == 0
}

// Add returns the component-wise sum of two samples.
func (s Sample) Add(o Sample) Sample {
	return Sample{
		InputTokens:  s.InputTokens + o.InputTokens,
		OutputTokens: s.OutputTokens + o.OutputTokens,
		StorageBytes: s.StorageBytes + o.StorageBytes,
	}
}

// Breakdown is the credit value of a Sample.
type Breakdown struct {
	InputCredits   decimal.Decimal `json:"input_credits"`
	OutputCredits  decimal.Decimal `json:"output_credits"`
	StorageCredits decimal.Decimal `json:"storage_credits"`
	TotalCredits   decimal.Decimal `json:"total_credits"`
}

// Convert prices a sample in credits.
func Convert(s Sample) (Breakdown, error) {
	if err := s.Validate(); err != nil {
		return Breakdown{}, err
	}

	in := decimal.NewFromInt(s.InputTokens).Mul(InputRate).RoundBank(Scale)
	out := decimal.NewFromInt(s.OutputTokens).Mul(OutputRate).RoundBank(Scale)
	storage := StorageGiB(s.StorageBytes).Mul(StorageRate).RoundBank(Scale)

	return Breakdown{
		InputCredits:   in,
		OutputCredits:  out,
		StorageCredits: storage,
		TotalCredits:   in.Add(out).Add(storage),
	}, nil
}

// StorageGiB expresses a byte count in binary gigabytes without rounding.
func StorageGiB(bytes int64) decimal.Decimal {
	return decimal.NewFromInt(bytes).Div(decimal.NewFromInt(BytesPerGiB))
}

package credit

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		sample  Sample
		input   string
		output  string
		storage string
		total   string
	}{
		{
			name:    "tokens only",
			sample:  Sample{InputTokens: 20, OutputTokens: 50},
			input:   "20",
			output:  "150",
			storage: "0",
			total:   "170",
		},
		{
			name:    "one GiB of storage",
			sample:  Sample{StorageBytes: BytesPerGiB},
			input:   "0",
			output:  "0",
			storage: "1",
			total:   "1",
		},
		{
			name:    "storage just over a half cent rounds up",
			sample:  Sample{StorageBytes: 5_368_710}, // just over 0.005 GiB
			storage: "0.01",
			input:   "0",
			output:  "0",
			total:   "0.01",
		},
		{
			name:    "storage tie rounds to even",
			sample:  Sample{StorageBytes: 1 << 27}, // exactly 0.125 GiB
			input:   "0",
			output:  "0",
			storage: "0.12",
			total:   "0.12",
		},
		{
			name:    "storage tie rounds up to even",
			sample:  Sample{StorageBytes: 3 << 27}, // exactly 0.375 GiB
			input:   "0",
			output:  "0",
			storage: "0.38",
			total:   "0.38",
		},
		{
			name:    "decimal storage is not a GiB",
			sample:  Sample{StorageBytes: 1_000_000_000},
			input:   "0",
			output:  "0",
			storage: "0.93",
			total:   "0.93",
		},
		{
			name:    "zero",
			sample:  Sample{},
			input:   "0",
			output:  "0",
			storage: "0",
			total:   "0",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Convert(tc.sample)
			require.NoError(t, err)
			assert.True(t, got.InputCredits.Equal(decimal.RequireFromString(tc.input)), "input %s", got.InputCredits)
			assert.True(t, got.OutputCredits.Equal(decimal.RequireFromString(tc.output)), "output %s", got.OutputCredits)
			assert.True(t, got.StorageCredits.Equal(decimal.RequireFromString(tc.storage)), "storage %s", got.StorageCredits)
			assert.True(t, got.TotalCredits.Equal(decimal.RequireFromString(tc.total)), "total %s", got.TotalCredits)
		})
	}
}

func TestConvertRejectsNegativeInput(t *testing.T) {
	for _, s := range []Sample{
		{InputTokens: -1},
		{OutputTokens: -1},
		{StorageBytes: -1},
	} {
		_, err := Convert(s)
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", s, err)
		}
	}
}

func TestConvertTotalIsSumOfRoundedParts(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		s := Sample{
			InputTokens:  rng.Int63n(1_000_000),
			OutputTokens: rng.Int63n(1_000_000),
			StorageBytes: rng.Int63n(50 * BytesPerGiB),
		}
		got, err := Convert(s)
		require.NoError(t, err)

		sum := got.InputCredits.Add(got.OutputCredits).Add(got.StorageCredits)
		require.True(t, got.TotalCredits.Equal(sum), "sample %+v", s)
		for _, part := range []decimal.Decimal{got.InputCredits, got.OutputCredits, got.StorageCredits} {
			require.True(t, part.Equal(part.RoundBank(Scale)), "part %s is not rounded", part)
			require.False(t, part.IsNegative())
		}

		again, err := Convert(s)
		require.NoError(t, err)
		require.Equal(t, got, again)
	}
}

func TestSampleAdd(t *testing.T) {
	got := Sample{InputTokens: 1, OutputTokens: 2, StorageBytes: 3}.Add(Sample{InputTokens: 10, OutputTokens: 20, StorageBytes: 30})
	assert.Equal(t, Sample{InputTokens: 11, OutputTokens: 22, StorageBytes: 33}, got)
	assert.True(t, Sample{}.IsZero())
}

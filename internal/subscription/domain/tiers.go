package domain

import (
	"fmt"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

const FreeTierCode = "free"

// DefaultTiers is the seeded catalog.
func DefaultTiers() []Tier {
	return []Tier{
		newTier(1, "Free", "0.00", 1000, "0.0015"),
		newTier(2, "Basic", "5.00", 5000, "0.0012"),
		newTier(3, "Pro", "20.00", 22000, "0.0011"),
		newTier(4, "Enterprise", "40.00", 48000, "0.0010"),
	}
}

func newTier(id int64, name, price string, quota int64, overage string) Tier {
	return Tier{
		ID:                    snowflake.ID(id),
		Code:                  slug.Make(name),
		Name:                  name,
		MonthlyPriceUSD:       decimal.RequireFromString(price),
		MonthlyCreditQuota:    quota,
		OverageCreditPriceUSD: decimal.RequireFromString(overage),
	}
}

// ValidateCatalog checks that a higher quota never comes with a worse
// overage rate and that codes are unique.
func ValidateCatalog(tiers []Tier) error {
	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonthlyCreditQuota < sorted[j].MonthlyCreditQuota
	})

	seen := make(map[string]struct{}, len(sorted))
	for i, tier := range sorted {
		if tier.Code == "" {
			return fmt.Errorf("%w: tier %q has no code", ErrInvalidTier, tier.Name)
		}
		if _, dup := seen[tier.Code]; dup {
			return fmt.Errorf("%w: duplicate code %q", ErrInvalidTier, tier.Code)
		}
		seen[tier.Code] = struct{}{}
		if tier.MonthlyCreditQuota < 0 || tier.MonthlyPriceUSD.IsNegative() || tier.OverageCreditPriceUSD.IsNegative() {
			return fmt.Errorf("%w: tier %q has negative values", ErrInvalidTier, tier.Code)
		}
		if i > 0 && tier.OverageCreditPriceUSD.GreaterThan(sorted[i-1].OverageCreditPriceUSD) {
			return fmt.Errorf("%w: tier %q overage price exceeds %q", ErrInvalidTier, tier.Code, sorted[i-1].Code)
		}
	}
	return nil
}

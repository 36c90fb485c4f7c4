package domain

import (
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/credit"
)

// Flat prices charged to users without an active subscription. They apply
// to raw resource amounts, not to credits.
var (
	UnsubscribedInputTokenPriceUSD  = decimal.RequireFromString("0.0001")
	UnsubscribedOutputTokenPriceUSD = decimal.RequireFromString("0.0003")
	UnsubscribedStorageGiBPriceUSD  = decimal.RequireFromString("0.02")
)

// CostScale is the number of decimal places kept for dollar amounts.
const CostScale int32 = 6

// PeriodTotals are the running totals of one user for one month.
type PeriodTotals struct {
	InputTokens  int64
	OutputTokens int64
	StorageBytes int64
	TotalCredits decimal.Decimal
}

type Cost struct {
	BaseUSD    decimal.Decimal `json:"base_cost_usd"`
	OverageUSD decimal.Decimal `json:"overage_cost_usd"`
}

func (c Cost) TotalUSD() decimal.Decimal {
	return c.BaseUSD.Add(c.OverageUSD)
}

// AttributeCost computes the period cost from scratch. A nil tier means the
// user has no active subscription.
func AttributeCost(tier *Tier, totals PeriodTotals) Cost {
	if tier == nil {
		overage := decimal.NewFromInt(totals.InputTokens).Mul(UnsubscribedInputTokenPriceUSD).
			Add(decimal.NewFromInt(totals.OutputTokens).Mul(UnsubscribedOutputTokenPriceUSD)).
			Add(credit.StorageGiB(totals.StorageBytes).Mul(UnsubscribedStorageGiBPriceUSD))
		return Cost{
			BaseUSD:    decimal.Zero,
			OverageUSD: overage.Round(CostScale),
		}
	}

	overage := decimal.Zero
	if excess := totals.TotalCredits.Sub(tier.Quota()); excess.IsPositive() {
		overage = excess.Mul(tier.OverageCreditPriceUSD).Round(CostScale)
	}
	return Cost{
		BaseUSD:    tier.MonthlyPriceUSD,
		OverageUSD: overage,
	}
}

// Package quota decides whether a metered action may start.
package quota

import (
	"context"
	"errors"
	"math"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/credit"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const unsubscribedTier = "none"

type GuardParam struct {
	fx.In

	Log           *zap.Logger
	Usage         usagedomain.Service
	Subscriptions subscriptiondomain.Service
	Config        *config.MeteringConfigHolder `optional:"true"`
	Metrics       *obsmetrics.Metrics          `optional:"true"`
}

type Guard struct {
	log           *zap.Logger
	usage         usagedomain.Service
	subscriptions subscriptiondomain.Service
	cfg           *config.MeteringConfigHolder
	metrics       *obsmetrics.Metrics
}

func NewGuard(p GuardParam) *Guard {
	return &Guard{
		log:           p.Log.Named("quota.guard"),
		usage:         p.Usage,
		subscriptions: p.Subscriptions,
		cfg:           p.Config,
		metrics:       p.Metrics,
	}
}

// EstimateFromInput predicts the resources of a chat turn from its prompt.
// Output tokens are the prompt size times the configured ratio, truncated.
func (g *Guard) EstimateFromInput(inputTokens int64) credit.Sample {
	ratio := g.cfg.Get().OutputEstimateRatio
	output := float64(inputTokens) * ratio
	if output > math.MaxInt64 {
		output = math.MaxInt64
	}
	return credit.Sample{
		InputTokens:  inputTokens,
		OutputTokens: int64(output),
	}
}

// Authorize compares the period-to-date total plus the estimate against
// the user's quota. Reaching the quota exactly is allowed.
func (g *Guard) Authorize(ctx context.Context, userID string, estimate credit.Sample) (Decision, error) {
	estimated, err := credit.Convert(estimate)
	if err != nil {
		return Decision{}, err
	}

	current, err := g.usage.GetCurrentUsage(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	quota, tierCode, err := g.resolveQuota(ctx, userID)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		Allowed:          true,
		TierCode:         tierCode,
		CurrentCredits:   current.TotalCredits,
		EstimatedCredits: estimated.TotalCredits,
		QuotaCredits:     quota,
	}
	if current.TotalCredits.Add(estimated.TotalCredits).GreaterThan(quota) {
		decision.Allowed = false
		decision.Reason = decision.Err().Error()
		g.log.Info("quota denied",
			zap.String("user_id", userID),
			zap.String("tier", tierCode),
			zap.String("current", current.TotalCredits.String()),
			zap.String("estimated", estimated.TotalCredits.String()),
			zap.String("quota", quota.String()),
		)
	}
	g.metrics.RecordQuotaDecision(ctx, decision.Allowed, tierCode)
	return decision, nil
}

// AuthorizeInput estimates a chat turn from its prompt and authorizes it.
func (g *Guard) AuthorizeInput(ctx context.Context, userID string, inputTokens int64) (Decision, error) {
	return g.Authorize(ctx, userID, g.EstimateFromInput(inputTokens))
}

func (g *Guard) resolveQuota(ctx context.Context, userID string) (decimal.Decimal, string, error) {
	sub, err := g.subscriptions.GetActiveSubscription(ctx, userID)
	if err != nil {
		return decimal.Zero, "", err
	}
	if sub != nil {
		tier, err := g.subscriptions.GetTier(ctx, sub.TierID)
		switch {
		case err == nil:
			return tier.Quota(), tier.Code, nil
		case !errors.Is(err, subscriptiondomain.ErrTierNotFound):
			return decimal.Zero, "", err
		}
		g.log.Warn("active subscription has unknown tier, using free quota",
			zap.String("user_id", userID),
			zap.String("tier_id", sub.TierID.String()),
		)
	}

	free, err := g.subscriptions.GetTierByCode(ctx, subscriptiondomain.FreeTierCode)
	switch {
	case err == nil:
		if sub == nil {
			return free.Quota(), unsubscribedTier, nil
		}
		return free.Quota(), free.Code, nil
	case errors.Is(err, subscriptiondomain.ErrTierNotFound):
		return decimal.NewFromInt(g.cfg.Get().DefaultQuotaCredits), unsubscribedTier, nil
	default:
		return decimal.Zero, "", err
	}
}

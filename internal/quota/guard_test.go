package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/credit"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creditmeter/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/creditmeter/internal/subscription/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	usagerepo "github.com/smallbiznis/creditmeter/internal/usage/repository"
	usageservice "github.com/smallbiznis/creditmeter/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type guardFixture struct {
	guard *Guard
	usage usagedomain.Service
	subs  subscriptiondomain.Service
}

func newGuardFixture(t *testing.T, seed bool, cfg config.MeteringConfig) guardFixture {
	t.Helper()
	conn := testutil.NewSQLite(t,
		&usagedomain.UsageRecord{},
		&usagedomain.MonthlyUsageSummary{},
		&subscriptiondomain.Tier{},
		&subscriptiondomain.UserSubscription{},
	)
	node := testutil.NewNode(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	subRepo := subscriptionrepo.Provide()

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: subRepo,
	})
	if seed {
		require.NoError(t, subs.SeedTiers(context.Background()))
	}
	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fc,
		Repo: usagerepo.Provide(), SubRepo: subRepo,
	})
	guard := NewGuard(GuardParam{
		Log:           zap.NewNop(),
		Usage:         usage,
		Subscriptions: subs,
		Config:        config.NewStaticMeteringConfigHolder(cfg),
	})
	return guardFixture{guard: guard, usage: usage, subs: subs}
}

func (f guardFixture) activate(t *testing.T, userID, ref string, tierID int64) {
	t.Helper()
	_, err := f.subs.ApplyProviderState(context.Background(), subscriptiondomain.ProviderState{
		ExternalRef: ref,
		UserID:      userID,
		TierID:      snowflake.ID(tierID),
		Status:      subscriptiondomain.SubscriptionStatusActive,
		AllowCreate: true,
	})
	require.NoError(t, err)
}

func (f guardFixture) use(t *testing.T, userID string, sample credit.Sample) {
	t.Helper()
	_, err := f.usage.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{UserID: userID, Sample: sample})
	require.NoError(t, err)
}

func TestEstimateFromInput(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())
	assert.Equal(t, credit.Sample{InputTokens: 20, OutputTokens: 50}, f.guard.EstimateFromInput(20))
	assert.Equal(t, credit.Sample{InputTokens: 3, OutputTokens: 7}, f.guard.EstimateFromInput(3))

	tuned := newGuardFixture(t, true, config.MeteringConfig{OutputEstimateRatio: 1, DefaultQuotaCredits: 1000})
	assert.Equal(t, int64(20), tuned.guard.EstimateFromInput(20).OutputTokens)
}

func TestAuthorizeDeniesOverQuota(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())
	f.activate(t, "u1", "sub_free", 1)
	f.use(t, "u1", credit.Sample{InputTokens: 950})

	decision, err := f.guard.AuthorizeInput(context.Background(), "u1", 20)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "free", decision.TierCode)
	assert.Contains(t, decision.Reason, "quota exceeded")
	assert.Equal(t, "170", decision.EstimatedCredits.String())

	err = decision.Err()
	assert.True(t, errors.Is(err, ErrQuotaExceeded))
	var exceeded *QuotaExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, "950", exceeded.Current.String())
	assert.Equal(t, "1000", exceeded.Quota.String())
}

func TestAuthorizeAllowsExactQuota(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())
	f.activate(t, "u1", "sub_free", 1)
	f.use(t, "u1", credit.Sample{InputTokens: 950})

	decision, err := f.guard.Authorize(context.Background(), "u1", credit.Sample{InputTokens: 50})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.NoError(t, decision.Err())

	// The realised turn was smaller than estimated and lands on the quota.
	f.use(t, "u1", credit.Sample{InputTokens: 20, OutputTokens: 10})

	decision, err = f.guard.Authorize(context.Background(), "u1", credit.Sample{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "zero estimate at quota is allowed")

	decision, err = f.guard.AuthorizeInput(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorizeUsesTierQuota(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())
	f.activate(t, "u1", "sub_pro", 3)
	f.use(t, "u1", credit.Sample{InputTokens: 5000})

	decision, err := f.guard.AuthorizeInput(context.Background(), "u1", 1000)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, "pro", decision.TierCode)
	assert.Equal(t, "22000", decision.QuotaCredits.String())
}

func TestAuthorizeUnsubscribedUsesFreeTierQuota(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())

	decision, err := f.guard.Authorize(context.Background(), "u1", credit.Sample{InputTokens: 1000})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, unsubscribedTier, decision.TierCode)
	assert.Equal(t, "1000", decision.QuotaCredits.String())

	decision, err = f.guard.Authorize(context.Background(), "u1", credit.Sample{InputTokens: 1001})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestAuthorizeFallsBackToConfiguredQuota(t *testing.T) {
	f := newGuardFixture(t, false, config.MeteringConfig{OutputEstimateRatio: 2.5, DefaultQuotaCredits: 300})

	decision, err := f.guard.Authorize(context.Background(), "u1", credit.Sample{InputTokens: 301})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "300", decision.QuotaCredits.String())
}

func TestAuthorizeRejectsNegativeEstimate(t *testing.T) {
	f := newGuardFixture(t, true, config.DefaultMeteringConfig())
	_, err := f.guard.Authorize(context.Background(), "u1", credit.Sample{OutputTokens: -5})
	assert.ErrorIs(t, err, credit.ErrInvalidInput)
}

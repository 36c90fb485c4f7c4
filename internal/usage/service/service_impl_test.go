package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/credit"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creditmeter/internal/subscription/repository"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type usageFixture struct {
	db      *gorm.DB
	svc     usagedomain.Service
	subRepo subscriptiondomain.Repository
	clock   *clock.FakeClock
	node    *snowflake.Node
}

func setupUsageService(t *testing.T) usageFixture {
	t.Helper()
	conn := testutil.NewSQLite(t,
		&usagedomain.UsageRecord{},
		&usagedomain.MonthlyUsageSummary{},
		&subscriptiondomain.Tier{},
		&subscriptiondomain.UserSubscription{},
	)
	subRepo := subscriptionrepo.Provide()
	for _, tier := range subscriptiondomain.DefaultTiers() {
		tier := tier
		tier.CreatedAt = time.Now().UTC()
		tier.UpdatedAt = tier.CreatedAt
		require.NoError(t, subRepo.UpsertTier(context.Background(), conn, &tier))
	}

	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	node := testutil.NewNode(t)
	svc := NewService(ServiceParam{
		DB:      conn,
		Log:     zap.NewNop(),
		GenID:   node,
		Clock:   fc,
		Repo:    repository.Provide(),
		SubRepo: subRepo,
	})
	return usageFixture{db: conn, svc: svc, subRepo: subRepo, clock: fc, node: node}
}

func (f usageFixture) subscribe(t *testing.T, userID string, tierID int64) {
	t.Helper()
	now := f.clock.Now()
	err := f.subRepo.Insert(context.Background(), f.db, &subscriptiondomain.UserSubscription{
		ID:        f.node.Generate(),
		UserID:    userID,
		TierID:    snowflake.ID(tierID),
		Status:    subscriptiondomain.SubscriptionStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
	require.NoError(t, err)
}

func (f usageFixture) record(t *testing.T, userID string, sample credit.Sample) *usagedomain.UsageRecord {
	t.Helper()
	rec, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		UserID: userID,
		Sample: sample,
	})
	require.NoError(t, err)
	return rec
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s: want %s got %s", msg, want, got)
}

func TestRecordUsageWithoutSubscription(t *testing.T) {
	f := setupUsageService(t)

	rec := f.record(t, "u1", credit.Sample{InputTokens: 20, OutputTokens: 10})
	assertDecimal(t, "50", rec.CreditsUsed, "credits used")

	summary, err := f.svc.GetMonthlySummary(context.Background(), "u1", 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(20), summary.InputTokens)
	assert.Equal(t, int64(10), summary.OutputTokens)
	assertDecimal(t, "20", summary.InputCredits, "input credits")
	assertDecimal(t, "30", summary.OutputCredits, "output credits")
	assertDecimal(t, "50", summary.TotalCredits, "total credits")
	// 20*0.0001 + 10*0.0003
	assertDecimal(t, "0", summary.BaseCostUSD, "base cost")
	assertDecimal(t, "0.005", summary.OverageCostUSD, "overage cost")
}

func TestRecordUsageReachesQuotaExactly(t *testing.T) {
	f := setupUsageService(t)
	f.subscribe(t, "u1", 1)

	f.record(t, "u1", credit.Sample{InputTokens: 950})
	f.record(t, "u1", credit.Sample{InputTokens: 20, OutputTokens: 10})

	usage, err := f.svc.GetCurrentUsage(context.Background(), "u1")
	require.NoError(t, err)
	assertDecimal(t, "1000", usage.TotalCredits, "total credits")
	assertDecimal(t, "0", usage.OverageCostUSD, "overage at quota")

	f.record(t, "u1", credit.Sample{InputTokens: 10})
	usage, err = f.svc.GetCurrentUsage(context.Background(), "u1")
	require.NoError(t, err)
	assertDecimal(t, "1010", usage.TotalCredits, "total credits")
	// 10 credits over the Free quota at 0.0015
	assertDecimal(t, "0.015", usage.OverageCostUSD, "overage")
	assertDecimal(t, "0.015", usage.CostUSD, "cost")
}

func TestRecordUsageChargesTierBasePrice(t *testing.T) {
	f := setupUsageService(t)
	f.subscribe(t, "u1", 3)

	f.record(t, "u1", credit.Sample{InputTokens: 1000, OutputTokens: 7000})

	usage, err := f.svc.GetCurrentUsage(context.Background(), "u1")
	require.NoError(t, err)
	assertDecimal(t, "22000", usage.TotalCredits, "total")
	assertDecimal(t, "20", usage.BaseCostUSD, "base")
	assertDecimal(t, "0", usage.OverageCostUSD, "overage")
	assertDecimal(t, "20", usage.CostUSD, "cost")
}

func TestConcurrentRecordUsageLosesNothing(t *testing.T) {
	f := setupUsageService(t)

	const writers = 24
	var (
		wg   sync.WaitGroup
		want = decimal.Zero
	)
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		sample := credit.Sample{InputTokens: int64(i), OutputTokens: int64(i % 5), StorageBytes: int64(i) * 10_000_000}
		b, err := credit.Convert(sample)
		require.NoError(t, err)
		want = want.Add(b.TotalCredits)

		wg.Add(1)
		go func(sample credit.Sample) {
			defer wg.Done()
			_, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
				UserID: "u1",
				Sample: sample,
			})
			errs <- err
		}(sample)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	summary, err := f.svc.GetMonthlySummary(context.Background(), "u1", 2026, 3)
	require.NoError(t, err)
	assertDecimal(t, want.String(), summary.TotalCredits, "summary total")
	assert.Equal(t, int64(writers), summary.RecordCount)

	var records []usagedomain.UsageRecord
	require.NoError(t, f.db.Find(&records, "user_id = ?", "u1").Error)
	require.Len(t, records, writers)
	sum := decimal.Zero
	for _, rec := range records {
		sum = sum.Add(rec.CreditsUsed.Round(credit.Scale))
	}
	assertDecimal(t, sum.String(), summary.TotalCredits, "records vs summary")
}

func TestRecordUsageUsesWallClockMonth(t *testing.T) {
	f := setupUsageService(t)

	f.record(t, "u1", credit.Sample{InputTokens: 100})
	f.clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	f.record(t, "u1", credit.Sample{InputTokens: 7})

	march, err := f.svc.GetMonthlySummary(context.Background(), "u1", 2026, 3)
	require.NoError(t, err)
	assertDecimal(t, "100", march.TotalCredits, "march")

	current, err := f.svc.GetCurrentUsage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, current.Month)
	assertDecimal(t, "7", current.TotalCredits, "april")
}

func TestRecordUsageIdempotencyKey(t *testing.T) {
	f := setupUsageService(t)
	req := usagedomain.RecordUsageRequest{
		UserID:         "u1",
		MessageID:      "msg_1",
		IdempotencyKey: "msg_1",
		Sample:         credit.Sample{InputTokens: 5, OutputTokens: 5},
		Metadata:       map[string]any{"model": "assistant"},
	}

	first, err := f.svc.RecordUsage(context.Background(), req)
	require.NoError(t, err)
	second, err := f.svc.RecordUsage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	usage, err := f.svc.GetCurrentUsage(context.Background(), "u1")
	require.NoError(t, err)
	assertDecimal(t, "20", usage.TotalCredits, "counted once")
}

func TestRecordUsageRejectsInvalidInput(t *testing.T) {
	f := setupUsageService(t)

	_, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		UserID: "u1",
		Sample: credit.Sample{InputTokens: -1},
	})
	assert.ErrorIs(t, err, credit.ErrInvalidInput)

	_, err = f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		Sample: credit.Sample{InputTokens: 1},
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidUser)

	var count int64
	require.NoError(t, f.db.Model(&usagedomain.UsageRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestGetCurrentUsageDefaultsToZero(t *testing.T) {
	f := setupUsageService(t)

	usage, err := f.svc.GetCurrentUsage(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 2026, usage.Year)
	assert.Equal(t, 3, usage.Month)
	assert.True(t, usage.TotalCredits.IsZero())
	assert.True(t, usage.CostUSD.IsZero())
}

func TestGetMonthlySummaryErrors(t *testing.T) {
	f := setupUsageService(t)

	_, err := f.svc.GetMonthlySummary(context.Background(), "u1", 2026, 2)
	assert.ErrorIs(t, err, usagedomain.ErrSummaryNotFound)

	_, err = f.svc.GetMonthlySummary(context.Background(), "u1", 2026, 13)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidPeriod)
}

func TestRecordUsageStorageTimeout(t *testing.T) {
	f := setupUsageService(t)
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.svc.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		UserID: "u1",
		Sample: credit.Sample{InputTokens: 1},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, usagedomain.ErrPersistence), "got %v", err)
}

func TestSummarizePeriod(t *testing.T) {
	f := setupUsageService(t)
	f.subscribe(t, "paid", 2)

	f.record(t, "free", credit.Sample{InputTokens: 100})
	f.record(t, "paid", credit.Sample{InputTokens: 300})

	summary, err := f.svc.SummarizePeriod(context.Background(), 2026, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.TotalUsers)
	assertDecimal(t, "400", summary.TotalCredits, "credits")
	// Basic base fee 5 plus 100 raw input tokens at 0.0001
	assertDecimal(t, "5.01", summary.TotalCostUSD, "cost")
	assertDecimal(t, "200", summary.AverageCreditsPerUser, "average credits")
	assertDecimal(t, "2.505", summary.AverageCostPerUser, "average cost")

	empty, err := f.svc.SummarizePeriod(context.Background(), 2025, 1)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalUsers)
	assert.True(t, empty.AverageCostPerUser.IsZero())
}

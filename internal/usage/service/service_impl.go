package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/credit"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    usagedomain.Repository
	SubRepo subscriptiondomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
	Cfg     config.Config       `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	subRepo subscriptiondomain.Repository
	metrics *obsmetrics.Metrics
	timeout time.Duration
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("usage.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		subRepo: p.SubRepo,
		metrics: p.Metrics,
		timeout: p.Cfg.StorageTimeout,
	}
}

// RecordUsage appends a record and folds it into the current month's
// summary. Both writes and the cost refresh commit in one transaction.
func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}
	breakdown, err := credit.Convert(req.Sample)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		UserID:         userID,
		ChatID:         optionalString(req.ChatID),
		MessageID:      optionalString(req.MessageID),
		IdempotencyKey: optionalString(req.IdempotencyKey),
		InputTokens:    req.Sample.InputTokens,
		OutputTokens:   req.Sample.OutputTokens,
		StorageBytes:   req.Sample.StorageBytes,
		CreditsUsed:    breakdown.TotalCredits,
		CreatedAt:      now,
	}
	if req.Metadata != nil {
		record.Metadata = datatypes.JSONMap(req.Metadata)
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		result    = record
		duplicate bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertRecord(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindRecordByIdempotencyKey(ctx, tx, userID, *record.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing == nil {
				return fmt.Errorf("idempotency key %q conflicted but no record found", *record.IdempotencyKey)
			}
			result = existing
			duplicate = true
			return nil
		}

		delta := usagedomain.SummaryDelta{
			UserID:    userID,
			Year:      now.Year(),
			Month:     int(now.Month()),
			Sample:    req.Sample,
			Breakdown: breakdown,
			At:        now,
		}
		if err := s.repo.IncrementSummary(ctx, tx, delta, s.genID.Generate()); err != nil {
			return err
		}

		summary, err := s.repo.FindSummary(ctx, tx, userID, delta.Year, delta.Month, true)
		if err != nil {
			return err
		}
		if summary == nil {
			return errors.New("summary missing after increment")
		}
		normalizeSummary(summary)

		tier, err := s.activeTier(ctx, tx, userID)
		if err != nil {
			return err
		}
		cost := subscriptiondomain.AttributeCost(tier, subscriptiondomain.PeriodTotals{
			InputTokens:  summary.InputTokens,
			OutputTokens: summary.OutputTokens,
			StorageBytes: summary.StorageBytes,
			TotalCredits: summary.TotalCredits,
		})
		return s.repo.UpdateSummaryCost(ctx, tx, summary.ID, cost.BaseUSD, cost.OverageUSD, now)
	})
	if err != nil {
		return nil, s.storageErr("record usage", err)
	}

	if duplicate {
		s.log.Debug("usage record replayed",
			zap.String("user_id", userID),
			zap.String("record_id", result.ID.String()),
		)
		return result, nil
	}

	credits, _ := breakdown.TotalCredits.Float64()
	s.metrics.RecordUsage(ctx, credits)
	s.log.Debug("usage recorded",
		zap.String("user_id", userID),
		zap.String("record_id", record.ID.String()),
		zap.String("credits", breakdown.TotalCredits.StringFixed(credit.Scale)),
	)
	return record, nil
}

// activeTier returns nil when the user has no active subscription.
func (s *Service) activeTier(ctx context.Context, tx *gorm.DB, userID string) (*subscriptiondomain.Tier, error) {
	sub, err := s.subRepo.FindActiveByUserID(ctx, tx, userID)
	if err != nil || sub == nil {
		return nil, err
	}
	tier, err := s.subRepo.FindTierByID(ctx, tx, sub.TierID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		s.log.Warn("active subscription references unknown tier",
			zap.String("user_id", userID),
			zap.String("tier_id", sub.TierID.String()),
		)
	}
	return tier, nil
}

func (s *Service) GetMonthlySummary(ctx context.Context, userID string, year, month int) (*usagedomain.MonthlyUsageSummary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, usagedomain.ErrInvalidUser
	}
	if err := validatePeriod(year, month); err != nil {
		return nil, err
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.repo.FindSummary(ctx, s.db, userID, year, month, false)
	if err != nil {
		return nil, s.storageErr("get monthly summary", err)
	}
	if summary == nil {
		return nil, usagedomain.ErrSummaryNotFound
	}
	normalizeSummary(summary)
	return summary, nil
}

// GetCurrentUsage never fails for a user without usage; it returns zeros.
func (s *Service) GetCurrentUsage(ctx context.Context, userID string) (usagedomain.CurrentUsage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.CurrentUsage{}, usagedomain.ErrInvalidUser
	}
	now := s.clock.Now().UTC()
	usage := usagedomain.CurrentUsage{
		UserID:         userID,
		Year:           now.Year(),
		Month:          int(now.Month()),
		TotalCredits:   decimal.Zero,
		CostUSD:        decimal.Zero,
		BaseCostUSD:    decimal.Zero,
		OverageCostUSD: decimal.Zero,
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	summary, err := s.repo.FindSummary(ctx, s.db, userID, usage.Year, usage.Month, false)
	if err != nil {
		return usagedomain.CurrentUsage{}, s.storageErr("get current usage", err)
	}
	if summary == nil {
		return usage, nil
	}
	normalizeSummary(summary)

	usage.InputTokens = summary.InputTokens
	usage.OutputTokens = summary.OutputTokens
	usage.StorageBytes = summary.StorageBytes
	usage.TotalCredits = summary.TotalCredits
	usage.BaseCostUSD = summary.BaseCostUSD
	usage.OverageCostUSD = summary.OverageCostUSD
	usage.CostUSD = summary.CostUSD()
	return usage, nil
}

func (s *Service) SummarizePeriod(ctx context.Context, year, month int) (usagedomain.PeriodSummary, error) {
	if err := validatePeriod(year, month); err != nil {
		return usagedomain.PeriodSummary{}, err
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	agg, err := s.repo.AggregatePeriod(ctx, s.db, year, month)
	if err != nil {
		return usagedomain.PeriodSummary{}, s.storageErr("summarize period", err)
	}

	totalCredits := agg.TotalCredits.Round(credit.Scale)
	totalCost := agg.BaseCost.Add(agg.OverageCost).Round(subscriptiondomain.CostScale)
	summary := usagedomain.PeriodSummary{
		Year:                  year,
		Month:                 month,
		TotalUsers:            agg.Users,
		TotalCredits:          totalCredits,
		TotalCostUSD:          totalCost,
		AverageCreditsPerUser: decimal.Zero,
		AverageCostPerUser:    decimal.Zero,
	}
	if agg.Users > 0 {
		users := decimal.NewFromInt(agg.Users)
		summary.AverageCreditsPerUser = totalCredits.Div(users).Round(credit.Scale)
		summary.AverageCostPerUser = totalCost.Div(users).Round(subscriptiondomain.CostScale)
	}
	return summary, nil
}

func (s *Service) storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, usagedomain.ErrInvalidUser),
		errors.Is(err, usagedomain.ErrInvalidPeriod),
		errors.Is(err, credit.ErrInvalidInput):
		return err
	case db.IsTimeout(err):
		s.log.Warn("storage timeout", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %w", op, usagedomain.ErrStorageTimeout, usagedomain.ErrPersistence)
	default:
		s.log.Error("usage storage failure", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w: %v", op, usagedomain.ErrPersistence, err)
	}
}

func validatePeriod(year, month int) error {
	if year < 1970 || year > 9999 || month < 1 || month > 12 {
		return usagedomain.ErrInvalidPeriod
	}
	return nil
}

// normalizeSummary strips float noise some drivers add to numeric columns.
func normalizeSummary(s *usagedomain.MonthlyUsageSummary) {
	s.InputCredits = s.InputCredits.Round(credit.Scale)
	s.OutputCredits = s.OutputCredits.Round(credit.Scale)
	s.StorageCredits = s.StorageCredits.Round(credit.Scale)
	s.TotalCredits = s.TotalCredits.Round(credit.Scale)
	s.BaseCostUSD = s.BaseCostUSD.Round(subscriptiondomain.CostScale)
	s.OverageCostUSD = s.OverageCostUSD.Round(subscriptiondomain.CostScale)
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// Package metering is the entry point chat flows use to gate and bill a
// metered action.
package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallbiznis/creditmeter/internal/credit"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	"github.com/smallbiznis/creditmeter/internal/quota"
	"github.com/smallbiznis/creditmeter/internal/ratelimit"
	usagedomain "github.com/smallbiznis/creditmeter/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrRateLimited        = errors.New("rate_limited")
	ErrLimiterUnavailable = errors.New("rate_limiter_unavailable")
)

// RateLimitError carries the wait suggested to a throttled caller.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Guard   *quota.Guard
	Usage   usagedomain.Service
	Limiter *ratelimit.MeteringLimiter `optional:"true"`
	Metrics *obsmetrics.Metrics        `optional:"true"`
}

type Engine struct {
	log     *zap.Logger
	guard   *quota.Guard
	usage   usagedomain.Service
	limiter *ratelimit.MeteringLimiter
	metrics *obsmetrics.Metrics
}

func NewEngine(p Params) *Engine {
	return &Engine{
		log:     p.Log.Named("metering.engine"),
		guard:   p.Guard,
		usage:   p.Usage,
		limiter: p.Limiter,
		metrics: p.Metrics,
	}
}

// Authorize is the pre-flight check. A denial is returned as a Decision,
// not an error.
func (e *Engine) Authorize(ctx context.Context, userID string, estimate credit.Sample) (quota.Decision, error) {
	if err := e.throttle(ctx, userID); err != nil {
		return quota.Decision{}, err
	}
	return e.guard.Authorize(ctx, userID, estimate)
}

// AuthorizeInput estimates a chat turn from its prompt size.
func (e *Engine) AuthorizeInput(ctx context.Context, userID string, inputTokens int64) (quota.Decision, error) {
	if err := e.throttle(ctx, userID); err != nil {
		return quota.Decision{}, err
	}
	return e.guard.AuthorizeInput(ctx, userID, inputTokens)
}

func (e *Engine) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	if err := e.throttle(ctx, req.UserID); err != nil {
		return nil, err
	}
	return e.usage.RecordUsage(ctx, req)
}

// RecordDeliveredUsage bills an action whose result already reached the
// user. Failures are logged and counted as billing gaps, never returned.
// The caller's cancellation is detached; the storage timeout still applies.
func (e *Engine) RecordDeliveredUsage(ctx context.Context, req usagedomain.RecordUsageRequest) {
	record, err := e.usage.RecordUsage(context.WithoutCancel(ctx), req)
	if err == nil {
		e.log.Debug("delivered usage recorded",
			zap.String("user_id", req.UserID),
			zap.String("record_id", record.ID.String()),
		)
		return
	}

	reason := gapReason(err)
	e.log.Error("usage not recorded after delivery",
		zap.String("user_id", req.UserID),
		zap.String("chat_id", req.ChatID),
		zap.String("message_id", req.MessageID),
		zap.Int64("input_tokens", req.Sample.InputTokens),
		zap.Int64("output_tokens", req.Sample.OutputTokens),
		zap.Int64("storage_bytes", req.Sample.StorageBytes),
		zap.String("reason", reason),
		zap.Error(err),
	)
	e.metrics.RecordBillingGap(ctx, reason)
}

func (e *Engine) GetCurrentUsage(ctx context.Context, userID string) (usagedomain.CurrentUsage, error) {
	return e.usage.GetCurrentUsage(ctx, userID)
}

func (e *Engine) GetMonthlyUsage(ctx context.Context, userID string, year, month int) (*usagedomain.MonthlyUsageSummary, error) {
	return e.usage.GetMonthlySummary(ctx, userID, year, month)
}

func (e *Engine) throttle(ctx context.Context, userID string) error {
	if !e.limiter.Enabled() {
		return nil
	}
	res, err := e.limiter.AllowUser(ctx, userID)
	if err != nil {
		e.log.Warn("metering rate limit check failed", zap.String("user_id", userID), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if !res.Allowed {
		e.log.Info("metering rate limit exceeded", zap.String("user_id", userID))
		return &RateLimitError{RetryAfter: res.RetryAfter}
	}
	return nil
}

func gapReason(err error) string {
	switch {
	case errors.Is(err, usagedomain.ErrStorageTimeout):
		return "storage_timeout"
	case errors.Is(err, credit.ErrInvalidInput), errors.Is(err, usagedomain.ErrInvalidUser):
		return "invalid_input"
	case errors.Is(err, usagedomain.ErrPersistence):
		return "persistence"
	default:
		return "unknown"
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/creditmeter/internal/config"
)

const keyMeteringUser = "creditmeter:metering:user:%s"

// MeteringLimiter throttles authorize and record calls per user. A nil
// limiter allows everything.
type MeteringLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewMeteringLimiter(cfg config.Config, client *redis.Client) (*MeteringLimiter, error) {
	if !cfg.RateLimit.Enabled {
		return nil, nil
	}
	if client == nil {
		return nil, errors.New("rate limit requires REDIS_ADDR")
	}
	if cfg.RateLimit.MeteringRate <= 0 || cfg.RateLimit.MeteringBurst <= 0 {
		return nil, errors.New("metering rate limit must be positive")
	}
	return &MeteringLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.RateLimit.MeteringRate,
		burst:  cfg.RateLimit.MeteringBurst,
	}, nil
}

func (l *MeteringLimiter) Enabled() bool {
	return l != nil
}

func (l *MeteringLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyMeteringUser, strings.TrimSpace(userID)), l.rate, l.burst)
}

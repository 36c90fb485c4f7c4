package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository
	Cfg   config.Config `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    subscriptiondomain.Repository
	timeout time.Duration
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("subscription.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		timeout: p.Cfg.StorageTimeout,
	}
}

func (s *Service) ListTiers(ctx context.Context) ([]subscriptiondomain.Tier, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	tiers, err := s.repo.ListTiers(ctx, s.db)
	if err != nil {
		return nil, s.storageErr("list tiers", err)
	}
	return tiers, nil
}

func (s *Service) GetTier(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Tier, error) {
	if id == 0 {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	tier, err := s.repo.FindTierByID(ctx, s.db, id)
	if err != nil {
		return nil, s.storageErr("get tier", err)
	}
	if tier == nil {
		return nil, subscriptiondomain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) GetTierByCode(ctx context.Context, code string) (*subscriptiondomain.Tier, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	tier, err := s.repo.FindTierByCode(ctx, s.db, code)
	if err != nil {
		return nil, s.storageErr("get tier by code", err)
	}
	if tier == nil {
		return nil, subscriptiondomain.ErrTierNotFound
	}
	return tier, nil
}

// SeedTiers inserts or refreshes the default catalog.
func (s *Service) SeedTiers(ctx context.Context) error {
	tiers := subscriptiondomain.DefaultTiers()
	if err := subscriptiondomain.ValidateCatalog(tiers); err != nil {
		return err
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tiers {
			tiers[i].CreatedAt = now
			tiers[i].UpdatedAt = now
			if err := s.repo.UpsertTier(ctx, tx, &tiers[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.storageErr("seed tiers", err)
	}
	s.log.Info("subscription tiers seeded", zap.Int("count", len(tiers)))
	return nil
}

func (s *Service) GetActiveSubscription(ctx context.Context, userID string) (*subscriptiondomain.UserSubscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	sub, err := s.repo.FindActiveByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, s.storageErr("get active subscription", err)
	}
	return sub, nil
}

// CreateSubscription replaces any active subscription of the user with a new
// incomplete one. Both writes commit together so readers never observe two
// active rows, nor none while the switch is in flight.
func (s *Service) CreateSubscription(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.UserSubscription, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	if req.TierID == 0 {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	ref := strings.TrimSpace(req.ExternalRef)

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var created *subscriptiondomain.UserSubscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tier, err := s.repo.FindTierByID(ctx, tx, req.TierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return subscriptiondomain.ErrTierNotFound
		}

		if ref != "" {
			// The provider may already have announced this subscription.
			existing, err := s.repo.FindByExternalRefForUpdate(ctx, tx, ref)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.UserID != userID {
					return subscriptiondomain.ErrInvalidExternalRef
				}
				created = existing
				return nil
			}
		}

		now := s.clock.Now()
		if _, err := s.repo.CancelActiveByUserID(ctx, tx, userID, 0, now); err != nil {
			return err
		}

		sub := &subscriptiondomain.UserSubscription{
			ID:        s.genID.Generate(),
			UserID:    userID,
			TierID:    tier.ID,
			Status:    subscriptiondomain.SubscriptionStatusIncomplete,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if ref != "" {
			sub.ExternalSubscriptionRef = &ref
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return err
		}
		created = sub
		return nil
	})
	if err != nil {
		return nil, s.storageErr("create subscription", err)
	}

	s.log.Info("subscription created",
		zap.String("user_id", userID),
		zap.String("subscription_id", created.ID.String()),
		zap.String("status", string(created.Status)),
	)
	return created, nil
}

func (s *Service) CancelSubscription(ctx context.Context, userID string) (*subscriptiondomain.UserSubscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var cancelled *subscriptiondomain.UserSubscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindActiveByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		sub.Status = subscriptiondomain.SubscriptionStatusCancelled
		sub.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateState(ctx, tx, sub); err != nil {
			return err
		}
		cancelled = sub
		return nil
	})
	if err != nil {
		return nil, s.storageErr("cancel subscription", err)
	}
	return cancelled, nil
}

// ApplyProviderState reconciles one provider-side subscription onto the
// local row that carries the same external reference.
func (s *Service) ApplyProviderState(ctx context.Context, state subscriptiondomain.ProviderState) (subscriptiondomain.ApplyResult, error) {
	state.ExternalRef = strings.TrimSpace(state.ExternalRef)
	state.UserID = strings.TrimSpace(state.UserID)
	if state.ExternalRef == "" {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidExternalRef
	}
	if !state.Status.Valid() {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidStatus
	}
	state.PeriodStart = normalizeTime(state.PeriodStart)
	state.PeriodEnd = normalizeTime(state.PeriodEnd)

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var result subscriptiondomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByExternalRefForUpdate(ctx, tx, state.ExternalRef)
		if err != nil {
			return err
		}
		if existing == nil {
			result, err = s.insertFromProvider(ctx, tx, state)
			return err
		}
		result, err = s.updateFromProvider(ctx, tx, existing, state)
		return err
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, s.storageErr("apply provider state", err)
	}
	return result, nil
}

func (s *Service) insertFromProvider(ctx context.Context, tx *gorm.DB, state subscriptiondomain.ProviderState) (subscriptiondomain.ApplyResult, error) {
	if !state.AllowCreate {
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.ApplyOutcomeIgnored}, nil
	}
	if state.UserID == "" {
		return subscriptiondomain.ApplyResult{}, subscriptiondomain.ErrInvalidUser
	}
	tier, err := s.resolveTier(ctx, tx, state.TierID)
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	now := s.clock.Now()
	ref := state.ExternalRef
	sub := &subscriptiondomain.UserSubscription{
		ID:                      s.genID.Generate(),
		UserID:                  state.UserID,
		TierID:                  tier.ID,
		Status:                  state.Status,
		ExternalSubscriptionRef: &ref,
		PeriodStart:             state.PeriodStart,
		PeriodEnd:               state.PeriodEnd,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	var cancelled int64
	if sub.Status == subscriptiondomain.SubscriptionStatusActive {
		if cancelled, err = s.repo.CancelActiveByUserID(ctx, tx, sub.UserID, sub.ID, now); err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
	}
	if err := s.repo.Insert(ctx, tx, sub); err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	return subscriptiondomain.ApplyResult{
		Outcome:      subscriptiondomain.ApplyOutcomeCreated,
		Subscription: sub,
		Cancelled:    cancelled,
	}, nil
}

func (s *Service) updateFromProvider(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.UserSubscription, state subscriptiondomain.ProviderState) (subscriptiondomain.ApplyResult, error) {
	// cancelled is terminal; late events must not revive the row.
	if sub.Status == subscriptiondomain.SubscriptionStatusCancelled &&
		state.Status != subscriptiondomain.SubscriptionStatusCancelled {
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.ApplyOutcomeIgnored, Subscription: sub}, nil
	}

	tierID := sub.TierID
	if state.TierID != 0 && state.TierID != sub.TierID {
		tier, err := s.resolveTier(ctx, tx, state.TierID)
		if err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
		tierID = tier.ID
	}
	periodStart := sub.PeriodStart
	if state.PeriodStart != nil {
		periodStart = state.PeriodStart
	}
	periodEnd := sub.PeriodEnd
	if state.PeriodEnd != nil {
		periodEnd = state.PeriodEnd
	}

	if sub.Status == state.Status &&
		tierID == sub.TierID &&
		sameTime(normalizeTime(sub.PeriodEnd), periodEnd) {
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.ApplyOutcomeUnchanged, Subscription: sub}, nil
	}

	now := s.clock.Now()
	var (
		cancelled int64
		err       error
	)
	if state.Status == subscriptiondomain.SubscriptionStatusActive {
		if cancelled, err = s.repo.CancelActiveByUserID(ctx, tx, sub.UserID, sub.ID, now); err != nil {
			return subscriptiondomain.ApplyResult{}, err
		}
	}

	sub.TierID = tierID
	sub.Status = state.Status
	sub.PeriodStart = periodStart
	sub.PeriodEnd = periodEnd
	sub.UpdatedAt = now
	if err := s.repo.UpdateState(ctx, tx, sub); err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}
	return subscriptiondomain.ApplyResult{
		Outcome:      subscriptiondomain.ApplyOutcomeUpdated,
		Subscription: sub,
		Cancelled:    cancelled,
	}, nil
}

// resolveTier falls back to the Free tier when the provider omitted one.
func (s *Service) resolveTier(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Tier, error) {
	var (
		tier *subscriptiondomain.Tier
		err  error
	)
	if id != 0 {
		tier, err = s.repo.FindTierByID(ctx, tx, id)
	} else {
		tier, err = s.repo.FindTierByCode(ctx, tx, subscriptiondomain.FreeTierCode)
	}
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, subscriptiondomain.ErrTierNotFound
	}
	return tier, nil
}

func (s *Service) storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDomainErr(err):
		return err
	case db.IsTimeout(err):
		s.log.Warn("storage timeout", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, subscriptiondomain.ErrStorageTimeout)
	case db.IsDuplicateKeyErr(err):
		s.log.Warn("concurrent subscription write", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%s: %w", op, subscriptiondomain.ErrWriteConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isDomainErr(err error) bool {
	for _, target := range []error{
		subscriptiondomain.ErrInvalidUser,
		subscriptiondomain.ErrInvalidTier,
		subscriptiondomain.ErrInvalidStatus,
		subscriptiondomain.ErrInvalidExternalRef,
		subscriptiondomain.ErrTierNotFound,
		subscriptiondomain.ErrSubscriptionNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC().Truncate(time.Second)
	return &v
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

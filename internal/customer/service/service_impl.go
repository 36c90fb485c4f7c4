package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	"github.com/smallbiznis/creditmeter/internal/customer/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Cfg   config.Config `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	timeout time.Duration
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("customer.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		timeout: p.Cfg.StorageTimeout,
	}
}

func (s *Service) Ensure(ctx context.Context, req domain.EnsureCustomerRequest) (*domain.BillingCustomer, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	email := strings.TrimSpace(req.Email)
	if email != "" && !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	existing, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	customer := &domain.BillingCustomer{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, customer); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Lost a race with a concurrent Ensure for the same user.
			return s.repo.FindByUserID(ctx, s.db, userID)
		}
		return nil, err
	}
	return customer, nil
}

func (s *Service) GetByUserID(ctx context.Context, userID string) (*domain.BillingCustomer, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	customer, err := s.repo.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return nil, domain.ErrNotFound
	}
	return customer, nil
}

func (s *Service) ResolveUserID(ctx context.Context, externalRef string) (string, error) {
	externalRef = strings.TrimSpace(externalRef)
	if externalRef == "" {
		return "", domain.ErrInvalidExternalRef
	}
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	customer, err := s.repo.FindByExternalRef(ctx, s.db, externalRef)
	if err != nil {
		return "", err
	}
	if customer == nil {
		return "", domain.ErrNotFound
	}
	return customer.UserID, nil
}

func (s *Service) AttachExternalRef(ctx context.Context, userID, externalRef string) (*domain.BillingCustomer, error) {
	userID = strings.TrimSpace(userID)
	externalRef = strings.TrimSpace(externalRef)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	if externalRef == "" {
		return nil, domain.ErrInvalidExternalRef
	}

	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()

	var attached *domain.BillingCustomer
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owner, err := s.repo.FindByExternalRef(ctx, tx, externalRef)
		if err != nil {
			return err
		}
		if owner != nil && owner.UserID != userID {
			return domain.ErrExternalRefInUse
		}

		customer, err := s.repo.FindByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if customer == nil {
			return domain.ErrNotFound
		}
		if customer.ExternalRef() == externalRef {
			attached = customer
			return nil
		}

		customer.ExternalCustomerRef = &externalRef
		customer.UpdatedAt = s.clock.Now()
		if err := s.repo.UpdateExternalRef(ctx, tx, customer); err != nil {
			return err
		}
		attached = customer
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("billing customer linked",
		zap.String("user_id", userID),
		zap.String("external_customer_ref", externalRef),
	)
	return attached, nil
}

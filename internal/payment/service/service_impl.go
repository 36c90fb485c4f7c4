package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	customerdomain "github.com/smallbiznis/creditmeter/internal/customer/domain"
	obsmetrics "github.com/smallbiznis/creditmeter/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	"github.com/smallbiznis/creditmeter/internal/ratelimit"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"github.com/smallbiznis/creditmeter/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          paymentdomain.Repository
	Subscriptions subscriptiondomain.Service
	Customers     customerdomain.Service
	Gateway       paymentdomain.Gateway `optional:"true"`
	Locker        *ratelimit.Locker     `optional:"true"`
	Cfg           config.Config         `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          paymentdomain.Repository
	subscriptions subscriptiondomain.Service
	customers     customerdomain.Service
	gateway       paymentdomain.Gateway
	locker        *ratelimit.Locker
	refLocks      *refLocks
	priceIDs      map[string]string
	tierByPrice   map[string]string
	timeout       time.Duration
	obsMetrics    *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	priceIDs := make(map[string]string, len(p.Cfg.Stripe.PriceIDs))
	tierByPrice := make(map[string]string, len(p.Cfg.Stripe.PriceIDs))
	for code, price := range p.Cfg.Stripe.PriceIDs {
		code = strings.ToLower(strings.TrimSpace(code))
		priceIDs[code] = price
		tierByPrice[price] = code
	}

	return &Service{
		db:            p.DB,
		log:           p.Log.Named("payment.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		subscriptions: p.Subscriptions,
		customers:     p.Customers,
		gateway:       p.Gateway,
		locker:        p.Locker,
		refLocks:      newRefLocks(),
		priceIDs:      priceIDs,
		tierByPrice:   tierByPrice,
		timeout:       p.Cfg.StorageTimeout,
		obsMetrics:    p.ObsMetrics,
	}
}

// ProcessEvent logs a verified event and reconciles it at most once per
// provider event id. Events dropped for an unknown customer are marked
// processed and reported with ErrUnknownCustomer.
func (s *Service) ProcessEvent(ctx context.Context, event *paymentdomain.SubscriptionEvent) error {
	if err := validateEvent(event); err != nil {
		return err
	}
	if !json.Valid(event.RawPayload) {
		return paymentdomain.ErrInvalidPayload
	}

	now := s.clock.Now()
	received := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      now,
	}
	if ref := event.SubscriptionRef(); ref != "" {
		received.ExternalSubscriptionRef = &ref
	}

	inserted, err := s.insertEvent(ctx, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.loadEvent(ctx, event.Provider, event.ProviderEventID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			return paymentdomain.ErrEventAlreadyProcessed
		}
	}
	if inserted {
		s.obsMetrics.RecordPaymentEvent(ctx, event.Provider, event.Type)
	}

	outcome, err := s.reconcile(ctx, event)
	if err != nil {
		if !errors.Is(err, paymentdomain.ErrUnknownCustomer) {
			return err
		}
		s.log.Warn("payment event dropped",
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		outcome = paymentdomain.OutcomeUnknownCustomer
	}

	if markErr := s.markProcessed(ctx, stored.ID, outcome, s.clock.Now()); markErr != nil {
		return markErr
	}
	s.obsMetrics.RecordReconcileOutcome(ctx, event.Type, outcome)
	return err
}

func validateEvent(event *paymentdomain.SubscriptionEvent) error {
	if event == nil {
		return paymentdomain.ErrInvalidEvent
	}
	event.Provider = strings.ToLower(strings.TrimSpace(event.Provider))
	if event.Provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	event.ProviderEventID = strings.TrimSpace(event.ProviderEventID)
	if event.ProviderEventID == "" {
		return paymentdomain.ErrInvalidEvent
	}
	event.Type = strings.TrimSpace(event.Type)
	if event.Type == "" {
		return paymentdomain.ErrInvalidEvent
	}
	return nil
}

func (s *Service) insertEvent(ctx context.Context, record *paymentdomain.EventRecord) (bool, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.InsertEvent(ctx, s.db, record)
}

func (s *Service) loadEvent(ctx context.Context, provider, providerEventID string) (*paymentdomain.EventRecord, error) {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.FindEvent(ctx, s.db, provider, providerEventID)
}

func (s *Service) markProcessed(ctx context.Context, id snowflake.ID, outcome string, at time.Time) error {
	ctx, cancel := db.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.MarkProcessed(ctx, s.db, id, outcome, at)
}

package webhook

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/smallbiznis/creditmeter/internal/payment/adapters"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	paymentservice "github.com/smallbiznis/creditmeter/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	PaymentSvc *paymentservice.Service
	Adapters   *adapters.Registry
}

type Service struct {
	log        *zap.Logger
	paymentSvc *paymentservice.Service
	adapters   *adapters.Registry
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		log:        p.Log.Named("payment.webhook"),
		paymentSvc: p.PaymentSvc,
		adapters:   p.Adapters,
	}
}

// IngestWebhook verifies the payload before touching any state. Duplicate
// deliveries and events for unknown customers are acknowledged so the
// provider stops retrying them.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return paymentdomain.ErrInvalidProvider
	}
	verifier, err := s.adapters.Verifier(provider)
	if err != nil {
		return err
	}

	event, err := verifier.Verify(ctx, payload, headers)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			eventType := ""
			if event != nil {
				eventType = event.Type
			}
			s.log.Debug("payment webhook ignored", zap.String("provider", provider), zap.String("event_type", eventType))
			return nil
		}
		if errors.Is(err, paymentdomain.ErrInvalidSignature) {
			s.log.Warn("payment webhook rejected", zap.String("provider", provider), zap.Error(err))
		}
		return err
	}

	if s.paymentSvc == nil {
		return errors.New("payment_service_unavailable")
	}
	err = s.paymentSvc.ProcessEvent(ctx, event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		s.log.Info("payment webhook duplicate", zap.String("event_id", event.ProviderEventID))
		return nil
	case errors.Is(err, paymentdomain.ErrUnknownCustomer):
		return nil
	default:
		s.log.Error("payment webhook processing failed",
			zap.String("event_id", event.ProviderEventID),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return err
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/smallbiznis/creditmeter/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Service) reconcile(ctx context.Context, event *paymentdomain.SubscriptionEvent) (string, error) {
	switch event.Type {
	case paymentdomain.EventSubscriptionCreated,
		paymentdomain.EventSubscriptionUpdated,
		paymentdomain.EventSubscriptionDeleted:
		return s.applySubscription(ctx, event.Type, event.Subscription)

	case paymentdomain.EventInvoicePaid, paymentdomain.EventInvoicePaymentFail:
		ref := strings.TrimSpace(event.InvoiceSubscriptionRef)
		if ref == "" {
			s.log.Info("invoice without subscription skipped", zap.String("event_id", event.ProviderEventID))
			return paymentdomain.OutcomeIgnored, nil
		}
		if s.gateway == nil {
			return "", paymentdomain.ErrProviderUnavailable
		}
		// Invoice payloads do not carry the subscription state.
		sub, err := s.gateway.FetchSubscription(ctx, ref)
		if err != nil {
			return "", err
		}
		return s.applySubscription(ctx, event.Type, sub)

	case paymentdomain.EventPaymentSucceeded:
		fields := []zap.Field{
			zap.String("event_id", event.ProviderEventID),
			zap.Int64("amount", event.Amount),
			zap.String("currency", event.Currency),
		}
		if event.CustomerRef != "" {
			if userID, err := s.customers.ResolveUserID(ctx, event.CustomerRef); err == nil {
				fields = append(fields, zap.String("user_id", userID))
			}
		}
		s.log.Info("payment succeeded", fields...)
		return paymentdomain.OutcomeLogged, nil

	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) applySubscription(ctx context.Context, eventType string, sub *paymentdomain.ProviderSubscription) (string, error) {
	if sub == nil || strings.TrimSpace(sub.ID) == "" {
		return "", paymentdomain.ErrInvalidEvent
	}
	status := sub.Status
	if eventType == paymentdomain.EventSubscriptionDeleted {
		status = subscriptiondomain.SubscriptionStatusCancelled
	}
	if !status.Valid() {
		s.log.Info("unmapped provider status skipped",
			zap.String("subscription_ref", sub.ID),
			zap.String("provider_status", sub.ProviderStatus),
		)
		return paymentdomain.OutcomeIgnored, nil
	}

	unlock, err := s.lockRef(ctx, sub.ID)
	if err != nil {
		return "", err
	}
	defer unlock()

	userID, err := s.resolveUser(ctx, sub)
	if err != nil {
		return "", err
	}
	tierID, err := s.resolveTierID(ctx, sub)
	if err != nil {
		return "", err
	}

	state := subscriptiondomain.ProviderState{
		ExternalRef: sub.ID,
		UserID:      userID,
		TierID:      tierID,
		Status:      status,
		PeriodStart: sub.CurrentPeriodStart,
		PeriodEnd:   sub.CurrentPeriodEnd,
		AllowCreate: eventType == paymentdomain.EventSubscriptionCreated ||
			(eventType != paymentdomain.EventSubscriptionDeleted && status == subscriptiondomain.SubscriptionStatusActive),
	}
	result, err := s.subscriptions.ApplyProviderState(ctx, state)
	if err != nil {
		return "", err
	}

	s.log.Info("subscription reconciled",
		zap.String("event_type", eventType),
		zap.String("subscription_ref", sub.ID),
		zap.String("user_id", userID),
		zap.String("status", string(status)),
		zap.String("outcome", string(result.Outcome)),
		zap.Int64("cancelled_others", result.Cancelled),
	)
	return string(result.Outcome), nil
}

// resolveUser prefers the local customer mapping and falls back to the
// user_id stamped on the subscription at checkout.
func (s *Service) resolveUser(ctx context.Context, sub *paymentdomain.ProviderSubscription) (string, error) {
	if sub.CustomerRef != "" {
		userID, err := s.customers.ResolveUserID(ctx, sub.CustomerRef)
		switch {
		case err == nil:
			return userID, nil
		case !errors.Is(err, customerdomain.ErrNotFound):
			return "", err
		}
	}
	if userID := strings.TrimSpace(sub.Metadata["user_id"]); userID != "" {
		return userID, nil
	}
	return "", fmt.Errorf("%w: %q", paymentdomain.ErrUnknownCustomer, sub.CustomerRef)
}

// resolveTierID reads tier_id metadata, then maps the billed price back to
// a tier code. Zero means the provider did not say.
func (s *Service) resolveTierID(ctx context.Context, sub *paymentdomain.ProviderSubscription) (snowflake.ID, error) {
	if raw := strings.TrimSpace(sub.Metadata["tier_id"]); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err == nil && id > 0 {
			return id, nil
		}
		s.log.Warn("invalid tier_id metadata", zap.String("subscription_ref", sub.ID), zap.String("tier_id", raw))
	}
	for _, price := range sub.PriceIDs {
		code, ok := s.tierByPrice[price]
		if !ok {
			continue
		}
		tier, err := s.subscriptions.GetTierByCode(ctx, code)
		if errors.Is(err, subscriptiondomain.ErrTierNotFound) {
			continue
		}
		if err != nil {
			return 0, err
		}
		return tier.ID, nil
	}
	return 0, nil
}

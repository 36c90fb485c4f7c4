package service

import (
	"context"
	"errors"
	"strings"

	customerdomain "github.com/smallbiznis/creditmeter/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"go.uber.org/zap"
)

// Subscribe opens a provider subscription for the tier and records it
// locally as incomplete. The reconciler activates it once paid.
func (s *Service) Subscribe(ctx context.Context, req paymentdomain.SubscribeRequest) (*paymentdomain.SubscribeResult, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	if req.TierID == 0 {
		return nil, subscriptiondomain.ErrInvalidTier
	}
	if s.gateway == nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}

	tier, err := s.subscriptions.GetTier(ctx, req.TierID)
	if err != nil {
		return nil, err
	}
	priceID := s.priceIDs[tier.Code]
	if priceID == "" {
		return nil, paymentdomain.ErrPriceNotConfigured
	}

	customerRef, err := s.ensureCustomerRef(ctx, userID, req.Email)
	if err != nil {
		return nil, err
	}

	checkout, err := s.gateway.CreateSubscription(ctx, paymentdomain.CheckoutRequest{
		UserID:          userID,
		CustomerRef:     customerRef,
		PriceID:         priceID,
		TierID:          tier.ID,
		PaymentMethodID: req.PaymentMethodID,
	})
	if err != nil {
		return nil, err
	}

	sub, err := s.subscriptions.CreateSubscription(ctx, subscriptiondomain.CreateSubscriptionRequest{
		UserID:      userID,
		TierID:      tier.ID,
		ExternalRef: checkout.SubscriptionRef,
	})
	if err != nil {
		s.log.Error("provider subscription created without local row",
			zap.String("user_id", userID),
			zap.String("subscription_ref", checkout.SubscriptionRef),
			zap.Error(err),
		)
		return nil, err
	}

	return &paymentdomain.SubscribeResult{
		Subscription: sub,
		Tier:         tier,
		ClientSecret: checkout.ClientSecret,
	}, nil
}

// Cancel stops the provider subscription first so a failure there leaves
// local state untouched.
func (s *Service) Cancel(ctx context.Context, userID string) (*subscriptiondomain.UserSubscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}

	active, err := s.subscriptions.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	if ref := active.ExternalRef(); ref != "" {
		if s.gateway == nil {
			return nil, paymentdomain.ErrProviderUnavailable
		}
		if err := s.gateway.CancelSubscription(ctx, ref); err != nil {
			return nil, err
		}
	}
	return s.subscriptions.CancelSubscription(ctx, userID)
}

// CreateSetupIntent lets the client save a card before subscribing. The
// provider customer is created on first use.
func (s *Service) CreateSetupIntent(ctx context.Context, userID, email string) (*paymentdomain.SetupIntentResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	if s.gateway == nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}

	customerRef, err := s.ensureCustomerRef(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	return s.gateway.CreateSetupIntent(ctx, customerRef)
}

// ListPaymentMethods returns the user's saved cards. A user the provider
// has never seen has none.
func (s *Service) ListPaymentMethods(ctx context.Context, userID string) ([]paymentdomain.PaymentMethod, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, subscriptiondomain.ErrInvalidUser
	}
	if s.gateway == nil {
		return nil, paymentdomain.ErrProviderUnavailable
	}

	customer, err := s.customers.GetByUserID(ctx, userID)
	if errors.Is(err, customerdomain.ErrNotFound) {
		return []paymentdomain.PaymentMethod{}, nil
	}
	if err != nil {
		return nil, err
	}
	ref := customer.ExternalRef()
	if ref == "" {
		return []paymentdomain.PaymentMethod{}, nil
	}
	return s.gateway.ListPaymentMethods(ctx, ref)
}

func (s *Service) ensureCustomerRef(ctx context.Context, userID, email string) (string, error) {
	customer, err := s.customers.Ensure(ctx, customerdomain.EnsureCustomerRequest{UserID: userID, Email: email})
	if err != nil {
		return "", err
	}
	if ref := customer.ExternalRef(); ref != "" {
		return ref, nil
	}

	ref, err := s.gateway.CreateCustomer(ctx, userID, customer.Email)
	if err != nil {
		return "", err
	}
	if _, err := s.customers.AttachExternalRef(ctx, userID, ref); err != nil {
		return "", err
	}
	return ref, nil
}

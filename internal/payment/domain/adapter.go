package domain

import (
	"context"
	"net/http"
)

//go:generate mockgen -source=adapter.go -destination=../mocks/mock_adapter.go -package=mocks

// WebhookVerifier authenticates and parses inbound provider webhooks.
type WebhookVerifier interface {
	Provider() string
	// Verify checks the signature before decoding anything. Events the
	// engine does not consume return ErrEventIgnored.
	Verify(ctx context.Context, payload []byte, headers http.Header) (*SubscriptionEvent, error)
}

// Gateway is the outbound half of the provider integration.
type Gateway interface {
	FetchSubscription(ctx context.Context, ref string) (*ProviderSubscription, error)
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateSubscription(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	CancelSubscription(ctx context.Context, ref string) error
	// CreateSetupIntent starts saving a card for off-session use.
	CreateSetupIntent(ctx context.Context, customerRef string) (*SetupIntentResult, error)
	ListPaymentMethods(ctx context.Context, customerRef string) ([]PaymentMethod, error)
}

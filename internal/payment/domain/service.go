package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	"gorm.io/gorm"
)

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, processedAt time.Time) error
}

// Service ingests provider webhooks.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) error
}

// CheckoutService starts and stops paid subscriptions at the provider.
type CheckoutService interface {
	Subscribe(ctx context.Context, req SubscribeRequest) (*SubscribeResult, error)
	Cancel(ctx context.Context, userID string) (*subscriptiondomain.UserSubscription, error)
	CreateSetupIntent(ctx context.Context, userID, email string) (*SetupIntentResult, error)
	ListPaymentMethods(ctx context.Context, userID string) ([]PaymentMethod, error)
}

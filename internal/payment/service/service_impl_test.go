package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/creditmeter/internal/clock"
	"github.com/smallbiznis/creditmeter/internal/config"
	customerdomain "github.com/smallbiznis/creditmeter/internal/customer/domain"
	customerrepo "github.com/smallbiznis/creditmeter/internal/customer/repository"
	customerservice "github.com/smallbiznis/creditmeter/internal/customer/service"
	"github.com/smallbiznis/creditmeter/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/creditmeter/internal/payment/domain"
	"github.com/smallbiznis/creditmeter/internal/payment/mocks"
	paymentrepo "github.com/smallbiznis/creditmeter/internal/payment/repository"
	subscriptiondomain "github.com/smallbiznis/creditmeter/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/creditmeter/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/creditmeter/internal/subscription/service"
	"github.com/smallbiznis/creditmeter/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db        *gorm.DB
	svc       *Service
	subs      subscriptiondomain.Service
	customers customerdomain.Service
	repo      paymentdomain.Repository
	gateway   *mocks.MockGateway
	clock     *clock.FakeClock
}

func newFixture(t *testing.T, withGateway bool) fixture {
	t.Helper()
	conn := testutil.NewSQLite(t,
		&subscriptiondomain.Tier{},
		&subscriptiondomain.UserSubscription{},
		&customerdomain.BillingCustomer{},
		&paymentdomain.EventRecord{},
	)
	node := testutil.NewNode(t)
	fc := clock.NewFakeClock(time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC))
	cfg := config.Config{Stripe: config.StripeConfig{PriceIDs: map[string]string{
		"basic": "price_basic",
		"pro":   "price_pro",
	}}}

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: subscriptionrepo.Provide(),
	})
	require.NoError(t, subs.SeedTiers(context.Background()))
	customers := customerservice.New(customerservice.Params{
		DB: conn, Log: zap.NewNop(), GenID: node, Clock: fc, Repo: customerrepo.Provide(),
	})

	f := fixture{db: conn, subs: subs, customers: customers, repo: paymentrepo.Provide(), clock: fc}
	params := Params{
		DB:            conn,
		Log:           zap.NewNop(),
		GenID:         node,
		Clock:         fc,
		Repo:          f.repo,
		Subscriptions: subs,
		Customers:     customers,
		Cfg:           cfg,
	}
	if withGateway {
		f.gateway = mocks.NewMockGateway(gomock.NewController(t))
		params.Gateway = f.gateway
	}
	f.svc = NewService(params)
	return f
}

func (f fixture) linkCustomer(t *testing.T, userID, ref string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.customers.Ensure(ctx, customerdomain.EnsureCustomerRequest{UserID: userID})
	require.NoError(t, err)
	_, err = f.customers.AttachExternalRef(ctx, userID, ref)
	require.NoError(t, err)
}

func (f fixture) subscriptionByRef(t *testing.T, ref string) *subscriptiondomain.UserSubscription {
	t.Helper()
	var sub subscriptiondomain.UserSubscription
	err := f.db.Where("external_subscription_ref = ?", ref).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	require.NoError(t, err)
	return &sub
}

func subscriptionEvent(eventID, eventType string, sub *paymentdomain.ProviderSubscription) *paymentdomain.SubscriptionEvent {
	return &paymentdomain.SubscriptionEvent{
		Provider:        paymentdomain.ProviderStripe,
		ProviderEventID: eventID,
		Type:            eventType,
		Subscription:    sub,
		RawPayload:      []byte(`{"id":"` + eventID + `"}`),
	}
}

func providerSub(ref, customer string, status subscriptiondomain.SubscriptionStatus, periodEnd time.Time, meta map[string]string) *paymentdomain.ProviderSubscription {
	return &paymentdomain.ProviderSubscription{
		ID:               ref,
		CustomerRef:      customer,
		Status:           status,
		Metadata:         meta,
		CurrentPeriodEnd: &periodEnd,
	}
}

func TestProcessEventCreatesThenActivates(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	created := providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusIncomplete, end, map[string]string{"tier_id": "3"})
	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_1", paymentdomain.EventSubscriptionCreated, created)))

	row := f.subscriptionByRef(t, "sub_1")
	require.NotNil(t, row)
	assert.Equal(t, "u1", row.UserID)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncomplete, row.Status)
	assert.EqualValues(t, 3, row.TierID)

	updated := providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil)
	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_2", paymentdomain.EventSubscriptionUpdated, updated)))

	active, err := f.subs.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sub_1", active.ExternalRef())
	assert.EqualValues(t, 3, active.TierID)

	record, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_2")
	require.NoError(t, err)
	require.NotNil(t, record)
	require.NotNil(t, record.ProcessedAt)
	assert.Equal(t, paymentdomain.OutcomeUpdated, record.Outcome)
}

func verifiedEvent(t *testing.T, verifier *stripe.Verifier, body string) *paymentdomain.SubscriptionEvent {
	t.Helper()
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    "whsec_service",
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	headers := http.Header{}
	headers.Set("Stripe-Signature", signed.Header)
	event, err := verifier.Verify(context.Background(), signed.Payload, headers)
	require.NoError(t, err)
	return event
}

func TestProcessEventRefreshesSubscriptionLevelPeriodEnd(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	verifier := stripe.NewVerifier(config.Config{Stripe: config.StripeConfig{WebhookSecret: "whsec_service"}})

	first := verifiedEvent(t, verifier, `{"id":"evt_p1","object":"event","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_p","object":"subscription","customer":"cus_1","status":"active",
			"metadata":{"tier_id":"3"},"current_period_start":1772323200,"current_period_end":1775001600}}}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, first))

	row := f.subscriptionByRef(t, "sub_p")
	require.NotNil(t, row)
	require.NotNil(t, row.PeriodEnd)
	assert.True(t, row.PeriodEnd.Equal(time.Unix(1775001600, 0)), "period end %v", row.PeriodEnd)

	renewed := verifiedEvent(t, verifier, `{"id":"evt_p2","object":"event","type":"customer.subscription.updated",
		"data":{"object":{"id":"sub_p","object":"subscription","customer":"cus_1","status":"active",
			"current_period_start":1775001600,"current_period_end":1777593600}}}`)
	require.NoError(t, f.svc.ProcessEvent(ctx, renewed))

	row = f.subscriptionByRef(t, "sub_p")
	require.NotNil(t, row.PeriodEnd)
	assert.True(t, row.PeriodEnd.Equal(time.Unix(1777593600, 0)), "period end %v", row.PeriodEnd)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, row.Status)

	record, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_p2")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUpdated, record.Outcome)
}

func TestProcessEventDuplicateEventID(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	event := subscriptionEvent("evt_dup", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil))
	require.NoError(t, f.svc.ProcessEvent(ctx, event))
	assert.ErrorIs(t, f.svc.ProcessEvent(ctx, event), paymentdomain.ErrEventAlreadyProcessed)

	var count int64
	require.NoError(t, f.db.Model(&paymentdomain.EventRecord{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	require.NoError(t, f.db.Model(&subscriptiondomain.UserSubscription{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestProcessEventUnknownCustomerIsDropped(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	event := subscriptionEvent("evt_x", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_x", "cus_missing", subscriptiondomain.SubscriptionStatusActive, end, nil))
	err := f.svc.ProcessEvent(ctx, event)
	require.ErrorIs(t, err, paymentdomain.ErrUnknownCustomer)
	assert.Nil(t, f.subscriptionByRef(t, "sub_x"))

	record, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_x")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotNil(t, record.ProcessedAt)
	assert.Equal(t, paymentdomain.OutcomeUnknownCustomer, record.Outcome)
}

func TestProcessEventMetadataUserFallback(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	event := subscriptionEvent("evt_m", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_m", "cus_unlinked", subscriptiondomain.SubscriptionStatusActive, end,
			map[string]string{"user_id": "u9", "tier_id": "2"}))
	require.NoError(t, f.svc.ProcessEvent(ctx, event))

	row := f.subscriptionByRef(t, "sub_m")
	require.NotNil(t, row)
	assert.Equal(t, "u9", row.UserID)
	assert.EqualValues(t, 2, row.TierID)
}

func TestProcessEventDeletedTwice(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_1", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil))))

	// Stripe reports the final status on deletion; any value cancels.
	deleted := providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil)
	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_2", paymentdomain.EventSubscriptionDeleted, deleted)))
	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_3", paymentdomain.EventSubscriptionDeleted, deleted)))

	row := f.subscriptionByRef(t, "sub_1")
	require.NotNil(t, row)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, row.Status)

	second, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_2")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUpdated, second.Outcome)
	third, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_3")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeUnchanged, third.Outcome)

	active, err := f.subs.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestProcessEventUpdatedInactiveUnknownRefIsIgnored(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_1", paymentdomain.EventSubscriptionUpdated,
		providerSub("sub_9", "cus_1", subscriptiondomain.SubscriptionStatusPastDue, end, nil))))
	assert.Nil(t, f.subscriptionByRef(t, "sub_9"))

	record, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.OutcomeIgnored, record.Outcome)
}

func TestProcessEventActivationReplacesOtherActive(t *testing.T) {
	f := newFixture(t, false)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_a", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_a", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, map[string]string{"tier_id": "2"}))))
	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_b", paymentdomain.EventSubscriptionUpdated,
		providerSub("sub_b", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, map[string]string{"tier_id": "4"}))))

	active, err := f.subs.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "sub_b", active.ExternalRef())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, f.subscriptionByRef(t, "sub_a").Status)
}

func TestProcessEventInvoicePaidRefetchesSubscription(t *testing.T) {
	f := newFixture(t, true)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	fetched := providerSub("sub_9", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil)
	fetched.PriceIDs = []string{"price_basic"}
	f.gateway.EXPECT().FetchSubscription(gomock.Any(), "sub_9").Return(fetched, nil)

	event := &paymentdomain.SubscriptionEvent{
		Provider:               paymentdomain.ProviderStripe,
		ProviderEventID:        "evt_inv",
		Type:                   paymentdomain.EventInvoicePaid,
		InvoiceSubscriptionRef: "sub_9",
		RawPayload:             []byte(`{"id":"evt_inv"}`),
	}
	require.NoError(t, f.svc.ProcessEvent(ctx, event))

	row := f.subscriptionByRef(t, "sub_9")
	require.NotNil(t, row)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, row.Status)
	assert.EqualValues(t, 2, row.TierID)
	require.NotNil(t, row.PeriodEnd)
	assert.True(t, row.PeriodEnd.Equal(end))
}

func TestProcessEventInvoiceWithoutGatewayIsRetried(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	event := &paymentdomain.SubscriptionEvent{
		Provider:               paymentdomain.ProviderStripe,
		ProviderEventID:        "evt_inv",
		Type:                   paymentdomain.EventInvoicePaymentFail,
		InvoiceSubscriptionRef: "sub_9",
		RawPayload:             []byte(`{"id":"evt_inv"}`),
	}
	require.ErrorIs(t, f.svc.ProcessEvent(ctx, event), paymentdomain.ErrProviderUnavailable)

	record, err := f.repo.FindEvent(ctx, f.db, paymentdomain.ProviderStripe, "evt_inv")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Nil(t, record.ProcessedAt)

	// The redelivery is not short-circuited because nothing was applied.
	require.ErrorIs(t, f.svc.ProcessEvent(ctx, event), paymentdomain.ErrProviderUnavailable)
}

func TestProcessEventRejectsInvalidEvents(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ProcessEvent(ctx, nil), paymentdomain.ErrInvalidEvent)
	assert.ErrorIs(t, f.svc.ProcessEvent(ctx, &paymentdomain.SubscriptionEvent{Provider: "stripe", Type: "x"}), paymentdomain.ErrInvalidEvent)
	assert.ErrorIs(t, f.svc.ProcessEvent(ctx, &paymentdomain.SubscriptionEvent{
		Provider: "stripe", ProviderEventID: "evt", Type: "x", RawPayload: []byte("not json"),
	}), paymentdomain.ErrInvalidPayload)
}

func TestSubscribeCreatesCustomerOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.gateway.EXPECT().CreateCustomer(gomock.Any(), "u1", "a@example.com").Return("cus_new", nil).Times(1)
	f.gateway.EXPECT().CreateSubscription(gomock.Any(), paymentdomain.CheckoutRequest{
		UserID: "u1", CustomerRef: "cus_new", PriceID: "price_pro", TierID: 3,
	}).Return(&paymentdomain.CheckoutResult{
		SubscriptionRef: "sub_new",
		ClientSecret:    "secret_1",
		Status:          subscriptiondomain.SubscriptionStatusIncomplete,
	}, nil)
	f.gateway.EXPECT().CreateSubscription(gomock.Any(), paymentdomain.CheckoutRequest{
		UserID: "u1", CustomerRef: "cus_new", PriceID: "price_basic", TierID: 2,
	}).Return(&paymentdomain.CheckoutResult{SubscriptionRef: "sub_next"}, nil)

	result, err := f.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{UserID: "u1", Email: "a@example.com", TierID: 3})
	require.NoError(t, err)
	assert.Equal(t, "secret_1", result.ClientSecret)
	assert.Equal(t, "pro", result.Tier.Code)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusIncomplete, result.Subscription.Status)
	assert.Equal(t, "sub_new", result.Subscription.ExternalRef())

	userID, err := f.customers.ResolveUserID(ctx, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)

	_, err = f.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{UserID: "u1", TierID: 2})
	require.NoError(t, err)
}

func TestSubscribeErrors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{UserID: "u1", TierID: 1})
	assert.ErrorIs(t, err, paymentdomain.ErrPriceNotConfigured)
	_, err = f.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{UserID: "u1", TierID: 99})
	assert.ErrorIs(t, err, subscriptiondomain.ErrTierNotFound)
	_, err = f.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{TierID: 3})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	noGateway := newFixture(t, false)
	_, err = noGateway.svc.Subscribe(ctx, paymentdomain.SubscribeRequest{UserID: "u1", TierID: 3})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)
}

func TestCancelStopsProviderFirst(t *testing.T) {
	f := newFixture(t, true)
	f.linkCustomer(t, "u1", "cus_1")
	ctx := context.Background()
	end := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.svc.ProcessEvent(ctx, subscriptionEvent("evt_1", paymentdomain.EventSubscriptionCreated,
		providerSub("sub_1", "cus_1", subscriptiondomain.SubscriptionStatusActive, end, nil))))

	f.gateway.EXPECT().CancelSubscription(gomock.Any(), "sub_1").Return(paymentdomain.ErrProviderUnavailable)
	_, err := f.svc.Cancel(ctx, "u1")
	require.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)
	active, err := f.subs.GetActiveSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)

	f.gateway.EXPECT().CancelSubscription(gomock.Any(), "sub_1").Return(nil)
	cancelled, err := f.svc.Cancel(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCancelled, cancelled.Status)

	_, err = f.svc.Cancel(ctx, "u1")
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestCreateSetupIntentReusesCustomer(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	f.gateway.EXPECT().CreateCustomer(gomock.Any(), "u1", "a@example.com").Return("cus_new", nil).Times(1)
	f.gateway.EXPECT().CreateSetupIntent(gomock.Any(), "cus_new").Return(&paymentdomain.SetupIntentResult{
		SetupIntentID: "seti_1",
		ClientSecret:  "seti_1_secret",
	}, nil).Times(2)

	intent, err := f.svc.CreateSetupIntent(ctx, "u1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "seti_1_secret", intent.ClientSecret)

	_, err = f.svc.CreateSetupIntent(ctx, "u1", "")
	require.NoError(t, err)

	userID, err := f.customers.ResolveUserID(ctx, "cus_new")
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestCreateSetupIntentErrors(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.CreateSetupIntent(ctx, " ", "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	f.linkCustomer(t, "u1", "cus_1")
	f.gateway.EXPECT().CreateSetupIntent(gomock.Any(), "cus_1").Return(nil, paymentdomain.ErrProviderUnavailable)
	_, err = f.svc.CreateSetupIntent(ctx, "u1", "")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)

	noGateway := newFixture(t, false)
	_, err = noGateway.svc.CreateSetupIntent(ctx, "u1", "")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)
}

func TestListPaymentMethods(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	methods, err := f.svc.ListPaymentMethods(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, methods)

	_, err = f.customers.Ensure(ctx, customerdomain.EnsureCustomerRequest{UserID: "u1"})
	require.NoError(t, err)
	methods, err = f.svc.ListPaymentMethods(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, methods)

	_, err = f.customers.AttachExternalRef(ctx, "u1", "cus_1")
	require.NoError(t, err)
	card := paymentdomain.PaymentMethod{ID: "pm_1", Type: "card", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2030}
	f.gateway.EXPECT().ListPaymentMethods(gomock.Any(), "cus_1").Return([]paymentdomain.PaymentMethod{card}, nil)

	methods, err = f.svc.ListPaymentMethods(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []paymentdomain.PaymentMethod{card}, methods)

	_, err = f.svc.ListPaymentMethods(ctx, "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidUser)

	noGateway := newFixture(t, false)
	_, err = noGateway.svc.ListPaymentMethods(ctx, "u1")
	assert.ErrorIs(t, err, paymentdomain.ErrProviderUnavailable)
}

package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes metering instruments. A nil *Metrics is a valid no-op.
type Metrics struct {
	usageRecorded    metric.Int64Counter
	creditsRecorded  metric.Float64Counter
	billingGap       metric.Int64Counter
	quotaDecisions   metric.Int64Counter
	paymentEvents    metric.Int64Counter
	reconcileOutcome metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "creditmeter"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.usageRecorded, err = meter.Int64Counter("creditmeter_usage_records_total"); err != nil {
		return nil, err
	}
	if m.creditsRecorded, err = meter.Float64Counter("creditmeter_credits_recorded_total"); err != nil {
		return nil, err
	}
	if m.billingGap, err = meter.Int64Counter("creditmeter_billing_gap_total",
		metric.WithDescription("Delivered actions whose usage could not be recorded."),
	); err != nil {
		return nil, err
	}
	if m.quotaDecisions, err = meter.Int64Counter("creditmeter_quota_decisions_total"); err != nil {
		return nil, err
	}
	if m.paymentEvents, err = meter.Int64Counter("creditmeter_payment_events_total"); err != nil {
		return nil, err
	}
	if m.reconcileOutcome, err = meter.Int64Counter("creditmeter_reconcile_outcomes_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordUsage counts a persisted usage record and the credits it carried.
func (m *Metrics) RecordUsage(ctx context.Context, credits float64) {
	if m == nil {
		return
	}
	m.usageRecorded.Add(ctx, 1)
	m.creditsRecorded.Add(ctx, credits)
}

// RecordBillingGap counts a delivered action that was not billed.
func (m *Metrics) RecordBillingGap(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.billingGap.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaDecision counts allowed and denied pre-flight checks.
func (m *Metrics) RecordQuotaDecision(ctx context.Context, allowed bool, tier string) {
	if m == nil {
		return
	}
	decision := "denied"
	if allowed {
		decision = "allowed"
	}
	attrs := FilterAttributes(
		attribute.String("decision", decision),
		attribute.String("tier", strings.TrimSpace(tier)),
	)
	m.quotaDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent counts verified provider events.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileOutcome counts what a provider event did to local state.
func (m *Metrics) RecordReconcileOutcome(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.reconcileOutcome.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// user_id is deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"tier":       {},
	"decision":   {},
	"provider":   {},
	"event_type": {},
	"outcome":    {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

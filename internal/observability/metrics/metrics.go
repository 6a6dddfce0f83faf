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

const exportInterval = 10 * time.Second

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics holds the registration and ledger counters. A nil *Metrics records
// nothing, so services take it as an optional dependency.
type Metrics struct {
	registrations  metric.Int64Counter
	ledgerEntries  metric.Int64Counter
	paymentEvents  metric.Int64Counter
	checkouts      metric.Int64Counter
	reportedErrors metric.Int64Counter
	webhookRetries metric.Int64Counter
}

// NewProvider installs the global meter provider. Export is off unless
// OTEL_ENABLED is set, in which case readings are pushed over OTLP.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		noopProvider := noop.NewMeterProvider()
		otel.SetMeterProvider(noopProvider)
		return noopProvider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	log.Info("metrics export enabled",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New registers the domain counters on the service meter.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	scope := strings.TrimSpace(cfg.ServiceName)
	if scope == "" {
		scope = "lanes"
	}
	meter := provider.Meter(scope)

	m := &Metrics{}
	instruments := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.registrations, "lanes_registrations_total", "Bowlers registered, by registration kind."},
		{&m.ledgerEntries, "lanes_ledger_entries_total", "Ledger entries written, by source."},
		{&m.paymentEvents, "lanes_payment_events_total", "Gateway events applied, by provider and type."},
		{&m.checkouts, "lanes_checkout_sessions_total", "Checkout session status changes."},
		{&m.reportedErrors, "lanes_reported_errors_total", "Errors sent to the error tracker, by component."},
		{&m.webhookRetries, "lanes_webhook_retries_total", "Journaled webhook events replayed, by outcome."},
	}
	for _, inst := range instruments {
		counter, err := meter.Int64Counter(inst.name, metric.WithDescription(inst.desc), metric.WithUnit("1"))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", inst.name, err)
		}
		*inst.target = counter
	}
	return m, nil
}

// RecordRegistration counts bowlers added by a solo, team or doubles registration.
func (m *Metrics) RecordRegistration(ctx context.Context, kind string, bowlers int) {
	if m != nil {
		add(ctx, m.registrations, int64(bowlers), "kind", kind)
	}
}

func (m *Metrics) RecordLedgerEntry(ctx context.Context, source string) {
	if m != nil {
		add(ctx, m.ledgerEntries, 1, "source", source)
	}
}

func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m != nil {
		add(ctx, m.paymentEvents, 1, "provider", provider, "event_type", eventType)
	}
}

func (m *Metrics) RecordCheckout(ctx context.Context, status string) {
	if m != nil {
		add(ctx, m.checkouts, 1, "status", status)
	}
}

func (m *Metrics) RecordError(ctx context.Context, component string) {
	if m != nil {
		add(ctx, m.reportedErrors, 1, "component", component)
	}
}

func (m *Metrics) RecordWebhookRetry(ctx context.Context, provider, outcome string) {
	if m != nil {
		add(ctx, m.webhookRetries, 1, "provider", provider, "outcome", outcome)
	}
}

// add records n on counter with labels given as key/value pairs.
func add(ctx context.Context, counter metric.Int64Counter, n int64, labels ...string) {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], strings.TrimSpace(labels[i+1])))
	}
	counter.Add(ctx, n, metric.WithAttributes(FilterAttributes(attrs...)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch p := strings.ToLower(strings.TrimSpace(protocol)); p {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", p)
	}
}

// Label keys allowed on any instrument. Bowler, team and tournament ids are
// kept out to bound cardinality.
var allowedLabelKeys = map[attribute.Key]bool{
	"kind":        true,
	"source":      true,
	"provider":    true,
	"event_type":  true,
	"status":      true,
	"component":   true,
	"outcome":     true,
	"route":       true,
	"status_code": true,
}

// FilterAttributes keeps only allowed label keys.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	kept := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			kept = append(kept, attr)
		}
	}
	return kept
}

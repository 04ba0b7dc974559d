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

// Metrics exposes application-level instruments.
type Metrics struct {
	eventsApplied    metric.Int64Counter
	eventsReversed   metric.Int64Counter
	toolsImported    metric.Int64Counter
	rollupMerges     metric.Int64Counter
	usageSamples     metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	reconcileRepairs metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "toolledger"
	}
	meter := provider.Meter(name)

	eventsApplied, err := meter.Int64Counter("toolledger_maintenance_events_applied_total")
	if err != nil {
		return nil, err
	}
	eventsReversed, err := meter.Int64Counter("toolledger_maintenance_events_reversed_total")
	if err != nil {
		return nil, err
	}
	toolsImported, err := meter.Int64Counter("toolledger_tools_imported_total")
	if err != nil {
		return nil, err
	}
	rollupMerges, err := meter.Int64Counter("toolledger_rollup_merges_total")
	if err != nil {
		return nil, err
	}
	usageSamples, err := meter.Int64Counter("toolledger_usage_samples_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("toolledger_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}
	reconcileRepairs, err := meter.Int64Counter("toolledger_reconcile_repairs_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		eventsApplied:    eventsApplied,
		eventsReversed:   eventsReversed,
		toolsImported:    toolsImported,
		rollupMerges:     rollupMerges,
		usageSamples:     usageSamples,
		rateLimitDenied:  rateLimitDenied,
		reconcileRepairs: reconcileRepairs,
	}, nil
}

// RecordEventApplied increments applied maintenance event counts.
func (m *Metrics) RecordEventApplied(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.eventsApplied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventReversed increments reversed maintenance event counts.
func (m *Metrics) RecordEventReversed(ctx context.Context, eventType string, statusReverted bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.Bool("status_reverted", statusReverted),
	)
	m.eventsReversed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// AddToolsImported increments import outcome counts by batch size.
func (m *Metrics) AddToolsImported(ctx context.Context, outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.toolsImported.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordRollupMerge increments rollup merge counts by source.
func (m *Metrics) RecordRollupMerge(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.rollupMerges.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageSample increments accepted telemetry sample counts.
func (m *Metrics) RecordUsageSample(ctx context.Context) {
	if m == nil {
		return
	}
	m.usageSamples.Add(ctx, 1)
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, scope, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("scope", strings.TrimSpace(scope)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcileRepair increments drift repair counts by projection field.
func (m *Metrics) RecordReconcileRepair(ctx context.Context, field string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("field", strings.TrimSpace(field)))
	m.reconcileRepairs.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"event_type":      {},
	"status_reverted": {},
	"outcome":         {},
	"source":          {},
	"scope":           {},
	"reason":          {},
	"field":           {},
	"endpoint":        {},
	"status_code":     {},
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

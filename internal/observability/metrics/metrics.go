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

// Metrics exposes report lifecycle instruments.
type Metrics struct {
	reportsCreated    metric.Int64Counter
	statusTransitions metric.Int64Counter
	validationIssues  metric.Int64Counter
	recordsImported   metric.Int64Counter
	upstreamCalls     metric.Int64Counter
	upstreamDuration  metric.Float64Histogram
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
		name = "auditfile"
	}
	meter := provider.Meter(name)

	reportsCreated, err := meter.Int64Counter("auditfile_reports_created_total")
	if err != nil {
		return nil, err
	}
	statusTransitions, err := meter.Int64Counter("auditfile_report_status_transitions_total")
	if err != nil {
		return nil, err
	}
	validationIssues, err := meter.Int64Counter("auditfile_validation_issues_total")
	if err != nil {
		return nil, err
	}
	recordsImported, err := meter.Int64Counter("auditfile_records_imported_total")
	if err != nil {
		return nil, err
	}
	upstreamCalls, err := meter.Int64Counter("auditfile_upstream_calls_total")
	if err != nil {
		return nil, err
	}
	upstreamDuration, err := meter.Float64Histogram("auditfile_upstream_call_duration_seconds", metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		reportsCreated:    reportsCreated,
		statusTransitions: statusTransitions,
		validationIssues:  validationIssues,
		recordsImported:   recordsImported,
		upstreamCalls:     upstreamCalls,
		upstreamDuration:  upstreamDuration,
	}, nil
}

// RecordReportCreated counts new reports per kind and purpose.
func (m *Metrics) RecordReportCreated(ctx context.Context, kind, purpose string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("kind", strings.TrimSpace(kind)),
		attribute.String("purpose", strings.TrimSpace(purpose)),
	)
	m.reportsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordStatusTransition counts committed status changes.
func (m *Metrics) RecordStatusTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	)
	m.statusTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordValidationIssue counts validation findings per code and severity.
func (m *Metrics) RecordValidationIssue(ctx context.Context, code, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("code", code),
		attribute.String("severity", severity),
	)
	m.validationIssues.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordImport counts imported and skipped ledger transactions.
func (m *Metrics) RecordImport(ctx context.Context, imported, skipped int) {
	if m == nil {
		return
	}
	m.recordsImported.Add(ctx, int64(imported), metric.WithAttributes(attribute.String("outcome", "imported")))
	m.recordsImported.Add(ctx, int64(skipped), metric.WithAttributes(attribute.String("outcome", "skipped")))
}

// RecordUpstreamCall observes a call to an external collaborator.
func (m *Metrics) RecordUpstreamCall(ctx context.Context, provider, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", outcome),
	)
	m.upstreamCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.upstreamDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
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
	"kind":      {},
	"purpose":   {},
	"from":      {},
	"to":        {},
	"code":      {},
	"severity":  {},
	"outcome":   {},
	"provider":  {},
	"operation": {},
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

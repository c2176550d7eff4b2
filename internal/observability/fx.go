// Package observability wires logging, tracing and OpenTelemetry metrics.
package observability

import (
	"github.com/smallbiznis/auditfile/internal/config"
	"github.com/smallbiznis/auditfile/internal/observability/logger"
	"github.com/smallbiznis/auditfile/internal/observability/metrics"
	"github.com/smallbiznis/auditfile/internal/observability/tracing"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		func(cfg metrics.Config) *metrics.SchedulerMetrics { return metrics.Scheduler(cfg) },
	),
	fx.Invoke(func(trace.TracerProvider) {}),
)

func tracingConfig(cfg config.Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ServiceName:      cfg.AppName,
		ServiceVersion:   cfg.AppVersion,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExporterProtocol: cfg.Telemetry.Protocol,
		SamplingRatio:    cfg.Telemetry.SamplingRatio,
	}
}

func metricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Telemetry.Enabled,
		ExporterEndpoint: cfg.Telemetry.Endpoint,
		ExporterProtocol: cfg.Telemetry.Protocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}

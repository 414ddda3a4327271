// Package telemetry exports the site's traces and metrics over OTLP.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	spanBatchTimeout     = 5 * time.Second
	spanBatchSize        = 256
	metricExportInterval = 30 * time.Second
)

// ShutdownFunc flushes whatever is buffered and stops exporting.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// exporter is one running signal pipeline.
type exporter struct {
	signal string
	stop   ShutdownFunc
}

// InitTelemetry points the global tracer and meter providers at the
// collector named by OTEL_EXPORTER_OTLP_*. A pipeline that cannot start is
// skipped with a warning so the site still serves without it. sampleRatio
// applies to root spans only.
func InitTelemetry(ctx context.Context, serviceName, version string, sampleRatio float64) (ShutdownFunc, error) {
	res, err := newResource(ctx, serviceName, version)
	if err != nil {
		return nil, err
	}

	var running []exporter
	if stop, err := startTracing(ctx, res, sampleRatio); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled, exporter did not start")
	} else {
		running = append(running, exporter{signal: "trace", stop: stop})
	}
	if stop, err := startMetrics(ctx, res); err != nil {
		log.Warn().Err(err).Msg("Metrics disabled, exporter did not start")
	} else {
		running = append(running, exporter{signal: "metric", stop: stop})
	}

	// Login and session spans join traces started by a fronting proxy.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("service", serviceName).
		Str("version", version).
		Int("exporters", len(running)).
		Msg("Telemetry exporting")

	return stopAll(running), nil
}

func newResource(ctx context.Context, serviceName, version string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithOSType(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to describe service resource: %w", err)
	}
	return res, nil
}

func startTracing(ctx context.Context, res *resource.Resource, sampleRatio float64) (ShutdownFunc, error) {
	spans, err := otlptracegrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio))),
		sdktrace.WithBatcher(spans,
			sdktrace.WithBatchTimeout(spanBatchTimeout),
			sdktrace.WithMaxExportBatchSize(spanBatchSize),
		),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func startMetrics(ctx context.Context, res *resource.Resource) (ShutdownFunc, error) {
	readings, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(readings,
			sdkmetric.WithInterval(metricExportInterval),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// stopAll stops exporters in reverse start order and reports every failure.
func stopAll(running []exporter) ShutdownFunc {
	if len(running) == 0 {
		return noopShutdown
	}
	return func(ctx context.Context) error {
		var errs []error
		for i := len(running) - 1; i >= 0; i-- {
			if err := running[i].stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s exporter shutdown: %w", running[i].signal, err))
			}
		}
		return errors.Join(errs...)
	}
}

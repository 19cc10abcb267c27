// Package telemetry exports the traces of agent calls and workflow runs.
//
// Spans come from three places: one server span per HTTP request, one client
// span per agent call (agent.<capability>.<action>) and one span per workflow
// run (workflow.<workflow_id>). Init installs the provider they all share.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/korrapati-satish/vahan-rakshak/internal/config"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// ShutdownFunc flushes buffered spans and stops the exporter.
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Init installs the global tracer provider and W3C propagation. With tracing
// disabled it leaves the no-op provider in place and returns a no-op
// ShutdownFunc, so callers never branch on the setting.
func Init(ctx context.Context, cfg config.TelemetryConfig, version string) (ShutdownFunc, error) {
	if !cfg.Enabled || cfg.OTLPEndpoint == "" {
		log.Info().Msg("🔕 Tracing disabled")
		return noop, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter for %s: %w", cfg.OTLPEndpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(serviceAttributes(cfg, version)...),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("describe service resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.OTLPEndpoint).
		Str("environment", cfg.Environment).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("📡 Tracing agent calls and workflows")

	return func(ctx context.Context) error {
		// Spans of workflows that finished during shutdown are still buffered.
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func serviceAttributes(cfg config.TelemetryConfig, version string) []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(version),
		semconv.DeploymentEnvironment(cfg.Environment),
	}
}

// sampler keeps a parent's decision and samples new traces at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

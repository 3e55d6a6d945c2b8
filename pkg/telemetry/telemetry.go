// Package telemetry provides OpenTelemetry integration for the export
// pipeline.
//
// Configuration is read from the standard environment variables:
//
//	OTEL_ENABLED                 - Enable/disable tracing (default: false)
//	OTEL_SERVICE_NAME            - Service name (default: memexport)
//	OTEL_SERVICE_VERSION         - Service version (default: unknown)
//	OTEL_EXPORTER_OTLP_ENDPOINT  - OTLP collector endpoint
//	OTEL_EXPORTER_OTLP_PROTOCOL  - grpc or http/protobuf (default: grpc)
//	OTEL_EXPORTER_OTLP_HEADERS   - Headers (key1=value1,key2=value2)
//	OTEL_EXPORTER_OTLP_INSECURE  - Use insecure connection (default: false)
//	OTEL_TRACES_SAMPLER          - Sampler type (default: always_on)
//	OTEL_TRACES_SAMPLER_ARG      - Sampler argument (e.g. ratio)
//
// When disabled, the global provider stays the no-op default and stage
// spans cost nothing, so the exporter opens them unconditionally.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName identifies this instrumentation scope.
const tracerName = "github.com/memtrace/memexport"

var (
	globalConfig *Config
	configOnce   sync.Once
)

// ShutdownFunc shuts down the TracerProvider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(_ context.Context) error { return nil }

// Init initializes OpenTelemetry and sets the global TracerProvider.
// If OTEL_ENABLED is not "true", it returns a no-op shutdown function and
// leaves the default no-op provider in place.
func Init(ctx context.Context) (ShutdownFunc, error) {
	cfg := loadConfig()
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := buildResource(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return noopShutdown, err
	}

	tp := trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithBatcher(exporter),
		trace.WithSampler(createSampler(cfg)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}

// StartStage opens a span for a pipeline stage. The caller must End it.
func StartStage(ctx context.Context, stage string) (context.Context, oteltrace.Span) {
	return otel.Tracer(tracerName).Start(ctx, stage)
}

// Enabled reports whether tracing is enabled.
func Enabled() bool {
	return loadConfig().Enabled
}

func loadConfig() *Config {
	configOnce.Do(func() {
		globalConfig = LoadFromEnv()
	})
	return globalConfig
}

package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// jobTracer names the tracer that owns bridge job spans.
const jobTracer = "github.com/musher-dev/bcbridge/bridge"

// TelemetryConfig controls job tracing.
type TelemetryConfig struct {
	Enabled bool

	// Endpoint is host:port of an OTLP/HTTP collector. Empty uses the
	// exporter default (localhost:4318 or OTEL_EXPORTER_OTLP_ENDPOINT).
	Endpoint string
	Insecure bool

	// SampleRatio is the fraction of jobs traced. Zero or anything >= 1
	// traces every job.
	SampleRatio float64

	ServiceName string
	Environment string
	Version     string
	Commit      string
}

// TelemetryConfigFromEnv reads OTEL_ENABLED and the BCBRIDGE_OTLP_* and
// BCBRIDGE_TRACE_SAMPLE_RATIO variables.
func TelemetryConfigFromEnv(version, commit string) *TelemetryConfig {
	cfg := &TelemetryConfig{
		Enabled:     IsTelemetryEnabled(),
		Endpoint:    strings.TrimSpace(os.Getenv("BCBRIDGE_OTLP_ENDPOINT")),
		Insecure:    envBool("BCBRIDGE_OTLP_INSECURE"),
		ServiceName: envOr("OTEL_SERVICE_NAME", "bcbridge"),
		Environment: envOr("OTEL_ENVIRONMENT", "development"),
		Version:     version,
		Commit:      commit,
	}

	if ratio, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("BCBRIDGE_TRACE_SAMPLE_RATIO")), 64); err == nil && ratio > 0 {
		cfg.SampleRatio = ratio
	}

	return cfg
}

// TelemetryShutdown flushes pending spans and restores the previous globals.
type TelemetryShutdown func(ctx context.Context) error

// SetupTelemetry installs an OTLP trace pipeline as the global provider.
// Disabled or nil configs leave the globals untouched.
func SetupTelemetry(ctx context.Context, cfg *TelemetryConfig) (TelemetryShutdown, error) {
	if cfg == nil || !cfg.Enabled {
		return noopShutdown, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(resourceAttrs(cfg)...))
	if err != nil {
		return noopShutdown, fmt.Errorf("merge otel resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return noopShutdown, fmt.Errorf("create otel exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	restore := installGlobals(provider)

	return func(shutdownCtx context.Context) error {
		err := provider.Shutdown(shutdownCtx)

		restore()

		if err != nil {
			return fmt.Errorf("shutdown otel provider: %w", err)
		}

		return nil
	}, nil
}

func resourceAttrs(cfg *TelemetryConfig) []attribute.KeyValue {
	name := cfg.ServiceName
	if name == "" {
		name = "bcbridge"
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", name),
		attribute.String("service.namespace", "bcbridge"),
		attribute.String("service.version", cfg.Version),
	}

	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}

	if cfg.Commit != "" {
		attrs = append(attrs, attribute.String("service.commit", cfg.Commit))
	}

	return attrs
}

func exporterOptions(cfg *TelemetryConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithCompression(otlptracehttp.GzipCompression)}

	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}

	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	return opts
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// installGlobals swaps in provider with W3C propagation and a silent error
// handler, returning a func that puts the previous globals back.
func installGlobals(provider trace.TracerProvider) func() {
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	prevHandler := otel.GetErrorHandler()

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(error) {}))

	return func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		otel.SetErrorHandler(prevHandler)
	}
}

// JobAttrs identify one bridge job on its span.
type JobAttrs struct {
	ID        string
	Operation string
	Target    string
	Delivery  string
}

// JobSpan is the span covering one bridge job, from encoding to decode.
type JobSpan struct {
	span trace.Span
}

// StartJobSpan opens a "bridge.job" span on the global provider.
func StartJobSpan(ctx context.Context, job JobAttrs) (context.Context, *JobSpan) {
	ctx, span := otel.GetTracerProvider().Tracer(jobTracer).Start(ctx, "bridge.job",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("job.operation", job.Operation),
			attribute.String("job.target", job.Target),
			attribute.String("job.delivery", job.Delivery),
		),
	)

	return ctx, &JobSpan{span: span}
}

// Progress records a progress marker as a span event.
func (s *JobSpan) Progress(activity, status string, percent float64) {
	s.span.AddEvent("job.progress", trace.WithAttributes(
		attribute.String("progress.activity", activity),
		attribute.String("progress.status", status),
		attribute.Float64("progress.percent", percent),
	))
}

// End records the outcome and ends the span. A non-empty failureKind marks
// the span as errored.
func (s *JobSpan) End(outcome, failureKind string, err error) {
	s.span.SetAttributes(attribute.String("job.outcome", outcome))

	if failureKind != "" {
		s.span.SetAttributes(attribute.String("job.failure_kind", failureKind))
	}

	switch {
	case err != nil:
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, failureKind)
	case failureKind != "":
		s.span.SetStatus(codes.Error, failureKind)
	default:
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()
}

// IsTelemetryEnabled checks the OTEL_ENABLED env var.
func IsTelemetryEnabled() bool {
	return envBool("OTEL_ENABLED")
}

func envBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}

	return fallback
}

func noopShutdown(context.Context) error { return nil }

package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

type testPropagator struct{}

func (testPropagator) Inject(context.Context, propagation.TextMapCarrier) {}

func (testPropagator) Extract(ctx context.Context, _ propagation.TextMapCarrier) context.Context {
	return ctx
}

func (testPropagator) Fields() []string { return nil }

type testErrorHandler struct{}

func (testErrorHandler) Handle(error) {}

// withSentinelGlobals installs recognizable globals and restores the
// originals when the test ends.
func withSentinelGlobals(t *testing.T) *sdktrace.TracerProvider {
	t.Helper()

	origTP := otel.GetTracerProvider()
	origPropagator := otel.GetTextMapPropagator()
	origHandler := otel.GetErrorHandler()

	sentinel := sdktrace.NewTracerProvider()

	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetTextMapPropagator(origPropagator)
		otel.SetErrorHandler(origHandler)

		_ = sentinel.Shutdown(context.Background())
	})

	otel.SetTracerProvider(sentinel)
	otel.SetTextMapPropagator(testPropagator{})
	otel.SetErrorHandler(testErrorHandler{})

	return sentinel
}

func assertSentinelGlobals(t *testing.T, sentinel *sdktrace.TracerProvider) {
	t.Helper()

	if otel.GetTracerProvider() != sentinel {
		t.Error("tracer provider not restored")
	}

	if _, ok := otel.GetTextMapPropagator().(testPropagator); !ok {
		t.Error("propagator not restored")
	}

	if _, ok := otel.GetErrorHandler().(testErrorHandler); !ok {
		t.Error("error handler not restored")
	}
}

func TestSetupTelemetry_DisabledLeavesGlobals(t *testing.T) {
	for name, cfg := range map[string]*TelemetryConfig{
		"nil":      nil,
		"disabled": {Enabled: false, Endpoint: "collector:4318"},
	} {
		t.Run(name, func(t *testing.T) {
			sentinel := withSentinelGlobals(t)

			shutdown, err := SetupTelemetry(t.Context(), cfg)
			if err != nil {
				t.Fatalf("SetupTelemetry() error = %v", err)
			}

			assertSentinelGlobals(t, sentinel)

			if err := shutdown(t.Context()); err != nil {
				t.Fatalf("shutdown error = %v", err)
			}
		})
	}
}

func TestSetupTelemetry_EnabledInstallsAndRestores(t *testing.T) {
	sentinel := withSentinelGlobals(t)

	shutdown, err := SetupTelemetry(t.Context(), &TelemetryConfig{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		Insecure:    true,
		SampleRatio: 0.5,
		ServiceName: "bcbridge-test",
		Version:     "0.0.1",
		Commit:      "abc123",
	})
	if err != nil {
		t.Fatalf("SetupTelemetry() error = %v", err)
	}

	tp := otel.GetTracerProvider()
	if _, isNoop := tp.(*noop.TracerProvider); isNoop || tp == sentinel {
		t.Fatalf("tracer provider not installed: %T", tp)
	}

	// The collector is unreachable, so only the restore is asserted.
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_ = shutdown(ctx)

	assertSentinelGlobals(t, sentinel)
}

func TestIsTelemetryEnabled(t *testing.T) {
	for value, want := range map[string]bool{
		"": false, "true": true, "TRUE": true, "1": true, "yes": true,
		"false": false, "0": false, "no": false, "  true  ": true,
	} {
		t.Setenv("OTEL_ENABLED", value)

		if got := IsTelemetryEnabled(); got != want {
			t.Errorf("IsTelemetryEnabled() with %q = %v, want %v", value, got, want)
		}
	}
}

func TestTelemetryConfigFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(*testing.T, *TelemetryConfig)
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			check: func(t *testing.T, cfg *TelemetryConfig) {
				if cfg.Enabled || cfg.Insecure || cfg.SampleRatio != 0 {
					t.Errorf("cfg = %+v", cfg)
				}

				if cfg.ServiceName != "bcbridge" || cfg.Environment != "development" {
					t.Errorf("service = %q, environment = %q", cfg.ServiceName, cfg.Environment)
				}
			},
		},
		{
			name: "collector settings",
			env: map[string]string{
				"OTEL_ENABLED":                "yes",
				"BCBRIDGE_OTLP_ENDPOINT":      " collector:4318 ",
				"BCBRIDGE_OTLP_INSECURE":      "1",
				"BCBRIDGE_TRACE_SAMPLE_RATIO": "0.25",
				"OTEL_ENVIRONMENT":            "ci",
			},
			check: func(t *testing.T, cfg *TelemetryConfig) {
				if !cfg.Enabled || cfg.Endpoint != "collector:4318" || !cfg.Insecure {
					t.Errorf("cfg = %+v", cfg)
				}

				if cfg.SampleRatio != 0.25 || cfg.Environment != "ci" {
					t.Errorf("ratio = %v, environment = %q", cfg.SampleRatio, cfg.Environment)
				}
			},
		},
		{
			name: "bad ratio ignored",
			env:  map[string]string{"BCBRIDGE_TRACE_SAMPLE_RATIO": "half"},
			check: func(t *testing.T, cfg *TelemetryConfig) {
				if cfg.SampleRatio != 0 {
					t.Errorf("SampleRatio = %v", cfg.SampleRatio)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"OTEL_ENABLED", "BCBRIDGE_OTLP_ENDPOINT", "BCBRIDGE_OTLP_INSECURE",
				"BCBRIDGE_TRACE_SAMPLE_RATIO", "OTEL_SERVICE_NAME", "OTEL_ENVIRONMENT",
			} {
				t.Setenv(key, tt.env[key])
			}

			cfg := TelemetryConfigFromEnv("1.2.3", "abc")
			if cfg.Version != "1.2.3" || cfg.Commit != "abc" {
				t.Errorf("build info = %q %q", cfg.Version, cfg.Commit)
			}

			tt.check(t, cfg)
		})
	}
}

func TestSampler(t *testing.T) {
	for ratio, ratioBased := range map[float64]bool{0: false, 1: false, 2: false, 0.1: true} {
		desc := sampler(ratio).Description()
		if got := strings.Contains(desc, "TraceIDRatioBased"); got != ratioBased {
			t.Errorf("sampler(%v) = %s", ratio, desc)
		}
	}
}

func TestJobSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = provider.Shutdown(context.Background())
	})

	tests := []struct {
		name       string
		outcome    string
		kind       string
		err        error
		wantStatus codes.Code
	}{
		{"success", "success", "", nil, codes.Ok},
		{"failure", "failure", "non-zero-exit", errors.New("exit 1"), codes.Error},
		{"timeout", "cancelled", "timeout", nil, codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, span := StartJobSpan(t.Context(), JobAttrs{ID: "job-1", Operation: "compile", Target: "docker", Delivery: "side-channel"})
			span.Progress("Compiling", "Base Application", 40)
			span.End(tt.outcome, tt.kind, tt.err)

			ended := recorder.Ended()
			got := ended[len(ended)-1]

			if got.Name() != "bridge.job" || got.Status().Code != tt.wantStatus {
				t.Errorf("span %q status = %v, want %v", got.Name(), got.Status().Code, tt.wantStatus)
			}

			attrs := map[attribute.Key]string{}
			for _, kv := range got.Attributes() {
				attrs[kv.Key] = kv.Value.Emit()
			}

			if attrs["job.operation"] != "compile" || attrs["job.target"] != "docker" || attrs["job.outcome"] != tt.outcome {
				t.Errorf("attributes = %v", attrs)
			}

			if attrs["job.failure_kind"] != tt.kind {
				t.Errorf("job.failure_kind = %q, want %q", attrs["job.failure_kind"], tt.kind)
			}

			var progress int

			for _, ev := range got.Events() {
				if ev.Name == "job.progress" {
					progress++
				}
			}

			if progress != 1 {
				t.Errorf("progress events = %d, want 1", progress)
			}
		})
	}
}

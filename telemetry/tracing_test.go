package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestTracingConfigFromEnv(t *testing.T) {
	tests := []struct {
		name                     string
		service, insecure, ratio string
		wantService              string
		wantInsecure             bool
		wantRatio                float64
	}{
		{name: "defaults", wantService: "anonchat", wantInsecure: true, wantRatio: 1},
		{name: "overrides", service: "overlay-eu", insecure: "false", ratio: "0.25", wantService: "overlay-eu", wantRatio: 0.25},
		{name: "out of range ratio ignored", ratio: "3", wantService: "anonchat", wantInsecure: true, wantRatio: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OTEL_SERVICE_NAME", tt.service)
			t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", tt.insecure)
			t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.ratio)
			cfg := tracingConfigFromEnv("anonchat")
			if cfg.serviceName != tt.wantService || cfg.insecure != tt.wantInsecure || cfg.sampleRatio != tt.wantRatio {
				t.Errorf("got %+v", cfg)
			}
		})
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("anonchat", "test")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Error("tracing should be disabled")
	}

	// the no-op provider still hands out usable spans
	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "test", "op", ChannelAttr("somechannel"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	SetSpanHTTPStatus(span, 503)
	span.End()
}

package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

var tracingEnabled atomic.Bool

// tracingConfig is read from the standard OTEL_* variables.
type tracingConfig struct {
	endpoint    string
	serviceName string
	insecure    bool
	sampleRatio float64
}

func tracingConfigFromEnv(defaultService string) tracingConfig {
	cfg := tracingConfig{
		endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		serviceName: defaultService,
		insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false",
		sampleRatio: 1,
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		cfg.serviceName = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.sampleRatio = v
	}
	return cfg
}

// InitTracing installs an OTLP/gRPC tracer provider when
// OTEL_EXPORTER_OTLP_ENDPOINT is set and returns its shutdown func. Without an
// endpoint spans go to the global no-op provider.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	cfg := tracingConfigFromEnv(serviceName)
	if cfg.endpoint == "" {
		slog.Info("tracing disabled: OTEL_EXPORTER_OTLP_ENDPOINT not set", slog.String("component", "tracing"))
		return func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.serviceName),
		semconv.ServiceVersion(serviceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRatio))),
	)
	otel.SetTracerProvider(tp)
	tracingEnabled.Store(true)
	slog.Info("tracing enabled", slog.String("service", cfg.serviceName), slog.String("endpoint", cfg.endpoint),
		slog.Float64("sample_ratio", cfg.sampleRatio), slog.String("component", "tracing"))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.Error("tracer provider shutdown failed", slog.Any("err", err), slog.String("component", "tracing"))
		}
		tracingEnabled.Store(false)
	}, nil
}

// IsTracingEnabled reports whether spans are exported.
func IsTracingEnabled() bool { return tracingEnabled.Load() }

// StartSpan starts a span tagged with the request's correlation id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span failed with err; nil is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) { span.SetStatus(codes.Ok, "") }

func HTTPMethodAttr(m string) attribute.KeyValue { return attribute.String("http.method", m) }
func HTTPRouteAttr(r string) attribute.KeyValue  { return attribute.String("http.route", r) }
func ChannelAttr(c string) attribute.KeyValue    { return attribute.String("twitch.channel", c) }

// SetSpanHTTPStatus records the response code and marks 5xx as errors.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 500 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
}

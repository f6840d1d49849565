package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
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

// tracerPrefix namespaces every tracer this binary creates.
const tracerPrefix = "clanwatch/"

type traceConfig struct {
	endpoint string
	insecure bool
	ratio    float64
}

// traceConfigFromEnv reads the OTLP endpoint and sampling ratio.
// OTEL_TRACES_SAMPLER_ARG must be within [0,1]; it defaults to sampling everything.
func traceConfigFromEnv() (traceConfig, error) {
	cfg := traceConfig{
		endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		insecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") != "false",
		ratio:    1,
	}
	if v := os.Getenv("OTEL_TRACES_SAMPLER_ARG"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil || r < 0 || r > 1 {
			return cfg, fmt.Errorf("invalid OTEL_TRACES_SAMPLER_ARG %q: want a ratio in [0,1]", v)
		}
		cfg.ratio = r
	}
	return cfg, nil
}

func (c traceConfig) sampler() sdktrace.Sampler {
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.ratio))
}

// InitTracing installs an OTLP/gRPC tracer provider when OTEL_EXPORTER_OTLP_ENDPOINT
// is set and returns its flush func. Without an endpoint the global no-op provider stays.
func InitTracing(serviceName, serviceVersion string) (func(), error) {
	cfg, err := traceConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if cfg.endpoint == "" {
		slog.Info("tracing disabled", slog.String("reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set"))
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
		return nil, fmt.Errorf("otlp trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(cfg.sampler()),
	)
	otel.SetTracerProvider(tp)
	slog.Info("tracing enabled",
		slog.String("endpoint", cfg.endpoint),
		slog.Float64("sample_ratio", cfg.ratio),
		slog.String("service", serviceName))

	return func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := tp.Shutdown(flushCtx); err != nil {
			slog.Error("trace flush failed", slog.Any("err", err))
		}
	}, nil
}

// StartSpan opens a span on the clanwatch/<component> tracer, tagged with the
// cycle or request correlation id when ctx carries one.
func StartSpan(ctx context.Context, component, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if corr := GetCorrelation(ctx); corr != "" {
		attrs = append(attrs, attribute.String("correlation_id", corr))
	}
	return otel.Tracer(tracerPrefix+component).Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanSuccess(span trace.Span) { span.SetStatus(codes.Ok, "") }

func HTTPMethodAttr(method string) attribute.KeyValue { return attribute.String("http.method", method) }

func HTTPRouteAttr(route string) attribute.KeyValue { return attribute.String("http.route", route) }

// SetSpanHTTPStatus records status and fails the span on 4xx/5xx.
func SetSpanHTTPStatus(span trace.Span, status int) {
	span.SetAttributes(attribute.Int("http.status_code", status))
	if status >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
	}
}

// PlatformAttr tags a span with the remote platform name.
func PlatformAttr(platform string) attribute.KeyValue { return attribute.String("platform", platform) }

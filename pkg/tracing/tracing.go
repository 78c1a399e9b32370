// Package tracing owns the OpenTelemetry setup of the ingestion service: the
// OTLP exporter behind the global tracer provider, W3C context propagation
// for inbound requests, and the span helpers the ingestion pipeline uses.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/encoding/gzip"
)

// TracerName is the instrumentation scope used by the ingestion pipeline.
const TracerName = "github.com/your-org/datasetingest"

// Span attribute keys recorded on ingestion spans.
const (
	AttrIngestionID = attribute.Key("ingestion.id")
	AttrOutcome     = attribute.Key("ingestion.outcome")
	AttrUploadSize  = attribute.Key("upload.size")
	AttrDataset     = attribute.Key("dataset.name")
	AttrVersion     = attribute.Key("dataset.version")
	AttrRejection   = attribute.Key("ingestion.rejection_class")
)

// Config configures the OpenTelemetry exporter.
type Config struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
	Attributes  map[string]string
	ServiceName string
}

func (c Config) validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample ratio must be within [0,1], got %v", c.SampleRatio)
	}
	return nil
}

// Init installs the W3C trace-context propagator and, when an endpoint is
// configured, a batching OTLP/gRPC tracer provider. It returns the hook that
// flushes and stops the provider.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg Config) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithCompressor(gzip.Name),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	return exporter, nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(resourceAttributes(cfg)...),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

func resourceAttributes(cfg Config) []attribute.KeyValue {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(cfg.ServiceName)}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}

// Tracer returns the ingestion tracer from the global provider. It is looked
// up per call so spans follow a provider installed after startup.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartIngest opens the span covering one ingestion.
func StartIngest(ctx context.Context, ingestionID string, size int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ingestion.Ingest",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrIngestionID.String(ingestionID),
			AttrUploadSize.Int(size),
		),
	)
}

// Rejected marks span as a rejected upload. A rejection is the expected
// answer to bad input, so the span status stays unset.
func Rejected(span trace.Span, class, reason string) {
	span.SetAttributes(AttrOutcome.String("rejected"), AttrRejection.String(class))
	span.AddEvent("rejected", trace.WithAttributes(attribute.String("reason", reason)))
}

// Failed marks span as failed with err.
func Failed(span trace.Span, outcome string, err error) {
	span.RecordError(err)
	span.SetAttributes(AttrOutcome.String(outcome))
	span.SetStatus(codes.Error, err.Error())
}

// Completed marks span as a stored dataset version.
func Completed(span trace.Span, dataset string, version int) {
	span.SetAttributes(
		AttrDataset.String(dataset),
		AttrVersion.Int(version),
		AttrOutcome.String("completed"),
	)
	span.SetStatus(codes.Ok, "")
}

// Middleware continues a trace started by the caller: it extracts the
// propagated context from the request headers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseResourceAttributes reads the OTEL_RESOURCE_ATTRIBUTES "k=v,k2=v2"
// form, skipping malformed pairs.
func ParseResourceAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		attrs[key] = strings.TrimSpace(value)
	}
	return attrs
}

// Package observability configures OpenTelemetry tracing for the flight
// agent and provides span helpers used across the request path.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "flightagent"

	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var (
	mu             sync.RWMutex
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
)

// Config holds tracing configuration.
type Config struct {
	// ServiceName defaults to "flightagent".
	ServiceName string `yaml:"service_name"`

	// Exporter is "none", "stdout" or "otlp". Empty means "none".
	Exporter string `yaml:"tracing_exporter"`

	// OTLPEndpoint is the host:port of the OTLP/HTTP collector.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPHeaders are sent with every export, in "k1=v1,k2=v2" form.
	OTLPHeaders string `yaml:"otlp_headers"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"otlp_insecure"`
}

// Init installs a global tracer provider for the configured exporter.
func Init(ctx context.Context, cfg Config) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Exporter {
	case "", ExporterNone:
		slog.Debug("tracing disabled")
		mu.Lock()
		tracer = otel.GetTracerProvider().Tracer(cfg.ServiceName)
		mu.Unlock()
		return nil
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	case ExporterOTLP:
		exporter, err = createOTLPExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	default:
		return fmt.Errorf("unknown exporter type: %s", cfg.Exporter)
	}

	if err := InitWithExporter(ctx, cfg.ServiceName, exporter, false); err != nil {
		return err
	}
	slog.Info("tracing initialized", "exporter", cfg.Exporter, "endpoint", cfg.OTLPEndpoint)
	return nil
}

// InitWithExporter installs a tracer provider over exporter. With syncExport set
// spans are exported as they end, which tests rely on.
func InitWithExporter(ctx context.Context, serviceName string, exporter sdktrace.SpanExporter, syncExport bool) error {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	processor := sdktrace.WithBatcher(exporter)
	if syncExport {
		processor = sdktrace.WithSyncer(exporter)
	}
	tp := sdktrace.NewTracerProvider(processor, sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)

	mu.Lock()
	tracerProvider = tp
	tracer = tp.Tracer(serviceName)
	mu.Unlock()
	return nil
}

// Shutdown flushes and stops the tracer provider, if one was installed.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := tracerProvider
	tracerProvider = nil
	tracer = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return tp.Shutdown(ctx)
}

func currentTracer() trace.Tracer {
	mu.RLock()
	tr := tracer
	mu.RUnlock()
	if tr == nil {
		return otel.GetTracerProvider().Tracer(DefaultServiceName)
	}
	return tr
}

// StartSpan starts a child span of ctx carrying attrs.
func StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, *Span) {
	spanCtx, span := currentTracer().Start(ctx, name)
	if len(attrs) > 0 {
		kvs := make([]attribute.KeyValue, 0, len(attrs))
		for k, v := range attrs {
			kvs = append(kvs, convertToAttribute(k, v))
		}
		span.SetAttributes(kvs...)
	}
	return spanCtx, &Span{span: span, name: name}
}

// Span wraps an OpenTelemetry span. End is idempotent.
type Span struct {
	span  trace.Span
	name  string
	once  sync.Once
	ended bool
}

// End finishes the span.
func (s *Span) End() {
	if s == nil || s.span == nil {
		return
	}
	s.once.Do(func() {
		s.span.End()
		s.ended = true
	})
}

// Name returns the span name.
func (s *Span) Name() string { return s.name }

// IsEnded reports whether End was called.
func (s *Span) IsEnded() bool { return s.ended }

// SetAttribute adds an attribute to the span.
func (s *Span) SetAttribute(key string, value any) {
	if s != nil && s.span != nil {
		s.span.SetAttributes(convertToAttribute(key, value))
	}
}

// SetError records err and marks the span failed. A nil error is ignored.
func (s *Span) SetError(err error) {
	if s == nil || s.span == nil || err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

func createOTLPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	var opts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
	}
	if headers := parseHeaders(cfg.OTLPHeaders); len(headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(headers))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

func convertToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

func parseHeaders(s string) map[string]string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return headers
}

package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	if err := InitWithExporter(context.Background(), "test", exporter, true); err != nil {
		t.Fatalf("InitWithExporter failed: %v", err)
	}
	t.Cleanup(func() {
		_ = Shutdown(context.Background())
	})
	return exporter
}

func TestStartSpan(t *testing.T) {
	exporter := setupRecorder(t)

	tests := []struct {
		name     string
		spanName string
		attrs    map[string]any
		want     int
	}{
		{"nil attributes", "nil-attrs", nil, 0},
		{"empty attributes", "empty-attrs", map[string]any{}, 0},
		{"mixed attributes", "mixed-attrs", map[string]any{
			"string": "text",
			"int":    42,
			"float":  3.14,
			"bool":   true,
			"slice":  []string{"a", "b"},
			"map":    map[string]string{"nested": "value"},
		}, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter.Reset()

			_, span := StartSpan(context.Background(), tt.spanName, tt.attrs)
			if span.Name() != tt.spanName {
				t.Errorf("Name() = %q, want %q", span.Name(), tt.spanName)
			}
			span.End()

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("exported %d spans, want 1", len(spans))
			}
			if got := len(spans[0].Attributes); got != tt.want {
				t.Errorf("attributes = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStartSpan_Parenting(t *testing.T) {
	exporter := setupRecorder(t)

	ctx, parent := StartSpan(context.Background(), "parent", nil)
	_, child := StartSpan(ctx, "child", nil)
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("exported %d spans, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child span should be parented to the outer span")
	}
}

func TestSpan_EndIsIdempotent(t *testing.T) {
	exporter := setupRecorder(t)

	_, span := StartSpan(context.Background(), "once", nil)
	span.End()
	span.End()

	if !span.IsEnded() {
		t.Error("IsEnded() = false after End")
	}
	if got := len(exporter.GetSpans()); got != 1 {
		t.Errorf("exported %d spans, want 1", got)
	}
}

func TestSpan_SetError(t *testing.T) {
	exporter := setupRecorder(t)

	_, span := StartSpan(context.Background(), "failing", nil)
	span.SetError(nil)
	span.SetError(errors.New("stage failed"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status.Code)
	}
	if len(spans[0].Events) != 1 {
		t.Errorf("events = %d, want 1 recorded error", len(spans[0].Events))
	}
}

func TestSpan_NilSafe(t *testing.T) {
	var span *Span
	span.End()
	span.SetAttribute("k", "v")
	span.SetError(errors.New("x"))
}

func TestInit(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"disabled", Config{}, false},
		{"none", Config{Exporter: ExporterNone}, false},
		{"stdout", Config{Exporter: ExporterStdout}, false},
		{"unknown", Config{Exporter: "zipkin"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Init(context.Background(), tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
			_ = Shutdown(context.Background())
		})
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("Authorization=Basic abc, x-team = flights ,broken")
	if len(got) != 2 {
		t.Fatalf("parseHeaders returned %d headers, want 2: %v", len(got), got)
	}
	if got["Authorization"] != "Basic abc" || got["x-team"] != "flights" {
		t.Errorf("unexpected headers: %v", got)
	}
	if parseHeaders("") != nil {
		t.Error("empty input should yield nil")
	}
}

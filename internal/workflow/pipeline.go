// Package workflow runs the two-stage flight query pipeline: the price stage
// extracts a structured price record and the chart stage renders it.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
)

// Stage names.
const (
	StagePrice = "price"
	StageChart = "chart"
)

// PriceUnavailable is forwarded to the chart stage when no price record
// could be extracted.
const PriceUnavailable = "Failed to get flight information"

// Run statuses reported to the Observer.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StageFunc transforms the output of the previous stage.
type StageFunc func(ctx context.Context, input string) (string, error)

// Stage is one named step of the pipeline.
type Stage struct {
	Name string
	Run  StageFunc
}

// Observer receives pipeline outcomes.
type Observer interface {
	ObservePipelineRun(status string)
	ObserveStage(stage string, d time.Duration)
}

// Pipeline runs its stages in order, feeding each stage the previous output.
type Pipeline struct {
	stages   []Stage
	logger   *slog.Logger
	observer Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithObserver sets the run observer.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// New creates the price then chart pipeline.
func New(extractor Extractor, renderer ChartRenderer, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages: []Stage{
			{Name: StagePrice, Run: PriceStage(extractor)},
			{Name: StageChart, Run: ChartStage(renderer)},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stages returns the stage names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name
	}
	return names
}

// Run executes the pipeline for query and returns the final text.
func (p *Pipeline) Run(ctx context.Context, query string) (out string, err error) {
	if strings.TrimSpace(query) == "" {
		return "", apperror.Workflow("Query content cannot be empty")
	}

	ctx, span := observability.StartSpan(ctx, "workflow.run", map[string]any{
		"query.length": len(query),
	})
	defer func() {
		span.SetError(err)
		span.End()
		p.observeRun(err)
	}()

	out = query
	for _, stage := range p.stages {
		out, err = p.runStage(ctx, stage, out)
		if err != nil {
			return "", err
		}
	}

	if strings.TrimSpace(out) == "" {
		return "", apperror.Workflow("Workflow returned no result")
	}
	return out, nil
}

func (p *Pipeline) runStage(ctx context.Context, stage Stage, input string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "workflow.stage."+stage.Name, nil)
	defer span.End()

	start := time.Now()
	out, err := stage.Run(ctx, input)
	elapsed := time.Since(start)
	if p.observer != nil {
		p.observer.ObserveStage(stage.Name, elapsed)
	}

	if err != nil {
		span.SetError(err)
		p.logger.ErrorContext(ctx, "workflow stage failed",
			"stage", stage.Name,
			"duration", elapsed,
			"error", err,
		)
		return "", stageError(stage.Name, err)
	}

	p.logger.DebugContext(ctx, "workflow stage completed",
		"stage", stage.Name,
		"duration", elapsed,
		"output_length", len(out),
	)
	return out, nil
}

func (p *Pipeline) observeRun(err error) {
	if p.observer == nil {
		return
	}
	if err != nil {
		p.observer.ObservePipelineRun(StatusError)
		return
	}
	p.observer.ObservePipelineRun(StatusSuccess)
}

// stageError names the failing stage and keeps the kind of typed errors.
func stageError(stage string, err error) error {
	if appErr, ok := apperror.As(err); ok {
		return apperror.Wrap(appErr.Kind, err, fmt.Sprintf("%s stage: %s", stage, appErr.Message))
	}
	return apperror.Wrap(apperror.KindWorkflow, err, fmt.Sprintf("%s stage failed", stage))
}

// PriceStage extracts a price record and forwards its JSON encoding, or
// PriceUnavailable when there is none.
func PriceStage(extractor Extractor) StageFunc {
	return func(ctx context.Context, query string) (string, error) {
		info, err := extractor.ExtractFlightPrice(ctx, query)
		if err != nil {
			return "", err
		}
		if info == nil {
			return PriceUnavailable, nil
		}
		if info.Currency == "" {
			info.Currency = DefaultCurrency
		}
		data, err := json.Marshal(info)
		if err != nil {
			return "", fmt.Errorf("encode price record: %w", err)
		}
		return string(data), nil
	}
}

// ChartStage renders payload and concatenates the streamed fragments in
// arrival order.
func ChartStage(renderer ChartRenderer) StageFunc {
	return func(ctx context.Context, payload string) (string, error) {
		stream, err := renderer.RenderStream(ctx, payload)
		if err != nil {
			return "", err
		}
		defer stream.Close()

		var b strings.Builder
		for {
			fragment, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", fmt.Errorf("receive chart fragment: %w", err)
			}
			b.WriteString(fragment)
		}
		return b.String(), nil
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/internal/workflow"
)

const chartInstructions = `You are a chart generation assistant.
You receive flight price information as JSON with departure, destination, price, currency, airline and flight_class.
1. Read the JSON data.
2. You must call a chart tool to render a table or chart of the data. Never skip this step.
3. After the tool returns the chart URL, answer with a short friendly summary of the flight and the chart URL.
If the input says the flight information could not be found, say so briefly without calling a tool.`

// ChartAgent implements workflow.ChartRenderer with a streaming model turn
// that calls the chart tools. Text fragments are forwarded as they arrive.
type ChartAgent struct {
	client        ChatClient
	model         string
	tools         Toolbox
	gate          ToolGate
	maxIterations int
	logger        *slog.Logger
}

// ChartOption configures a ChartAgent.
type ChartOption func(*ChartAgent)

// WithChartGate vets tool arguments before they run.
func WithChartGate(g ToolGate) ChartOption {
	return func(a *ChartAgent) { a.gate = g }
}

// WithChartLogger sets the structured logger.
func WithChartLogger(l *slog.Logger) ChartOption {
	return func(a *ChartAgent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithChartMaxIterations bounds the tool-call rounds.
func WithChartMaxIterations(n int) ChartOption {
	return func(a *ChartAgent) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// NewChartAgent creates a chart agent over tools, usually an MCPToolbox.
func NewChartAgent(client ChatClient, model string, tools Toolbox, opts ...ChartOption) *ChartAgent {
	if model == "" {
		model = DefaultModel
	}
	if tools == nil {
		tools = LocalTools{}
	}
	a := &ChartAgent{
		client:        client,
		model:         model,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RenderStream implements workflow.ChartRenderer. The returned stream must
// be closed; closing it early cancels the model turn.
func (a *ChartAgent) RenderStream(ctx context.Context, payload string) (workflow.FragmentStream, error) {
	defs, err := a.tools.Definitions(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &fragmentStream{ch: make(chan fragment), cancel: cancel}
	go func() {
		defer close(s.ch)

		ctx, span := observability.StartSpan(ctx, "llm.render_chart", map[string]any{"model": a.model})
		defer span.End()

		emit := func(text string) bool {
			select {
			case s.ch <- fragment{text: text}:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := a.converse(ctx, payload, defs, emit); err != nil {
			span.SetError(err)
			select {
			case s.ch <- fragment{err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return s, nil
}

func (a *ChartAgent) converse(ctx context.Context, payload string, defs []openai.Tool, emit func(string) bool) error {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: chartInstructions},
		{Role: openai.ChatMessageRoleUser, Content: payload},
	}

	for i := 0; i < a.maxIterations; i++ {
		req := openai.ChatCompletionRequest{
			Model:    a.model,
			Messages: messages,
		}
		if len(defs) > 0 {
			req.Tools = defs
		}

		stream, err := a.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return fmt.Errorf("chart request: %w", err)
		}
		content, calls, err := consumeStream(ctx, stream, emit)
		if err != nil {
			return err
		}
		if len(calls) == 0 {
			return nil
		}

		a.logger.DebugContext(ctx, "chart agent calling tools", "round", i+1, "calls", len(calls))
		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   content,
			ToolCalls: calls,
		})
		for _, call := range calls {
			toolMsg, err := ExecuteToolCall(ctx, a.tools, a.gate, call)
			if err != nil {
				return err
			}
			messages = append(messages, toolMsg)
		}
	}
	return ErrMaxIterations
}

// consumeStream forwards content deltas and assembles tool calls, whose
// arguments arrive split across chunks keyed by index.
func consumeStream(ctx context.Context, stream ChatStream, emit func(string) bool) (string, []openai.ToolCall, error) {
	defer stream.Close()

	var content []byte
	calls := map[int]*openai.ToolCall{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("receive chart stream: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			content = append(content, delta.Content...)
			if !emit(delta.Content) {
				return "", nil, ctx.Err()
			}
		}
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[idx] = acc
			}
			if tc.ID != "" {
				acc.ID = tc.ID
			}
			if tc.Function.Name != "" {
				acc.Function.Name = tc.Function.Name
			}
			acc.Function.Arguments += tc.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	out := make([]openai.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, *calls[idx])
	}
	return string(content), out, nil
}

type fragment struct {
	text string
	err  error
}

// fragmentStream adapts the producer goroutine to workflow.FragmentStream.
type fragmentStream struct {
	ch     chan fragment
	cancel context.CancelFunc
	once   sync.Once
}

func (s *fragmentStream) Recv() (string, error) {
	f, ok := <-s.ch
	if !ok {
		return "", io.EOF
	}
	return f.text, f.err
}

func (s *fragmentStream) Close() error {
	s.once.Do(func() {
		s.cancel()
		for range s.ch {
		}
	})
	return nil
}

// Package agents holds the conversational copilot and the tools it and the
// workflow agents call.
package agents

import (
	"context"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/flightagent/internal/llm"
	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/history"
)

const copilotInstructions = `You are a professional flight ticket assistant.
When the user asks about ticket prices, call the query_flight_and_generate_chart tool. It looks up the price and produces a chart in one step.
Always reply to the user in friendly Simplified Chinese. If the user only greets you, ask which route they would like to check.`

// Gate vets user turns and tool calls.
type Gate interface {
	CheckTurn(ctx context.Context, messages []any) error
	CheckToolCall(ctx context.Context, function string, args map[string]any) error
}

// Observer receives the duration and outcome of each answer.
type Observer interface {
	ObserveAnswer(d time.Duration, err error)
}

// Copilot answers user turns for one conversation thread. Calls must not
// overlap; the history store does not serialize concurrent writers.
type Copilot struct {
	client        llm.ChatClient
	model         string
	tools         llm.Toolbox
	gate          Gate
	history       *history.Store
	maxIterations int
	logger        *slog.Logger
	observer      Observer
}

// CopilotOption configures a Copilot.
type CopilotOption func(*Copilot)

// WithModel sets the chat model.
func WithModel(model string) CopilotOption {
	return func(c *Copilot) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxIterations bounds the tool-call rounds of one answer.
func WithMaxIterations(n int) CopilotOption {
	return func(c *Copilot) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) CopilotOption {
	return func(c *Copilot) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver sets the answer observer.
func WithObserver(o Observer) CopilotOption {
	return func(c *Copilot) { c.observer = o }
}

// NewCopilot creates a copilot that keeps its conversation in store.
func NewCopilot(client llm.ChatClient, store *history.Store, gate Gate, tools llm.Toolbox, opts ...CopilotOption) *Copilot {
	if tools == nil {
		tools = llm.LocalTools{}
	}
	c := &Copilot{
		client:        client,
		model:         llm.DefaultModel,
		tools:         tools,
		gate:          gate,
		history:       store,
		maxIterations: llm.DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History returns the conversation store.
func (c *Copilot) History() *history.Store { return c.history }

// Answer runs one user turn: the turn is gated, the model may call tools,
// and the completed turn is appended to the history. A rejected turn leaves
// the history untouched.
func (c *Copilot) Answer(ctx context.Context, query string) (answer string, err error) {
	ctx, span := observability.StartSpan(ctx, "copilot.answer", map[string]any{
		"session_id": c.history.SessionID(),
		"thread_id":  c.history.ThreadID(),
	})
	start := time.Now()
	defer func() {
		span.SetError(err)
		span.End()
		if c.observer != nil {
			c.observer.ObserveAnswer(time.Since(start), err)
		}
	}()

	prior, err := c.history.ListMessages(ctx)
	if err != nil {
		return "", agentError(err)
	}

	turn := make([]any, 0, len(prior)+1)
	for _, m := range prior {
		turn = append(turn, m)
	}
	turn = append(turn, query)
	if c.gate != nil {
		if err := c.gate.CheckTurn(ctx, turn); err != nil {
			return "", err
		}
	}

	defs, err := c.tools.Definitions(ctx)
	if err != nil {
		return "", agentError(err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(prior)+2)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: copilotInstructions})
	messages = append(messages, replay(prior)...)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: query})

	record := []history.Message{history.NewMessage(history.RoleUser, query)}

	for i := 0; i < c.maxIterations; i++ {
		req := openai.ChatCompletionRequest{Model: c.model, Messages: messages}
		if len(defs) > 0 {
			req.Tools = defs
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", agentError(err)
		}
		if len(resp.Choices) == 0 {
			return "", apperror.Agent("Model returned no choices")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			record = append(record, history.NewMessage(history.RoleAssistant, msg.Content))
			if err := c.history.AddMessages(ctx, record); err != nil {
				return "", agentError(err)
			}
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			c.logger.DebugContext(ctx, "copilot calling tool", "tool", call.Function.Name)
			toolMsg, err := llm.ExecuteToolCall(ctx, c.tools, c.gate, call)
			if err != nil {
				return "", agentError(err)
			}
			messages = append(messages, toolMsg)

			stored := history.NewMessage(history.RoleTool, toolMsg.Content)
			stored.Name = call.Function.Name
			record = append(record, stored)
		}
	}

	return "", apperror.Wrap(apperror.KindAgent, llm.ErrMaxIterations, "Agent did not produce an answer")
}

// replay converts stored text messages back into chat messages. Tool results
// are skipped because the tool calls that produced them are not stored.
func replay(msgs []history.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		var role string
		switch m.Role {
		case history.RoleUser:
			role = openai.ChatMessageRoleUser
		case history.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			continue
		}
		text, ok := m.Content.(string)
		if !ok {
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: text})
	}
	return out
}

// agentError keeps typed errors and reports anything else as an agent
// failure.
func agentError(err error) error {
	if _, ok := apperror.As(err); ok {
		return err
	}
	return apperror.Wrap(apperror.KindAgent, err, "")
}

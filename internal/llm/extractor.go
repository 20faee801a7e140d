package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/flightagent/internal/observability"
	"github.com/aixgo-dev/flightagent/internal/workflow"
)

// DefaultMaxIterations bounds the tool-call rounds of one model turn.
const DefaultMaxIterations = 5

// ErrMaxIterations is returned when the model keeps calling tools.
var ErrMaxIterations = errors.New("model did not produce a final answer within the iteration limit")

const priceInstructions = `You are a flight price assistant. Help users check ticket prices between two locations.
Call the check_flight_price tool with the departure and destination named in the request, then report the result.
If the request does not name both a departure and a destination, return null for every field.`

// priceSchema is the structured output contract of the price stage. Every
// property is required because strict mode demands it; optional values are
// nullable instead.
var priceSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "departure": {"type": ["string", "null"]},
    "destination": {"type": ["string", "null"]},
    "price": {"type": ["number", "null"]},
    "currency": {"type": ["string", "null"]},
    "airline": {"type": ["string", "null"]},
    "flight_class": {"type": ["string", "null"]}
  },
  "required": ["departure", "destination", "price", "currency", "airline", "flight_class"],
  "additionalProperties": false
}`)

// PriceExtractor implements workflow.Extractor with a tool-calling model
// turn that ends in a JSON-schema constrained answer.
type PriceExtractor struct {
	client        ChatClient
	model         string
	tools         Toolbox
	gate          ToolGate
	maxIterations int
	logger        *slog.Logger
}

// ExtractorOption configures a PriceExtractor.
type ExtractorOption func(*PriceExtractor)

// WithExtractorGate vets tool arguments before they run.
func WithExtractorGate(g ToolGate) ExtractorOption {
	return func(e *PriceExtractor) { e.gate = g }
}

// WithExtractorLogger sets the structured logger.
func WithExtractorLogger(l *slog.Logger) ExtractorOption {
	return func(e *PriceExtractor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithExtractorMaxIterations bounds the tool-call rounds.
func WithExtractorMaxIterations(n int) ExtractorOption {
	return func(e *PriceExtractor) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// NewPriceExtractor creates an extractor that may call tools.
func NewPriceExtractor(client ChatClient, model string, tools Toolbox, opts ...ExtractorOption) *PriceExtractor {
	if model == "" {
		model = DefaultModel
	}
	if tools == nil {
		tools = LocalTools{}
	}
	e := &PriceExtractor{
		client:        client,
		model:         model,
		tools:         tools,
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractFlightPrice implements workflow.Extractor. An answer without both
// locations, or one that does not parse, yields a nil record.
func (e *PriceExtractor) ExtractFlightPrice(ctx context.Context, query string) (*workflow.FlightPriceInfo, error) {
	ctx, span := observability.StartSpan(ctx, "llm.extract_price", map[string]any{"model": e.model})
	defer span.End()

	defs, err := e.tools.Definitions(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: priceInstructions},
		{Role: openai.ChatMessageRoleUser, Content: query},
	}

	for i := 0; i < e.maxIterations; i++ {
		req := openai.ChatCompletionRequest{
			Model:    e.model,
			Messages: messages,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "flight_price_info",
					Schema: priceSchema,
					Strict: true,
				},
			},
		}
		if len(defs) > 0 {
			req.Tools = defs
		}

		resp, err := e.client.CreateChatCompletion(ctx, req)
		if err != nil {
			span.SetError(err)
			return nil, fmt.Errorf("price extraction request: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no choices in response")
		}

		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return e.parse(ctx, msg.Content), nil
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			toolMsg, err := ExecuteToolCall(ctx, e.tools, e.gate, call)
			if err != nil {
				span.SetError(err)
				return nil, err
			}
			messages = append(messages, toolMsg)
		}
	}

	span.SetError(ErrMaxIterations)
	return nil, ErrMaxIterations
}

func (e *PriceExtractor) parse(ctx context.Context, content string) *workflow.FlightPriceInfo {
	content = strings.TrimSpace(content)
	if content == "" || content == "null" {
		return nil
	}

	var raw struct {
		Departure   *string  `json:"departure"`
		Destination *string  `json:"destination"`
		Price       *float64 `json:"price"`
		Currency    *string  `json:"currency"`
		Airline     *string  `json:"airline"`
		FlightClass *string  `json:"flight_class"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		e.logger.WarnContext(ctx, "discarding unparsable price answer", "error", err)
		return nil
	}
	if raw.Departure == nil || raw.Destination == nil || *raw.Departure == "" || *raw.Destination == "" || raw.Price == nil {
		return nil
	}

	info := &workflow.FlightPriceInfo{
		Departure:   *raw.Departure,
		Destination: *raw.Destination,
		Price:       *raw.Price,
		Currency:    workflow.DefaultCurrency,
		Airline:     raw.Airline,
		FlightClass: raw.FlightClass,
	}
	if raw.Currency != nil && *raw.Currency != "" {
		info.Currency = *raw.Currency
	}
	return info
}

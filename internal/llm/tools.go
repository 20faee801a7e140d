package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// ToolHandler executes a tool with decoded JSON arguments.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	// Parameters is the JSON Schema of the arguments object.
	Parameters json.RawMessage
	Handler    ToolHandler
}

// Definition returns the tool in the form the chat API expects.
func (t Tool) Definition() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		},
	}
}

// Toolbox lists tools and dispatches calls to them.
type Toolbox interface {
	Definitions(ctx context.Context) ([]openai.Tool, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}

// ToolGate vets tool arguments before a tool runs.
type ToolGate interface {
	CheckToolCall(ctx context.Context, function string, args map[string]any) error
}

// LocalTools is a Toolbox of in-process tools.
type LocalTools []Tool

// Definitions implements Toolbox.
func (lt LocalTools) Definitions(context.Context) ([]openai.Tool, error) {
	defs := make([]openai.Tool, len(lt))
	for i, t := range lt {
		defs[i] = t.Definition()
	}
	return defs, nil
}

// Call implements Toolbox. String results are returned verbatim and other
// results are JSON-encoded.
func (lt LocalTools) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	for _, t := range lt {
		if t.Name != name {
			continue
		}
		result, err := t.Handler(ctx, args)
		if err != nil {
			return "", err
		}
		if s, ok := result.(string); ok {
			return s, nil
		}
		data, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("encode %s result: %w", name, err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("unknown tool: %s", name)
}

// DecodeArguments parses the JSON arguments of a tool call. Empty arguments
// decode to an empty map.
func DecodeArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
	}
	return args, nil
}

// ExecuteToolCall gates and runs one tool call, returning the tool message
// to append to the conversation.
func ExecuteToolCall(ctx context.Context, box Toolbox, gate ToolGate, call openai.ToolCall) (openai.ChatCompletionMessage, error) {
	args, err := DecodeArguments(call.Function.Arguments)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	if gate != nil {
		if err := gate.CheckToolCall(ctx, call.Function.Name, args); err != nil {
			return openai.ChatCompletionMessage{}, err
		}
	}

	result, err := box.Call(ctx, call.Function.Name, args)
	if err != nil {
		return openai.ChatCompletionMessage{}, err
	}
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    result,
		Name:       call.Function.Name,
		ToolCallID: call.ID,
	}, nil
}

// Package llm adapts the OpenAI chat API and the chart MCP server to the
// interfaces the workflow and agents consume.
package llm

import (
	"context"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// ChatClient is the subset of the OpenAI API the agents use.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

// ChatStream yields streamed completion chunks until io.EOF.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// Config configures the OpenAI-compatible endpoint.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// OpenAIClient implements ChatClient over go-openai.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a client for cfg. A missing API key is a
// configuration error.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, apperror.Configuration("OpenAI API key is not configured")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc)}, nil
}

// CreateChatCompletion sends a non-streaming request.
func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.client.CreateChatCompletion(ctx, req)
}

// CreateChatCompletionStream sends a streaming request.
func (c *OpenAIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	req.Stream = true
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

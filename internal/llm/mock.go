package llm

import (
	"context"
	"io"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// MockChatClient replays queued responses in order and records every
// request. It is safe for concurrent use.
type MockChatClient struct {
	mu sync.Mutex

	responses []openai.ChatCompletionResponse
	errors    []error
	calls     []openai.ChatCompletionRequest

	streams       [][]openai.ChatCompletionStreamResponse
	streamErrors  []error
	streamCalls   []openai.ChatCompletionRequest
	responseIndex int
	streamIndex   int
}

// NewMockChatClient creates an empty mock.
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{}
}

// AddResponse queues a response for CreateChatCompletion.
func (m *MockChatClient) AddResponse(resp openai.ChatCompletionResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	m.errors = append(m.errors, err)
}

// AddStream queues the chunks of one streamed response. A non-nil err is
// returned by CreateChatCompletionStream instead of the stream.
func (m *MockChatClient) AddStream(chunks []openai.ChatCompletionStreamResponse, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = append(m.streams, chunks)
	m.streamErrors = append(m.streamErrors, err)
}

// CreateChatCompletion returns the next queued response. An exhausted queue
// yields an empty response.
func (m *MockChatClient) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.responseIndex >= len(m.responses) {
		return openai.ChatCompletionResponse{}, nil
	}
	resp, err := m.responses[m.responseIndex], m.errors[m.responseIndex]
	m.responseIndex++
	return resp, err
}

// CreateChatCompletionStream returns the next queued stream. An exhausted
// queue yields an empty stream.
func (m *MockChatClient) CreateChatCompletionStream(_ context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.streamCalls = append(m.streamCalls, req)
	if m.streamIndex >= len(m.streams) {
		return &mockStream{}, nil
	}
	chunks, err := m.streams[m.streamIndex], m.streamErrors[m.streamIndex]
	m.streamIndex++
	if err != nil {
		return nil, err
	}
	return &mockStream{chunks: append([]openai.ChatCompletionStreamResponse(nil), chunks...)}, nil
}

// Calls returns the recorded non-streaming requests.
func (m *MockChatClient) Calls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), m.calls...)
}

// StreamCalls returns the recorded streaming requests.
func (m *MockChatClient) StreamCalls() []openai.ChatCompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]openai.ChatCompletionRequest(nil), m.streamCalls...)
}

type mockStream struct {
	chunks []openai.ChatCompletionStreamResponse
	closed bool
}

func (s *mockStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if s.closed || len(s.chunks) == 0 {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *mockStream) Close() error {
	s.closed = true
	return nil
}

// TextResponse builds a completion whose only choice is assistant text.
func TextResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

// ToolCallResponse builds a completion that requests one tool call.
func ToolCallResponse(id, name, arguments string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:       id,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: name, Arguments: arguments},
				}},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}
}

// TextChunks splits streamed assistant text into one chunk per fragment.
func TextChunks(fragments ...string) []openai.ChatCompletionStreamResponse {
	chunks := make([]openai.ChatCompletionStreamResponse, len(fragments))
	for i, f := range fragments {
		chunks[i] = openai.ChatCompletionStreamResponse{
			Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: f},
			}},
		}
	}
	return chunks
}

// ToolCallChunks streams one tool call with its arguments split in two
// deltas, the way the API delivers them.
func ToolCallChunks(index int, id, name, arguments string) []openai.ChatCompletionStreamResponse {
	half := len(arguments) / 2
	idx := index
	return []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
				Index: &idx, ID: id, Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{Name: name, Arguments: arguments[:half]},
			}}},
		}}},
		{Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{{
				Index:    &idx,
				Function: openai.FunctionCall{Arguments: arguments[half:]},
			}}},
			FinishReason: openai.FinishReasonToolCalls,
		}}},
	}
}

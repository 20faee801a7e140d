package gate

import (
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/aixgo-dev/flightagent/pkg/history"
)

// ExtractText returns the text carried by a message. It understands plain
// strings, generic maps (a "text" field wins over "content"), chat
// completion messages and their parts, and stored history messages. Lists of
// parts are joined with newlines. The second result is false when no text
// is present.
func ExtractText(v any) (string, bool) {
	switch m := v.(type) {
	case nil:
		return "", false
	case string:
		return m, true
	case map[string]any:
		if s, ok := m["text"].(string); ok {
			return s, true
		}
		if c, ok := m["content"]; ok {
			return ExtractText(c)
		}
		return "", false
	case []any:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := ExtractText(p); ok {
				parts = append(parts, s)
			}
		}
		return joinParts(parts)
	case openai.ChatMessagePart:
		if m.Type != "" && m.Type != openai.ChatMessagePartTypeText {
			return "", false
		}
		return m.Text, true
	case []openai.ChatMessagePart:
		parts := make([]string, 0, len(m))
		for _, p := range m {
			if s, ok := ExtractText(p); ok {
				parts = append(parts, s)
			}
		}
		return joinParts(parts)
	case openai.ChatCompletionMessage:
		if len(m.MultiContent) > 0 {
			if s, ok := ExtractText(m.MultiContent); ok {
				return s, true
			}
		}
		return m.Content, true
	case *openai.ChatCompletionMessage:
		if m == nil {
			return "", false
		}
		return ExtractText(*m)
	case history.Message:
		return ExtractText(m.Content)
	case *history.Message:
		if m == nil {
			return "", false
		}
		return ExtractText(m.Content)
	default:
		return "", false
	}
}

func joinParts(parts []string) (string, bool) {
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

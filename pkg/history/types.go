package history

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one entry of a thread's log. Content is either text or a
// structured payload; payloads are reduced with ToStorable before they are
// persisted, so messages read back carry JSON-shaped content.
type Message struct {
	ID        string     `json:"id,omitempty"`
	Role      Role       `json:"role"`
	Content   any        `json:"content"`
	Name      string     `json:"name,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// NewMessage creates a message with a fresh ID and the current time.
func NewMessage(role Role, content any) Message {
	now := time.Now().UTC()
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: &now,
	}
}

// Text returns the content when it is a string.
func (m Message) Text() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// Document is the persisted form of a thread: one document per thread,
// partitioned by session.
type Document struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	ThreadID  string    `json:"thread_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

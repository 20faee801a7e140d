package history

import (
	"errors"

	"github.com/google/uuid"
)

// Defaults for StoreConfig.
const (
	DefaultContainerName = "conversations"
	DefaultDatabaseName  = "maf_db"
)

// StoreConfig is the serializable identity of a Store.
type StoreConfig struct {
	ThreadID      string `json:"thread_id" yaml:"thread_id"`
	SessionID     string `json:"session_id" yaml:"session_id"`
	ContainerName string `json:"container_name" yaml:"container_name"`
	DatabaseName  string `json:"database_name" yaml:"database_name"`
	// MaxMessages bounds the retained messages. Nil means unbounded.
	MaxMessages *int `json:"max_messages" yaml:"max_messages"`
}

// MaxMessages returns a pointer to n, for StoreConfig literals.
func MaxMessages(n int) *int { return &n }

// IsZero reports whether no field is set.
func (c StoreConfig) IsZero() bool {
	return c.ThreadID == "" && c.SessionID == "" && c.ContainerName == "" &&
		c.DatabaseName == "" && c.MaxMessages == nil
}

// withDefaults fills generated IDs and default names.
func (c StoreConfig) withDefaults() StoreConfig {
	if c.SessionID == "" {
		c.SessionID = NewSessionID()
	}
	if c.ThreadID == "" {
		c.ThreadID = NewThreadID()
	}
	if c.ContainerName == "" {
		c.ContainerName = DefaultContainerName
	}
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.MaxMessages != nil {
		n := *c.MaxMessages
		c.MaxMessages = &n
	}
	return c
}

func (c StoreConfig) validate() error {
	if c.ThreadID == "" {
		return errors.New("thread_id is required")
	}
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.MaxMessages != nil && *c.MaxMessages < 0 {
		return errors.New("max_messages cannot be negative")
	}
	return nil
}

// NewSessionID returns a generated session identifier.
func NewSessionID() string { return "session_" + uuid.NewString() }

// NewThreadID returns a generated thread identifier.
func NewThreadID() string { return "thread_" + uuid.NewString() }

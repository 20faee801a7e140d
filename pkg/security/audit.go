package security

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Audit event types.
const (
	EventInputBlocked     = "security.input_blocked"
	EventSensitiveContent = "security.sensitive_content"
)

// AuditEvent records a security-relevant classification.
type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Source    Source    `json:"source"`
	Function  string    `json:"function,omitempty"`
	Argument  string    `json:"argument,omitempty"`
	Rule      Rule      `json:"rule,omitempty"`
	Matched   []string  `json:"matched,omitempty"`
	// Excerpt is a truncated, redacted prefix of the classified text.
	Excerpt string `json:"excerpt,omitempty"`
}

// AuditLogger receives audit events from a Filter.
type AuditLogger interface {
	Log(ctx context.Context, event *AuditEvent)
	Close() error
}

// InMemoryAuditLogger stores audit events in memory (for testing)
type InMemoryAuditLogger struct {
	events []AuditEvent
	mu     sync.RWMutex
}

// NewInMemoryAuditLogger creates a new in-memory audit logger
func NewInMemoryAuditLogger() *InMemoryAuditLogger {
	return &InMemoryAuditLogger{}
}

// Log records an audit event
func (l *InMemoryAuditLogger) Log(_ context.Context, event *AuditEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, *event)
}

// Events returns a copy of all recorded events.
func (l *InMemoryAuditLogger) Events() []AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]AuditEvent(nil), l.events...)
}

// Close is a no-op.
func (l *InMemoryAuditLogger) Close() error { return nil }

// SlogAuditLogger writes audit events as structured log records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger on top of logger. A nil logger
// selects slog.Default().
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("component", "audit")}
}

// Log writes the event. Blocked inputs are logged at warn level, sensitive
// content at info.
func (l *SlogAuditLogger) Log(ctx context.Context, event *AuditEvent) {
	level := slog.LevelInfo
	if event.EventType == EventInputBlocked {
		level = slog.LevelWarn
	}

	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("source", string(event.Source)),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.Function != "" {
		attrs = append(attrs, slog.String("function", event.Function))
	}
	if event.Argument != "" {
		attrs = append(attrs, slog.String("argument", event.Argument))
	}
	if event.Rule != "" {
		attrs = append(attrs, slog.String("rule", string(event.Rule)))
	}
	if len(event.Matched) > 0 {
		attrs = append(attrs, slog.Any("matched", event.Matched))
	}
	if event.Excerpt != "" {
		attrs = append(attrs, slog.String("excerpt", event.Excerpt))
	}

	l.logger.LogAttrs(ctx, level, "[SECURITY AUDIT]", attrs...)
}

// Close is a no-op.
func (l *SlogAuditLogger) Close() error { return nil }

// NoOpAuditLogger discards events.
type NoOpAuditLogger struct{}

// NewNoOpAuditLogger creates a no-op audit logger
func NewNoOpAuditLogger() *NoOpAuditLogger {
	return &NoOpAuditLogger{}
}

func (NoOpAuditLogger) Log(context.Context, *AuditEvent) {}

func (NoOpAuditLogger) Close() error { return nil }

// Package history persists bounded conversation logs, one document per
// thread, partitioned by session.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Observer receives the outcome of each store operation.
type Observer interface {
	ObserveHistoryOperation(op string, err error)
}

// Store is the message log of one thread. The storage handle is opened on
// first use and dropped whenever the identity changes.
//
// AddMessages reads, appends and upserts without a version check, so two
// concurrent writers to the same thread can lose one another's messages.
// Use one Store per conversation and call it sequentially.
type Store struct {
	backend Backend

	mu     sync.RWMutex
	cfg    StoreConfig
	handle DocumentStore

	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store for the thread identified by cfg. Missing IDs are
// generated and missing names take their defaults.
func NewStore(backend Backend, cfg StoreConfig, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID returns the partition key of the thread.
func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.SessionID
}

// ThreadID returns the document ID of the thread.
func (s *Store) ThreadID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.ThreadID
}

// AddMessages appends batch to the thread, trimming the oldest messages when
// the retention limit is exceeded. An empty batch does nothing.
func (s *Store) AddMessages(ctx context.Context, batch []Message) (err error) {
	if len(batch) == 0 {
		return nil
	}
	defer func() { s.observe("add_messages", err) }()

	container, cfg, err := s.container(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	doc, err := container.Read(ctx, cfg.ThreadID, cfg.SessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		doc = &Document{
			ID:        cfg.ThreadID,
			SessionID: cfg.SessionID,
			ThreadID:  cfg.ThreadID,
			Messages:  []Message{},
			CreatedAt: now,
		}
	case err != nil:
		return fmt.Errorf("read thread %s: %w", cfg.ThreadID, err)
	}

	for _, m := range batch {
		m.Content = ToStorable(m.Content)
		doc.Messages = append(doc.Messages, m)
	}
	doc.UpdatedAt = now

	if cfg.MaxMessages != nil && len(doc.Messages) > *cfg.MaxMessages {
		trimmed := len(doc.Messages) - *cfg.MaxMessages
		doc.Messages = append([]Message(nil), doc.Messages[trimmed:]...)
		s.logger.DebugContext(ctx, "trimmed thread history",
			"thread_id", cfg.ThreadID,
			"dropped", trimmed,
			"max_messages", *cfg.MaxMessages,
		)
	}

	if err := container.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("upsert thread %s: %w", cfg.ThreadID, err)
	}
	return nil
}

// ListMessages returns the thread's messages, oldest first. A thread that
// was never written has no messages.
func (s *Store) ListMessages(ctx context.Context) (msgs []Message, err error) {
	defer func() { s.observe("list_messages", err) }()

	container, cfg, err := s.container(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := container.Read(ctx, cfg.ThreadID, cfg.SessionID)
	if errors.Is(err, ErrNotFound) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", cfg.ThreadID, err)
	}
	if doc.Messages == nil {
		return []Message{}, nil
	}
	return doc.Messages, nil
}

// Clear deletes the thread. Clearing a thread that does not exist succeeds.
func (s *Store) Clear(ctx context.Context) (err error) {
	defer func() { s.observe("clear", err) }()

	container, cfg, err := s.container(ctx)
	if err != nil {
		return err
	}

	err = container.Delete(ctx, cfg.ThreadID, cfg.SessionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete thread %s: %w", cfg.ThreadID, err)
	}
	return nil
}

// Serialize returns the store's identity.
func (s *Store) Serialize() StoreConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.cfg
	if cfg.MaxMessages != nil {
		n := *cfg.MaxMessages
		cfg.MaxMessages = &n
	}
	return cfg
}

// UpdateFromState replaces the store's identity with state and drops the
// cached handle so the next operation reopens under the new identity. A zero
// state is ignored.
func (s *Store) UpdateFromState(state StoreConfig) error {
	if state.IsZero() {
		return nil
	}
	if err := state.validate(); err != nil {
		return fmt.Errorf("invalid store state: %w", err)
	}

	s.mu.Lock()
	s.cfg = state.withDefaults()
	s.handle = nil
	s.mu.Unlock()
	return nil
}

// container returns the cached handle, opening it if needed, along with the
// identity it was opened for.
func (s *Store) container(ctx context.Context) (DocumentStore, StoreConfig, error) {
	s.mu.RLock()
	handle, cfg := s.handle, s.cfg
	s.mu.RUnlock()
	if handle != nil {
		return handle, cfg, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		return s.handle, s.cfg, nil
	}

	handle, err := s.backend.Open(ctx, s.cfg.DatabaseName, s.cfg.ContainerName)
	if err != nil {
		return nil, s.cfg, fmt.Errorf("open container %s/%s: %w", s.cfg.DatabaseName, s.cfg.ContainerName, err)
	}
	s.handle = handle
	return handle, s.cfg, nil
}

func (s *Store) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveHistoryOperation(op, err)
	}
}

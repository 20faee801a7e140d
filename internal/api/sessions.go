package api

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aixgo-dev/flightagent/agents"
	"github.com/aixgo-dev/flightagent/pkg/apperror"
	"github.com/aixgo-dev/flightagent/pkg/history"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_:-][A-Za-z0-9_.:-]{0,127}$`)

// CopilotFactory builds the copilot of one conversation thread.
type CopilotFactory func(sessionID, threadID string) *agents.Copilot

// Sessions keeps one copilot per (session, thread). Turns of one thread are
// serialized; different threads run concurrently.
type Sessions struct {
	newCopilot CopilotFactory
	now        func() time.Time

	mu      sync.Mutex
	entries map[sessionKey]*session
}

type sessionKey struct {
	sessionID string
	threadID  string
}

// session is a cached copilot. users, lastUsed and forgotten are guarded by
// Sessions.mu; an entry leaves the map only while users is zero.
type session struct {
	mu        sync.Mutex
	copilot   *agents.Copilot
	users     int
	lastUsed  time.Time
	forgotten bool
}

// NewSessions creates an empty registry.
func NewSessions(factory CopilotFactory) *Sessions {
	return &Sessions{
		newCopilot: factory,
		now:        time.Now,
		entries:    make(map[sessionKey]*session),
	}
}

// ValidateID checks a client-supplied session or thread identifier.
func ValidateID(kind, id string) error {
	if !idPattern.MatchString(id) || strings.Contains(id, "..") {
		return apperror.Validation("Invalid " + kind + " ID")
	}
	return nil
}

// Resolve fills missing identifiers with fresh ones and validates the rest.
func Resolve(sessionID, threadID string) (string, string, error) {
	if sessionID == "" {
		sessionID = history.NewSessionID()
	}
	if threadID == "" {
		threadID = history.NewThreadID()
	}
	if err := ValidateID("session", sessionID); err != nil {
		return "", "", err
	}
	if err := ValidateID("thread", threadID); err != nil {
		return "", "", err
	}
	return sessionID, threadID, nil
}

func (s *Sessions) acquire(sessionID, threadID string) (sessionKey, *session) {
	key := sessionKey{sessionID, threadID}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &session{copilot: s.newCopilot(sessionID, threadID)}
		s.entries[key] = entry
	}
	entry.users++
	entry.lastUsed = s.now()
	return key, entry
}

func (s *Sessions) release(key sessionKey, entry *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.users--
	entry.lastUsed = s.now()
	if entry.users == 0 && entry.forgotten {
		delete(s.entries, key)
	}
}

// Do runs fn with the thread's copilot while holding the thread's lock.
func (s *Sessions) Do(sessionID, threadID string, fn func(*agents.Copilot) error) error {
	key, entry := s.acquire(sessionID, threadID)
	defer s.release(key, entry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.copilot)
}

// Forget drops the thread's copilot. The stored history is not touched. An
// entry still in use is dropped when its last turn finishes.
func (s *Sessions) Forget(sessionID, threadID string) {
	key := sessionKey{sessionID, threadID}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return
	}
	if entry.users > 0 {
		entry.forgotten = true
		return
	}
	delete(s.entries, key)
}

// Sweep drops copilots unused for longer than idle and returns how many
// were dropped. Busy copilots are kept. Dropped history stays in the store
// and is reloaded on the next turn.
func (s *Sessions) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if entry.users == 0 && entry.lastUsed.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached copilots.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

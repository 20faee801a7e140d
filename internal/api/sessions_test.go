package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/flightagent/agents"
	"github.com/aixgo-dev/flightagent/internal/llm"
	"github.com/aixgo-dev/flightagent/pkg/history"
)

func newTestSessions() (*Sessions, *int) {
	built := 0
	backend := history.NewMemoryBackend()
	s := NewSessions(func(sessionID, threadID string) *agents.Copilot {
		built++
		store := history.NewStore(backend, history.StoreConfig{SessionID: sessionID, ThreadID: threadID})
		return agents.NewCopilot(llm.NewMockChatClient(), store, nil, llm.LocalTools{})
	})
	return s, &built
}

func TestSessions_ReusesCopilot(t *testing.T) {
	s, built := newTestSessions()

	var first, second *agents.Copilot
	require.NoError(t, s.Do("s1", "t1", func(c *agents.Copilot) error { first = c; return nil }))
	require.NoError(t, s.Do("s1", "t1", func(c *agents.Copilot) error { second = c; return nil }))
	require.NoError(t, s.Do("s1", "t2", func(*agents.Copilot) error { return nil }))

	assert.Same(t, first, second)
	assert.Equal(t, 2, *built)
	assert.Equal(t, "s1", first.History().SessionID())
	assert.Equal(t, "t1", first.History().ThreadID())

	s.Forget("s1", "t1")
	assert.Equal(t, 1, s.Len())
}

func TestSessions_SerializesThread(t *testing.T) {
	s, _ := newTestSessions()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("s1", "t1", func(*agents.Copilot) error {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestSessions_Sweep(t *testing.T) {
	s, _ := newTestSessions()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Do("old", "t", func(*agents.Copilot) error { return nil }))
	now = now.Add(time.Hour)
	require.NoError(t, s.Do("new", "t", func(*agents.Copilot) error { return nil }))

	assert.Equal(t, 1, s.Sweep(30*time.Minute))
	assert.Equal(t, 1, s.Len())
}

func TestResolve(t *testing.T) {
	sid, tid, err := Resolve("", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sid)
	assert.NotEmpty(t, tid)

	sid, tid, err = Resolve("session-1", "thread_1.a")
	require.NoError(t, err)
	assert.Equal(t, "session-1", sid)
	assert.Equal(t, "thread_1.a", tid)

	for _, bad := range []string{"../x", "a/b", `a\b`, ".hidden", "has space", "a..b"} {
		_, _, err := Resolve(bad, "t")
		assert.Error(t, err, bad)
	}
}

func TestServer_Sweep(t *testing.T) {
	s, _ := newTestSessions()
	srv := NewServer(Config{}, s, nil)
	require.NoError(t, s.Do("s", "t", func(*agents.Copilot) error { return nil }))

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	sessions, clients := srv.Sweep(time.Minute)
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 0, clients)
}

func TestSessions_BusyThreadSurvivesSweepAndForget(t *testing.T) {
	s, built := newTestSessions()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	turn := func(wait <-chan struct{}) func(*agents.Copilot) error {
		return func(*agents.Copilot) error {
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			if wait != nil {
				<-wait
			}
			mu.Lock()
			active--
			mu.Unlock()
			return nil
		}
	}

	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Do("s", "t", func(c *agents.Copilot) error {
			close(started)
			return turn(release)(c)
		})
	}()
	<-started

	s.mu.Lock()
	now = now.Add(time.Hour)
	s.mu.Unlock()
	assert.Equal(t, 0, s.Sweep(time.Minute), "a busy thread is not swept")
	s.Forget("s", "t")
	assert.Equal(t, 1, s.Len(), "a busy thread is forgotten only after its turn")

	secondDone := make(chan error, 1)
	go func() { secondDone <- s.Do("s", "t", turn(nil)) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		e := s.entries[sessionKey{"s", "t"}]
		return e != nil && e.users == 2
	}, time.Second, time.Millisecond, "the second turn waits on the same entry")
	close(release)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)

	assert.Equal(t, 1, maxSeen, "turns of one thread never overlap")
	assert.Equal(t, 1, *built, "both turns used the same copilot")
	assert.Equal(t, 0, s.Len(), "the forgotten entry is dropped by its last user")
}

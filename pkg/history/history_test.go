package history

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openCall struct {
	database, container string
}

// countingBackend records Open calls on top of a MemoryBackend.
type countingBackend struct {
	*MemoryBackend
	mu    sync.Mutex
	opens []openCall
}

func newCountingBackend() *countingBackend {
	return &countingBackend{MemoryBackend: NewMemoryBackend()}
}

func (b *countingBackend) Open(ctx context.Context, database, container string) (DocumentStore, error) {
	b.mu.Lock()
	b.opens = append(b.opens, openCall{database, container})
	b.mu.Unlock()
	return b.MemoryBackend.Open(ctx, database, container)
}

func (b *countingBackend) openCalls() []openCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]openCall(nil), b.opens...)
}

func textMessages(texts ...string) []Message {
	msgs := make([]Message, len(texts))
	for i, t := range texts {
		msgs[i] = Message{Role: RoleUser, Content: t}
	}
	return msgs
}

func contents(msgs []Message) []any {
	out := make([]any, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func TestNewStore_Defaults(t *testing.T) {
	store := NewStore(NewMemoryBackend(), StoreConfig{})
	cfg := store.Serialize()

	assert.True(t, strings.HasPrefix(cfg.SessionID, "session_"))
	assert.True(t, strings.HasPrefix(cfg.ThreadID, "thread_"))
	assert.Equal(t, DefaultContainerName, cfg.ContainerName)
	assert.Equal(t, DefaultDatabaseName, cfg.DatabaseName)
	assert.Nil(t, cfg.MaxMessages)

	other := NewStore(NewMemoryBackend(), StoreConfig{})
	assert.NotEqual(t, cfg.ThreadID, other.ThreadID())
}

func TestStore_AddAndListPreservesOrder(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), StoreConfig{SessionID: "s1", ThreadID: "t1"})

	batch := textMessages("hello", "show me flights to Tokyo", "thanks")
	require.NoError(t, store.AddMessages(ctx, batch))

	got, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestStore_AddMessagesEmptyBatchDoesNotWrite(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend, StoreConfig{})

	require.NoError(t, store.AddMessages(ctx, nil))
	require.NoError(t, store.AddMessages(ctx, []Message{}))

	assert.Equal(t, 0, backend.Writes())
	assert.Equal(t, 0, backend.Reads())
	assert.Equal(t, 0, backend.Len())
}

func TestStore_ListMessagesNeverWritten(t *testing.T) {
	store := NewStore(NewMemoryBackend(), StoreConfig{})

	got, err := store.ListMessages(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_RetentionTrim(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), StoreConfig{MaxMessages: MaxMessages(3)})

	require.NoError(t, store.AddMessages(ctx, textMessages("m1", "m2")))
	require.NoError(t, store.AddMessages(ctx, textMessages("m3", "m4")))

	got, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"m2", "m3", "m4"}, contents(got))
}

func TestStore_RetentionKeepsMostRecentSuffix(t *testing.T) {
	ctx := context.Background()

	for _, limit := range []int{1, 2, 5, 7} {
		t.Run(fmt.Sprintf("max_%d", limit), func(t *testing.T) {
			store := NewStore(NewMemoryBackend(), StoreConfig{MaxMessages: MaxMessages(limit)})

			var all []any
			n := 0
			for _, size := range []int{1, 3, 2, 4, 1} {
				batch := make([]Message, size)
				for i := range batch {
					n++
					text := fmt.Sprintf("m%d", n)
					batch[i] = Message{Role: RoleUser, Content: text}
					all = append(all, text)
				}
				require.NoError(t, store.AddMessages(ctx, batch))

				got, err := store.ListMessages(ctx)
				require.NoError(t, err)
				require.LessOrEqual(t, len(got), limit)

				want := all
				if len(want) > limit {
					want = want[len(want)-limit:]
				}
				assert.Equal(t, want, contents(got))
			}
		})
	}
}

func TestStore_DocumentShape(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	created := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clock := created
	store := NewStore(backend, StoreConfig{SessionID: "s1", ThreadID: "t1"},
		WithClock(func() time.Time { return clock }))

	require.NoError(t, store.AddMessages(ctx, textMessages("first")))
	clock = clock.Add(time.Minute)
	require.NoError(t, store.AddMessages(ctx, textMessages("second")))

	container, err := backend.Open(ctx, DefaultDatabaseName, DefaultContainerName)
	require.NoError(t, err)
	doc, err := container.Read(ctx, "t1", "s1")
	require.NoError(t, err)

	assert.Equal(t, "t1", doc.ID)
	assert.Equal(t, "t1", doc.ThreadID)
	assert.Equal(t, "s1", doc.SessionID)
	assert.True(t, doc.CreatedAt.Equal(created))
	assert.True(t, doc.UpdatedAt.Equal(created.Add(time.Minute)))
	assert.Len(t, doc.Messages, 2)
}

func TestStore_PartitionIsolation(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()

	a := NewStore(backend, StoreConfig{SessionID: "s1", ThreadID: "shared"})
	b := NewStore(backend, StoreConfig{SessionID: "s2", ThreadID: "shared"})

	require.NoError(t, a.AddMessages(ctx, textMessages("from s1")))

	got, err := b.ListMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_StructuredContent(t *testing.T) {
	ctx := context.Background()
	store := NewStore(NewMemoryBackend(), StoreConfig{})

	type price struct {
		Departure string  `json:"departure"`
		Price     float64 `json:"price"`
		internal  string
	}
	require.NoError(t, store.AddMessages(ctx, []Message{
		{Role: RoleTool, Name: "check_flight_price", Content: price{Departure: "Beijing", Price: 350, internal: "x"}},
	}))

	got, err := store.ListMessages(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{"departure": "Beijing", "price": 350.0}, got[0].Content)
	assert.Equal(t, "check_flight_price", got[0].Name)
}

func TestStore_NonFiniteFloatsAreStored(t *testing.T) {
	fileBackend, err := NewFileBackend(t.TempDir())
	require.NoError(t, err)

	backends := map[string]Backend{
		"memory": NewMemoryBackend(),
		"file":   fileBackend,
	}
	for name, backend := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := NewStore(backend, StoreConfig{SessionID: "s", ThreadID: "t"})

			require.NoError(t, store.AddMessages(ctx, []Message{{
				Role:    RoleTool,
				Content: map[string]any{"price": math.NaN(), "max": math.Inf(1), "min": math.Inf(-1), "tax": 12.5},
			}}))

			got, err := store.ListMessages(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, map[string]any{"price": "NaN", "max": "+Inf", "min": "-Inf", "tax": 12.5}, got[0].Content)
		})
	}
}

func TestStore_Clear(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	store := NewStore(backend, StoreConfig{})

	// Clearing a thread that was never created succeeds.
	require.NoError(t, store.Clear(ctx))

	require.NoError(t, store.AddMessages(ctx, textMessages("hello")))
	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx))

	got, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, backend.Len())
}

func TestStore_SerializeRoundTrip(t *testing.T) {
	original := NewStore(NewMemoryBackend(), StoreConfig{
		SessionID:     "session_abc",
		ThreadID:      "thread_xyz",
		ContainerName: "chats",
		DatabaseName:  "flights",
		MaxMessages:   MaxMessages(10),
	})
	state := original.Serialize()

	fresh := NewStore(NewMemoryBackend(), StoreConfig{
		SessionID:     "session_abc",
		ThreadID:      "thread_xyz",
		ContainerName: "chats",
		DatabaseName:  "flights",
		MaxMessages:   MaxMessages(10),
	})
	require.NoError(t, fresh.UpdateFromState(state))

	assert.Equal(t, state, fresh.Serialize())

	// The exported state does not alias the store.
	*state.MaxMessages = 99
	assert.Equal(t, 10, *original.Serialize().MaxMessages)
}

func TestStore_UpdateFromStateInvalidatesHandle(t *testing.T) {
	ctx := context.Background()
	backend := newCountingBackend()
	store := NewStore(backend, StoreConfig{SessionID: "s1", ThreadID: "t1"})

	require.NoError(t, store.AddMessages(ctx, textMessages("old thread")))
	_, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, backend.openCalls(), 1, "handle should be cached")

	require.NoError(t, store.UpdateFromState(StoreConfig{
		SessionID:     "s2",
		ThreadID:      "t2",
		ContainerName: "archive",
	}))

	got, err := store.ListMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	calls := backend.openCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, openCall{DefaultDatabaseName, "archive"}, calls[1])
}

func TestStore_UpdateFromStateValidation(t *testing.T) {
	store := NewStore(NewMemoryBackend(), StoreConfig{SessionID: "s1", ThreadID: "t1"})

	require.NoError(t, store.UpdateFromState(StoreConfig{}))
	assert.Equal(t, "t1", store.ThreadID())

	err := store.UpdateFromState(StoreConfig{SessionID: "s2"})
	require.Error(t, err)
	assert.Equal(t, "t1", store.ThreadID())

	err = store.UpdateFromState(StoreConfig{SessionID: "s2", ThreadID: "t2", MaxMessages: MaxMessages(-1)})
	require.Error(t, err)
}

func TestStore_ConcurrentAddSameThread(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	cfg := StoreConfig{SessionID: "s1", ThreadID: "t1"}
	a := NewStore(backend, cfg)
	b := NewStore(backend, cfg)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, s := range []*Store{a, b} {
		wg.Add(1)
		go func(s *Store, text string) {
			defer wg.Done()
			errs <- s.AddMessages(ctx, textMessages(text))
		}(s, s.ThreadID()+fmt.Sprintf("-%p", s))
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Read-modify-upsert is not atomic: one write may overwrite the other.
	got, err := a.ListMessages(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(got), 1)
	assert.LessOrEqual(t, len(got), 2)
}

type failingBackend struct {
	*MemoryBackend
	openErr error
}

func (b *failingBackend) Open(ctx context.Context, database, container string) (DocumentStore, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.MemoryBackend.Open(ctx, database, container)
}

type recordingObserver struct {
	ops []string
}

func (o *recordingObserver) ObserveHistoryOperation(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	o.ops = append(o.ops, op+":"+status)
}

func TestStore_OpenErrorIsReported(t *testing.T) {
	ctx := context.Background()
	openErr := errors.New("endpoint unreachable")
	observer := &recordingObserver{}
	store := NewStore(&failingBackend{MemoryBackend: NewMemoryBackend(), openErr: openErr}, StoreConfig{},
		WithObserver(observer))

	err := store.AddMessages(ctx, textMessages("hello"))
	require.ErrorIs(t, err, openErr)

	_, err = store.ListMessages(ctx)
	require.ErrorIs(t, err, openErr)

	assert.Equal(t, []string{"add_messages:error", "list_messages:error"}, observer.ops)
}

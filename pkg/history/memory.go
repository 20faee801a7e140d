package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBackend keeps documents in process memory. Documents are stored in
// their JSON form, so reads observe the same shapes as the remote backends.
type MemoryBackend struct {
	mu     sync.Mutex
	docs   map[string][]byte
	closed bool

	reads   int
	upserts int
	deletes int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string][]byte)}
}

// Open returns a view of one container.
func (b *MemoryBackend) Open(_ context.Context, database, container string) (DocumentStore, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrStoreClosed
	}
	return &memoryContainer{backend: b, prefix: database + "/" + container + "/"}, nil
}

// Ping always succeeds while the backend is open.
func (b *MemoryBackend) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close discards all documents.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.docs = nil
	return nil
}

// Writes returns the number of upserts issued.
func (b *MemoryBackend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upserts
}

// Reads returns the number of reads issued.
func (b *MemoryBackend) Reads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reads
}

// Len returns the number of stored documents.
func (b *MemoryBackend) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

type memoryContainer struct {
	backend *MemoryBackend
	prefix  string
}

func (c *memoryContainer) key(id, partitionKey string) string {
	return c.prefix + partitionKey + "/" + id
}

func (c *memoryContainer) Read(_ context.Context, id, partitionKey string) (*Document, error) {
	b := c.backend
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrStoreClosed
	}
	b.reads++
	data, ok := b.docs[c.key(id, partitionKey)]
	b.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

func (c *memoryContainer) Upsert(_ context.Context, doc *Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStoreClosed
	}
	b.upserts++
	b.docs[c.key(doc.ID, doc.SessionID)] = data
	return nil
}

func (c *memoryContainer) Delete(_ context.Context, id, partitionKey string) error {
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrStoreClosed
	}
	b.deletes++
	delete(b.docs, c.key(id, partitionKey))
	return nil
}

package history

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	// ErrNotFound is returned by Read when no document exists for the id and
	// partition key.
	ErrNotFound = errors.New("document not found")
	// ErrStoreClosed is returned when operating on a closed backend.
	ErrStoreClosed = errors.New("document store is closed")
)

// DocumentStore persists thread documents inside one container.
// Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Read returns the document with the given id in the given partition,
	// or ErrNotFound.
	Read(ctx context.Context, id, partitionKey string) (*Document, error)

	// Upsert writes the whole document, creating or replacing it.
	Upsert(ctx context.Context, doc *Document) error

	// Delete removes the document. A missing document is not an error.
	Delete(ctx context.Context, id, partitionKey string) error
}

// Backend opens container-scoped document stores over a shared connection.
type Backend interface {
	// Open returns the container named by database and container. It may
	// establish the shared connection on first use.
	Open(ctx context.Context, database, container string) (DocumentStore, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the shared connection.
	Close() error
}

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
)

// FirestoreConfig identifies the Firestore project holding thread documents.
type FirestoreConfig struct {
	ProjectID string `yaml:"project_id"`
	// CredentialsFile is a service account key. Empty uses Application
	// Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`
}

// FirestoreBackend stores thread documents at
// <database>/<container>/<session-id>/<thread-id>, so the partition key is
// part of the document path. The client is created on first use and shared
// by every container.
type FirestoreBackend struct {
	cfg FirestoreConfig

	mu     sync.Mutex
	client *firestore.Client
	closed bool
}

// NewFirestoreBackend creates a backend. No connection is made until the
// first Open or Ping.
func NewFirestoreBackend(cfg FirestoreConfig) *FirestoreBackend {
	return &FirestoreBackend{cfg: cfg}
}

// NewFirestoreBackendFromClient wraps an existing client.
func NewFirestoreBackendFromClient(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (f *FirestoreBackend) getClient(ctx context.Context) (*firestore.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrStoreClosed
	}
	if f.client != nil {
		return f.client, nil
	}
	if f.cfg.ProjectID == "" {
		return nil, apperror.Configuration("Firestore project ID is not configured")
	}

	var clientOpts []option.ClientOption
	if f.cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(f.cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, f.cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	f.client = client
	return client, nil
}

// Open returns a view of one container.
func (f *FirestoreBackend) Open(ctx context.Context, database, container string) (DocumentStore, error) {
	client, err := f.getClient(ctx)
	if err != nil {
		return nil, err
	}
	return &firestoreContainer{root: client.Collection(database).Doc(container)}, nil
}

// Ping lists one collection to check connectivity and credentials.
func (f *FirestoreBackend) Ping(ctx context.Context) error {
	client, err := f.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collections(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping failed: %w", err)
	}
	return nil
}

// Close closes the client if one was created.
func (f *FirestoreBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}

type firestoreContainer struct {
	root *firestore.DocumentRef
}

func (c *firestoreContainer) ref(id, partitionKey string) *firestore.DocumentRef {
	return c.root.Collection(partitionKey).Doc(id)
}

func (c *firestoreContainer) Read(ctx context.Context, id, partitionKey string) (*Document, error) {
	snap, err := c.ref(id, partitionKey).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	return dataToDocument(snap.Data())
}

func (c *firestoreContainer) Upsert(ctx context.Context, doc *Document) error {
	data, err := documentToData(doc)
	if err != nil {
		return err
	}
	if _, err := c.ref(doc.ID, doc.SessionID).Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set document %s: %w", doc.ID, err)
	}
	return nil
}

func (c *firestoreContainer) Delete(ctx context.Context, id, partitionKey string) error {
	_, err := c.ref(id, partitionKey).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// documentToData converts a document to the JSON-shaped map Firestore
// stores. Message payloads are already reduced by ToStorable, so the JSON
// form is lossless.
func documentToData(doc *Document) (map[string]any, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	return data, nil
}

func dataToDocument(data map[string]any) (*Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("convert document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

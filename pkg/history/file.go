package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidPathComponent is returned when an identifier contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path component.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileBackend stores thread documents as JSON files.
// Storage layout:
//
//	<baseDir>/
//	  └── <database>/
//	      └── <container>/
//	          └── <session-id>/
//	              └── <thread-id>.json
type FileBackend struct {
	baseDir string
	mu      sync.RWMutex
	closed  bool
}

// NewFileBackend creates a file-based backend.
// If baseDir is empty, uses ~/.flightagent/history.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".flightagent", "history")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

// Open returns a view of one container.
func (f *FileBackend) Open(_ context.Context, database, container string) (DocumentStore, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrStoreClosed
	}

	if err := validatePathComponent(database); err != nil {
		return nil, fmt.Errorf("invalid database name: %w", err)
	}
	if err := validatePathComponent(container); err != nil {
		return nil, fmt.Errorf("invalid container name: %w", err)
	}
	return &fileContainer{backend: f, dir: filepath.Join(f.baseDir, database, container)}, nil
}

// Ping checks that the base directory is accessible.
func (f *FileBackend) Ping(context.Context) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrStoreClosed
	}
	_, err := os.Stat(f.baseDir)
	return err
}

// Close marks the backend closed.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fileContainer struct {
	backend *FileBackend
	dir     string
}

func (c *fileContainer) path(id, partitionKey string) (string, error) {
	if err := validatePathComponent(partitionKey); err != nil {
		return "", fmt.Errorf("invalid session ID: %w", err)
	}
	if err := validatePathComponent(id); err != nil {
		return "", fmt.Errorf("invalid thread ID: %w", err)
	}
	return filepath.Join(c.dir, partitionKey, id+".json"), nil
}

func (c *fileContainer) Read(_ context.Context, id, partitionKey string) (*Document, error) {
	path, err := c.path(id, partitionKey)
	if err != nil {
		return nil, err
	}

	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()
	if c.backend.closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(path) // #nosec G304 - path components validated to prevent traversal
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

func (c *fileContainer) Upsert(_ context.Context, doc *Document) error {
	path, err := c.path(doc.ID, doc.SessionID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.closed {
		return ErrStoreClosed
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	// Write to a temp file and rename so readers never see a partial document.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

func (c *fileContainer) Delete(_ context.Context, id, partitionKey string) error {
	path, err := c.path(id, partitionKey)
	if err != nil {
		return err
	}

	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	if c.backend.closed {
		return ErrStoreClosed
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

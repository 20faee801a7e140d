package history

import (
	"context"
	"fmt"

	"github.com/aixgo-dev/flightagent/pkg/apperror"
)

// Backend types accepted by NewBackend.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
)

// BackendConfig selects and configures a storage backend.
type BackendConfig struct {
	Type      string          `yaml:"backend"`
	FileDir   string          `yaml:"file_dir"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// NewBackend creates the configured backend. A missing endpoint for the
// selected backend is a configuration error.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case "", BackendMemory:
		return NewMemoryBackend(), nil
	case BackendFile:
		b, err := NewFileBackend(cfg.FileDir)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return nil, apperror.Configuration("Redis address is not configured")
		}
		b, err := NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return b, nil
	case BackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			return nil, apperror.Configuration("Firestore project ID is not configured")
		}
		return NewFirestoreBackend(cfg.Firestore), nil
	default:
		return nil, apperror.Configuration(fmt.Sprintf("unknown history backend %q", cfg.Type))
	}
}

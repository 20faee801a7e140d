package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each thread document as a JSON string under
// <prefix><database>:<container>:<session>:<thread>.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix is prepended to every key (default: "flightagent:").
	Prefix string `yaml:"prefix"`
	// TTL expires idle threads (0 = never expire).
	TTL time.Duration `yaml:"ttl"`
	// PoolSize is the connection pool size (default: 10).
	PoolSize int `yaml:"pool_size"`
}

const defaultRedisPrefix = "flightagent:"

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisBackendFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing client.
// This is useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Open returns a view of one container.
func (b *RedisBackend) Open(_ context.Context, database, container string) (DocumentStore, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	return &redisContainer{backend: b, prefix: b.prefix + database + ":" + container + ":"}, nil
}

// Ping checks the connection.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

func (b *RedisBackend) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStoreClosed
	}
	return nil
}

type redisContainer struct {
	backend *RedisBackend
	prefix  string
}

func (c *redisContainer) key(id, partitionKey string) string {
	return c.prefix + partitionKey + ":" + id
}

func (c *redisContainer) Read(ctx context.Context, id, partitionKey string) (*Document, error) {
	if err := c.backend.checkOpen(); err != nil {
		return nil, err
	}

	data, err := c.backend.client.Get(ctx, c.key(id, partitionKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return &doc, nil
}

func (c *redisContainer) Upsert(ctx context.Context, doc *Document) error {
	if err := c.backend.checkOpen(); err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	if err := c.backend.client.Set(ctx, c.key(doc.ID, doc.SessionID), data, c.backend.ttl).Err(); err != nil {
		return fmt.Errorf("set document: %w", err)
	}
	return nil
}

func (c *redisContainer) Delete(ctx context.Context, id, partitionKey string) error {
	if err := c.backend.checkOpen(); err != nil {
		return err
	}

	// DEL on a missing key returns 0, which is not an error.
	if err := c.backend.client.Del(ctx, c.key(id, partitionKey)).Err(); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Package redis provides a Redis-backed implementation of the catalog store.
// Snapshots are stored as JSON values with server-side TTL, so entries shared
// between processes expire without client-side sweeping.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"

	"github.com/ggoodman/mcp-client-go/catalog"
)

// Config for the Redis-backed store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: CATALOG_KEY_PREFIX
	KeyPrefix string `env:"CATALOG_KEY_PREFIX,default=mcp:catalog:"`
	// DefaultTTL bounds snapshot lifetime when Put carries no explicit TTL.
	// Zero keeps snapshots until overwritten. ENV: CATALOG_TTL
	DefaultTTL time.Duration `env:"CATALOG_TTL,default=24h"`
}

// Store implements catalog.Store on a Redis client.
type Store struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
}

// New builds a store and verifies connectivity with a ping.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:catalog:"
	}
	return &Store{client: cl, keyPrefix: prefix, defaultTTL: cfg.DefaultTTL}, nil
}

// NewFromEnv builds a store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	// Use envdecode; defaults are provided via struct tags.
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

// Put stores a snapshot under the server URL key.
func (s *Store) Put(ctx context.Context, snap *catalog.Snapshot, opts ...catalog.Option) error {
	options := &catalog.Options{}
	for _, opt := range opts {
		opt(options)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ttl := s.defaultTTL
	if options.TTL != nil {
		ttl = *options.TTL
	}

	if err := s.client.Set(ctx, s.key(snap.ServerURL), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.key(snap.ServerURL), err)
	}
	return nil
}

// Get retrieves the snapshot for a server URL.
func (s *Store) Get(ctx context.Context, serverURL string) (*catalog.Snapshot, error) {
	val, err := s.client.Get(ctx, s.key(serverURL)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, catalog.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", s.key(serverURL), err)
	}

	var snap catalog.Snapshot
	if err := json.Unmarshal([]byte(val), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes the snapshot for a server URL.
func (s *Store) Delete(ctx context.Context, serverURL string) error {
	if err := s.client.Del(ctx, s.key(serverURL)).Err(); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", s.key(serverURL), err)
	}
	return nil
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(serverURL string) string {
	return s.keyPrefix + serverURL
}

var _ catalog.Store = (*Store)(nil)

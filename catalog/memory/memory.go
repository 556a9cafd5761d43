// Package memory provides an in-memory implementation of the catalog store
// using github.com/hashicorp/golang-lru/v2 for bounded caching with TTL
// support.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ggoodman/mcp-client-go/catalog"
)

const janitorInterval = 5 * time.Minute

type entry struct {
	snap      *catalog.Snapshot
	expiresAt *time.Time
}

func (e *entry) expired(now time.Time) bool {
	return e.expiresAt != nil && now.After(*e.expiresAt)
}

// Store implements catalog.Store with an LRU cache of snapshots.
type Store struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *entry]

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates an in-memory store holding at most maxEntries snapshots.
func New(maxEntries int) (*Store, error) {
	cache, err := lru.New[string, *entry](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}

	s := &Store{
		cache: cache,
		stop:  make(chan struct{}),
	}

	go s.janitor()

	return s, nil
}

// Put stores a snapshot, replacing any previous one for the same server.
func (s *Store) Put(ctx context.Context, snap *catalog.Snapshot, opts ...catalog.Option) error {
	options := &catalog.Options{}
	for _, opt := range opts {
		opt(options)
	}

	e := &entry{snap: snap.Clone()}
	if options.TTL != nil {
		expiresAt := time.Now().Add(*options.TTL)
		e.expiresAt = &expiresAt
	}

	s.mu.Lock()
	s.cache.Add(snap.ServerURL, e)
	s.mu.Unlock()

	return nil
}

// Get retrieves the snapshot for a server URL.
func (s *Store) Get(ctx context.Context, serverURL string) (*catalog.Snapshot, error) {
	s.mu.Lock()
	e, ok := s.cache.Get(serverURL)
	s.mu.Unlock()

	if !ok {
		return nil, catalog.ErrNotFound
	}
	if e.expired(time.Now()) {
		s.mu.Lock()
		s.cache.Remove(serverURL)
		s.mu.Unlock()
		return nil, catalog.ErrNotFound
	}

	return e.snap.Clone(), nil
}

// Delete removes the snapshot for a server URL.
func (s *Store) Delete(ctx context.Context, serverURL string) error {
	s.mu.Lock()
	s.cache.Remove(serverURL)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor and drops all entries.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.mu.Lock()
	s.cache.Purge()
	s.mu.Unlock()
	return nil
}

// janitor periodically evicts expired entries so they do not occupy cache
// slots until their next lookup.
func (s *Store) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for _, key := range s.cache.Keys() {
				if e, ok := s.cache.Peek(key); ok && e.expired(now) {
					s.cache.Remove(key)
				}
			}
			s.mu.Unlock()
		}
	}
}

var _ catalog.Store = (*Store)(nil)

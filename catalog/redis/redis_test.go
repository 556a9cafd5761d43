package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/mcp-client-go/catalog"
	"github.com/ggoodman/mcp-client-go/mcp"
)

func TestRedisCatalog(t *testing.T) {
	// Skip test if Redis is not available
	s, err := New(Config{
		RedisAddr: "127.0.0.1:6379",
		KeyPrefix: "mcp:catalog:test:",
	})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer s.Close()

	t.Run("PutAndGet", func(t *testing.T) {
		testPutAndGet(t, s)
	})

	t.Run("GetMissing", func(t *testing.T) {
		testGetMissing(t, s)
	})

	t.Run("TTL", func(t *testing.T) {
		testTTL(t, s)
	})

	t.Run("Delete", func(t *testing.T) {
		testDelete(t, s)
	})
}

func testSnapshot(serverURL string) *catalog.Snapshot {
	return &catalog.Snapshot{
		ServerURL:       serverURL,
		ProtocolVersion: mcp.ProtocolVersion,
		ServerInfo:      mcp.ImplementationInfo{Name: "test-server", Version: "1.0.0"},
		Tools: []mcp.Tool{
			{Name: "echo", Description: "echoes input", InputSchema: mcp.ToolInputSchema{Type: "object"}},
		},
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testPutAndGet(t *testing.T, s *Store) {
	ctx := context.Background()
	snap := testSnapshot("http://get.test/sse")
	defer s.Delete(ctx, snap.ServerURL)

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Failed to put snapshot: %v", err)
	}

	got, err := s.Get(ctx, snap.ServerURL)
	if err != nil {
		t.Fatalf("Failed to get snapshot: %v", err)
	}

	if got.ServerInfo.Name != snap.ServerInfo.Name {
		t.Errorf("Expected server name %q, got %q", snap.ServerInfo.Name, got.ServerInfo.Name)
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "echo" {
		t.Errorf("Expected one echo tool, got %+v", got.Tools)
	}
	if !got.UpdatedAt.Equal(snap.UpdatedAt) {
		t.Errorf("Expected UpdatedAt %v, got %v", snap.UpdatedAt, got.UpdatedAt)
	}
}

func testGetMissing(t *testing.T, s *Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "http://absent.test/sse")
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing snapshot, got %v", err)
	}
}

func testTTL(t *testing.T, s *Store) {
	ctx := context.Background()
	snap := testSnapshot("http://ttl.test/sse")
	ttl := 100 * time.Millisecond

	if err := s.Put(ctx, snap, catalog.WithTTL(ttl)); err != nil {
		t.Fatalf("Failed to put snapshot with TTL: %v", err)
	}

	if _, err := s.Get(ctx, snap.ServerURL); err != nil {
		t.Fatalf("Failed to get snapshot before expiry: %v", err)
	}

	// Wait for expiration
	time.Sleep(ttl + 50*time.Millisecond)

	if _, err := s.Get(ctx, snap.ServerURL); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func testDelete(t *testing.T, s *Store) {
	ctx := context.Background()
	snap := testSnapshot("http://delete.test/sse")

	if err := s.Put(ctx, snap); err != nil {
		t.Fatalf("Failed to put snapshot: %v", err)
	}
	if err := s.Delete(ctx, snap.ServerURL); err != nil {
		t.Fatalf("Failed to delete snapshot: %v", err)
	}
	if _, err := s.Get(ctx, snap.ServerURL); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound after delete, got %v", err)
	}
}

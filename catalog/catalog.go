// Package catalog persists discovered server capability snapshots so that
// tooling can inspect a server's surface without a live session.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/ggoodman/mcp-client-go/mcp"
)

var (
	// ErrNotFound is returned when no snapshot is stored for the server, or
	// the stored one has expired.
	ErrNotFound = errors.New("snapshot not found")
)

// Snapshot records a server's discovered capabilities at a point in time.
type Snapshot struct {
	ServerURL       string                 `json:"serverUrl"`
	ProtocolVersion string                 `json:"protocolVersion"`
	ServerInfo      mcp.ImplementationInfo `json:"serverInfo"`
	Instructions    string                 `json:"instructions,omitempty"`
	Tools           []mcp.Tool             `json:"tools"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// Clone returns a copy whose tools slice is independent of the receiver's.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := *s
	if s.Tools != nil {
		out.Tools = make([]mcp.Tool, len(s.Tools))
		copy(out.Tools, s.Tools)
	}
	return &out
}

// Store persists snapshots keyed by server URL.
type Store interface {
	// Put stores a snapshot, replacing any previous one for the same server.
	Put(ctx context.Context, snap *Snapshot, opts ...Option) error

	// Get retrieves the snapshot for a server URL. Returns ErrNotFound when
	// absent or expired.
	Get(ctx context.Context, serverURL string) (*Snapshot, error)

	// Delete removes the snapshot for a server URL. Deleting an absent
	// snapshot is not an error.
	Delete(ctx context.Context, serverURL string) error

	// Close releases backend resources.
	Close() error
}

// Option configures store operations.
type Option func(*Options)

// Options contains configuration for store operations.
type Options struct {
	TTL *time.Duration // Optional: bounds snapshot lifetime
}

// WithTTL bounds the stored snapshot's lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.TTL = &ttl
	}
}

// Package pending correlates in-flight JSON-RPC request ids with the
// goroutines awaiting their responses. The table owns deadlines and
// timeout sweeps; transport and lifecycle concerns stay with the caller.
package pending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-client-go/internal/jsonrpc"
)

var (
	// ErrDuplicateID indicates an id was registered while still pending.
	ErrDuplicateID = errors.New("duplicate request id")
	// ErrTimeout indicates no response arrived before the call deadline.
	ErrTimeout = errors.New("call timed out")
)

// Call is one registered in-flight request. Exactly one of the two channels
// receives exactly one value; both are buffered so completion never blocks
// the completing goroutine.
type Call struct {
	respCh   chan *jsonrpc.Response
	errCh    chan error
	deadline time.Time
}

// Response delivers the matched response for this call.
func (c *Call) Response() <-chan *jsonrpc.Response { return c.respCh }

// Err delivers a terminal error for this call (timeout, send failure, close).
func (c *Call) Err() <-chan error { return c.errCh }

// Table tracks pending calls by numeric request id. All mutators are
// serialized by a single mutex.
type Table struct {
	clock   clockwork.Clock
	timeout time.Duration

	mu    sync.Mutex
	calls map[int64]*Call
}

// New constructs a table whose entries expire timeout after registration,
// measured on the supplied clock.
func New(clock clockwork.Clock, timeout time.Duration) *Table {
	return &Table{
		clock:   clock,
		timeout: timeout,
		calls:   make(map[int64]*Call),
	}
}

// Register creates a pending entry for id. The caller must guarantee eventual
// completion or removal; until then the id cannot be reused.
func (t *Table) Register(id int64) (*Call, error) {
	c := &Call{
		respCh:   make(chan *jsonrpc.Response, 1),
		errCh:    make(chan error, 1),
		deadline: t.clock.Now().Add(t.timeout),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; exists {
		return nil, fmt.Errorf("id %d: %w", id, ErrDuplicateID)
	}
	t.calls[id] = c

	return c, nil
}

// Resolve removes the entry for id and delivers resp to its waiter. It
// returns false when the id is unknown (already completed, removed, or never
// registered); the response is then the caller's to drop.
func (t *Table) Resolve(id int64, resp *jsonrpc.Response) bool {
	c, ok := t.take(id)
	if ok {
		c.respCh <- resp
	}
	return ok
}

// Fail removes the entry for id and delivers err to its waiter.
func (t *Table) Fail(id int64, err error) bool {
	c, ok := t.take(id)
	if ok {
		c.errCh <- err
	}
	return ok
}

// Remove discards the entry for id without completing it. Used when the
// caller has already stopped waiting (context cancellation).
func (t *Table) Remove(id int64) bool {
	_, ok := t.take(id)
	return ok
}

// Len reports the number of in-flight entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Sweep fails every entry whose deadline is at or before now and returns the
// swept ids. A response arriving for a swept id later finds no entry.
func (t *Table) Sweep(now time.Time) []int64 {
	t.mu.Lock()
	var expired []int64
	for id, c := range t.calls {
		if !c.deadline.After(now) {
			expired = append(expired, id)
			delete(t.calls, id)
			c.errCh <- fmt.Errorf("no response within %s: %w", t.timeout, ErrTimeout)
		}
	}
	t.mu.Unlock()

	return expired
}

// FailAll drains the table, delivering err to every waiter, and returns the
// number of calls failed. Used on session close.
func (t *Table) FailAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.calls)
	for id, c := range t.calls {
		delete(t.calls, id)
		c.errCh <- err
	}

	return n
}

// Run sweeps the table every interval until ctx is done.
func (t *Table) Run(ctx context.Context, interval time.Duration) {
	tick := t.clock.NewTicker(interval)

	for {
		select {
		case <-ctx.Done():
			tick.Stop()
			return
		case now := <-tick.Chan():
			t.Sweep(now)
		}
	}
}

func (t *Table) take(id int64) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	return c, ok
}

package pending

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-client-go/internal/jsonrpc"
)

func TestResolveDeliversResponse(t *testing.T) {
	tbl := New(clockwork.NewFakeClock(), 30*time.Second)

	call, err := tbl.Register(0)
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	resp, err := jsonrpc.NewResultResponse(jsonrpc.NewRequestID(int64(0)), map[string]any{"ok": true})
	if err != nil {
		t.Fatalf("unexpected response build error: %v", err)
	}

	if !tbl.Resolve(0, resp) {
		t.Fatal("expected resolve to find the pending call")
	}

	select {
	case got := <-call.Response():
		if got != resp {
			t.Fatalf("unexpected response delivered: %+v", got)
		}
	default:
		t.Fatal("expected response to be buffered")
	}

	if tbl.Resolve(0, resp) {
		t.Fatal("expected second resolve to report unknown id")
	}
	if want, got := 0, tbl.Len(); want != got {
		t.Fatalf("unexpected table size: want %d got %d", want, got)
	}
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	tbl := New(clockwork.NewFakeClock(), 30*time.Second)

	if _, err := tbl.Register(7); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if _, err := tbl.Register(7); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	// The id is free again once the first call completes.
	tbl.Remove(7)
	if _, err := tbl.Register(7); err != nil {
		t.Fatalf("unexpected register error after removal: %v", err)
	}
}

func TestSweepFailsOnlyExpiredCalls(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := New(clock, 30*time.Second)

	early, err := tbl.Register(0)
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	clock.Advance(30 * time.Second)

	late, err := tbl.Register(1)
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	swept := tbl.Sweep(clock.Now())
	if want, got := 1, len(swept); want != got {
		t.Fatalf("unexpected sweep count: want %d got %d", want, got)
	}
	if want, got := int64(0), swept[0]; want != got {
		t.Fatalf("unexpected swept id: want %d got %d", want, got)
	}

	select {
	case err := <-early.Err():
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected timeout error, got %v", err)
		}
	default:
		t.Fatal("expected expired call to be failed")
	}

	select {
	case err := <-late.Err():
		t.Fatalf("unexpected failure of unexpired call: %v", err)
	default:
	}

	// A straggler response for the swept id has nowhere to land.
	resp, err := jsonrpc.NewResultResponse(jsonrpc.NewRequestID(int64(0)), nil)
	if err != nil {
		t.Fatalf("unexpected response build error: %v", err)
	}
	if tbl.Resolve(0, resp) {
		t.Fatal("expected late response to find no pending call")
	}
}

func TestFailAllDrainsTable(t *testing.T) {
	tbl := New(clockwork.NewFakeClock(), 30*time.Second)

	var calls []*Call
	for id := int64(0); id < 3; id++ {
		call, err := tbl.Register(id)
		if err != nil {
			t.Fatalf("unexpected register error: %v", err)
		}
		calls = append(calls, call)
	}

	closeErr := errors.New("session closed")
	if want, got := 3, tbl.FailAll(closeErr); want != got {
		t.Fatalf("unexpected failed count: want %d got %d", want, got)
	}
	if want, got := 0, tbl.Len(); want != got {
		t.Fatalf("unexpected table size: want %d got %d", want, got)
	}

	for i, call := range calls {
		select {
		case err := <-call.Err():
			if !errors.Is(err, closeErr) {
				t.Fatalf("call %d: expected close error, got %v", i, err)
			}
		default:
			t.Fatalf("call %d: expected buffered failure", i)
		}
	}
}

func TestRunSweepsOnTicker(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tbl := New(clock, time.Second)

	call, err := tbl.Register(0)
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tbl.Run(ctx, 500*time.Millisecond)
	}()

	// Wait for the sweep loop to arm its ticker before advancing.
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	select {
	case err := <-call.Err():
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected timeout error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep to fail the call")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sweep loop to stop")
	}
}

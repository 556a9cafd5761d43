package mcpclient_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	mcpclient "github.com/ggoodman/mcp-client-go"
	"github.com/ggoodman/mcp-client-go/catalog"
	"github.com/ggoodman/mcp-client-go/catalog/memory"
	"github.com/ggoodman/mcp-client-go/eventsource"
	"github.com/ggoodman/mcp-client-go/mcp"
	"github.com/ggoodman/mcp-client-go/servertest"
)

func TestSessionReachesReady(t *testing.T) {
	srv := servertest.New(servertest.WithInstructions("be gentle"))
	defer srv.Close()

	var mu sync.Mutex
	var states []mcpclient.SessionState
	sess := mustSession(t, srv.URL(),
		mcpclient.WithStateHandler(func(st mcpclient.SessionState) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		}),
	)

	waitReady(t, sess)

	if want, got := mcpclient.StateReady, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	if want, got := "test-server", sess.ServerInfo().Name; want != got {
		t.Fatalf("expected server name %q, got %q", want, got)
	}
	if want, got := mcp.ProtocolVersion, sess.ProtocolVersion(); want != got {
		t.Fatalf("expected protocol version %q, got %q", want, got)
	}
	if want, got := "be gentle", sess.Instructions(); want != got {
		t.Fatalf("expected instructions %q, got %q", want, got)
	}
	if caps := sess.ServerCapabilities(); caps.Tools == nil || !caps.Tools.ListChanged {
		t.Fatalf("expected tools capability with listChanged, got %+v", caps)
	}
	if sess.ID() == "" {
		t.Fatal("expected a non-empty session id")
	}

	// The endpoint event carries a relative path; it must come back resolved
	// against the stream origin.
	wantPrefix := srv.BaseURL() + "/messages/"
	if got := sess.Endpoint(); !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("expected endpoint under %q, got %q", wantPrefix, got)
	}

	ts := mustServerSession(t, srv)
	eventually(t, 2*time.Second, "initialized notification never arrived", func() bool {
		return slices.Contains(ts.Notifications(), "notifications/initialized")
	})
	eventually(t, 2*time.Second, "discovery request never arrived", func() bool {
		return slices.Contains(ts.RequestMethods(), "ListToolsRequest")
	})

	methods := ts.RequestMethods()
	if len(methods) < 2 || methods[0] != "initialize" || methods[1] != "ListToolsRequest" {
		t.Fatalf("expected initialize then ListToolsRequest, got %v", methods)
	}

	mu.Lock()
	gotStates := append([]mcpclient.SessionState(nil), states...)
	mu.Unlock()
	wantStates := []mcpclient.SessionState{
		mcpclient.StateEndpointReceived,
		mcpclient.StateInitializing,
		mcpclient.StateReady,
	}
	if !slices.Equal(wantStates, gotStates) {
		t.Fatalf("expected state sequence %v, got %v", wantStates, gotStates)
	}
}

func TestCallBeforeEndpointFails(t *testing.T) {
	srv := servertest.New(servertest.WithEndpointDelay(2 * time.Second))
	defer srv.Close()

	sess := mustSession(t, srv.URL())

	if _, err := sess.Call(context.Background(), "ping", &mcp.PingRequest{}); !errors.Is(err, mcpclient.ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
	if want, got := mcpclient.StateConnecting, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := sess.WaitReady(context.Background()); !errors.Is(err, mcpclient.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from WaitReady after close, got %v", err)
	}
	if want, got := mcpclient.StateClosed, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
}

func TestRequestIDsAreSequential(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)

	ts := mustServerSession(t, srv)
	eventually(t, 2*time.Second, "discovery request never arrived", func() bool {
		return slices.Contains(ts.RequestMethods(), "ListToolsRequest")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("second ping failed: %v", err)
	}

	want := []servertest.ReceivedRequest{
		{Method: "initialize", ID: "0"},
		{Method: "ListToolsRequest", ID: "1"},
		{Method: "ping", ID: "2"},
		{Method: "ping", ID: "3"},
	}
	if got := ts.Requests(); !slices.Equal(want, got) {
		t.Fatalf("expected requests %v, got %v", want, got)
	}
}

func TestInitializeErrorDegradesSession(t *testing.T) {
	srv := servertest.New(servertest.WithInitializeError(-1, "tenant suspended"))
	defer srv.Close()

	sess := mustSession(t, srv.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := sess.WaitReady(ctx)
	if err == nil {
		t.Fatal("expected WaitReady to report the initialize failure")
	}
	var rpcErr *mcpclient.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected a *RPCError in the chain, got %v", err)
	}
	if want, got := mcpclient.ErrorCode(-1), rpcErr.Code; want != got {
		t.Fatalf("expected error code %d, got %d", want, got)
	}
	if want, got := mcpclient.StateDegraded, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}

	// Degraded skips discovery but keeps the request channel usable.
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping on degraded session failed: %v", err)
	}

	ts := mustServerSession(t, srv)
	if methods := ts.RequestMethods(); slices.Contains(methods, "ListToolsRequest") {
		t.Fatalf("expected no discovery after failed initialize, got %v", methods)
	}
	if notes := ts.Notifications(); slices.Contains(notes, "notifications/initialized") {
		t.Fatalf("expected no initialized notification after failed initialize, got %v", notes)
	}
}

func TestCallTimeoutOnFakeClock(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	fc := clockwork.NewFakeClock()
	sess := mustSession(t, srv.URL(),
		mcpclient.WithClock(fc),
		mcpclient.WithCallTimeout(5*time.Second),
		mcpclient.WithSweepInterval(10*time.Second),
	)
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	reqCh := make(chan *servertest.Request, 1)
	srv.Handle("slow/thing", func(ctx context.Context, _ *servertest.Session, req *servertest.Request) *servertest.Response {
		reqCh <- req
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := sess.Call(context.Background(), "slow/thing", struct{}{})
		errCh <- err
	}()

	var req *servertest.Request
	select {
	case req = <-reqCh:
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the slow request")
	}

	fc.BlockUntil(1)
	fc.Advance(10 * time.Second)

	select {
	case err := <-errCh:
		if !errors.Is(err, mcpclient.ErrCallTimeout) {
			t.Fatalf("expected ErrCallTimeout, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("call never timed out")
	}

	// A response arriving after the sweep has no waiter left; the session
	// must drop it and keep serving.
	resp, err := servertest.ResultResponse(req, struct{}{})
	if err != nil {
		t.Fatalf("failed to build late response: %v", err)
	}
	if err := ts.Respond(resp); err != nil {
		t.Fatalf("failed to push late response: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping after timeout failed: %v", err)
	}
	if want, got := mcpclient.StateReady, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	srv := servertest.New(
		servertest.WithHandler("slow/a", nil),
		servertest.WithHandler("slow/b", nil),
	)
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	errCh := make(chan error, 2)
	for _, method := range []string{"slow/a", "slow/b"} {
		go func() {
			_, err := sess.Call(context.Background(), method, struct{}{})
			errCh <- err
		}()
	}
	eventually(t, 2*time.Second, "slow requests never arrived", func() bool {
		methods := ts.RequestMethods()
		return slices.Contains(methods, "slow/a") && slices.Contains(methods, "slow/b")
	})

	if err := sess.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		select {
		case err := <-errCh:
			if !errors.Is(err, mcpclient.ErrSessionClosed) {
				t.Fatalf("expected ErrSessionClosed, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("outstanding call never failed")
		}
	}

	if _, err := sess.Call(context.Background(), "ping", &mcp.PingRequest{}); !errors.Is(err, mcpclient.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on call after close, got %v", err)
	}
	if want, got := mcpclient.StateClosed, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	select {
	case <-sess.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if err := sess.Err(); err != nil {
		t.Fatalf("expected nil terminal error after explicit close, got %v", err)
	}
}

func TestMalformedPayloadSkipped(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	ts.Push("message", []byte("{this is not json"))
	eventually(t, 2*time.Second, "malformed payload never counted", func() bool {
		return sess.MalformedPayloads() == 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping after malformed payload failed: %v", err)
	}
	if want, got := mcpclient.StateReady, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
}

func TestUnmatchedResponseDropped(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	ts.Push("message", []byte(`{"jsonrpc":"2.0","id":999,"result":{}}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping after unmatched response failed: %v", err)
	}
	if got := sess.MalformedPayloads(); got != 0 {
		t.Fatalf("expected no malformed payloads, got %d", got)
	}
}

func TestDiscoveryPopulatesToolsAndCatalog(t *testing.T) {
	store, err := memory.New(16)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	srv := servertest.New(servertest.WithTools(echoTool()))
	defer srv.Close()

	sess := mustSession(t, srv.URL(), mcpclient.WithCatalog(store))
	waitReady(t, sess)

	eventually(t, 2*time.Second, "tools never discovered", func() bool {
		return len(sess.Tools()) == 1
	})
	tool := sess.Tools()[0]
	if want, got := "echo", tool.Name; want != got {
		t.Fatalf("expected tool %q, got %q", want, got)
	}
	if want, got := "object", tool.InputSchema.Type; want != got {
		t.Fatalf("expected schema type %q, got %q", want, got)
	}
	if prop, ok := tool.InputSchema.Properties["text"]; !ok || prop.Type != "string" {
		t.Fatalf("expected a string property %q, got %+v", "text", tool.InputSchema.Properties)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var snap *catalog.Snapshot
	eventually(t, 2*time.Second, "catalog never populated", func() bool {
		got, err := store.Get(ctx, srv.URL())
		if err != nil {
			return false
		}
		snap = got
		return true
	})
	if want, got := srv.URL(), snap.ServerURL; want != got {
		t.Fatalf("expected snapshot url %q, got %q", want, got)
	}
	if want, got := "test-server", snap.ServerInfo.Name; want != got {
		t.Fatalf("expected snapshot server %q, got %q", want, got)
	}
	if want, got := mcp.ProtocolVersion, snap.ProtocolVersion; want != got {
		t.Fatalf("expected snapshot protocol %q, got %q", want, got)
	}
	if len(snap.Tools) != 1 || snap.Tools[0].Name != "echo" {
		t.Fatalf("expected snapshot with the echo tool, got %+v", snap.Tools)
	}
}

func TestListChangedTriggersRediscovery(t *testing.T) {
	srv := servertest.New(servertest.WithTools(echoTool()))
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	eventually(t, 2*time.Second, "tools never discovered", func() bool {
		return len(sess.Tools()) == 1
	})

	srv.SetTools(echoTool(), reverseTool())
	if err := ts.NotifyToolsChanged(); err != nil {
		t.Fatalf("failed to push list_changed: %v", err)
	}

	eventually(t, 2*time.Second, "tool list never refreshed", func() bool {
		return len(sess.Tools()) == 2
	})
}

func TestNotificationHandler(t *testing.T) {
	type notice struct {
		method string
		params string
	}
	ch := make(chan notice, 4)

	srv := servertest.New()
	defer srv.Close()

	sess := mustSession(t, srv.URL(),
		mcpclient.WithNotificationHandler(func(method string, params json.RawMessage) {
			ch <- notice{method: method, params: string(params)}
		}),
	)
	waitReady(t, sess)
	ts := mustServerSession(t, srv)

	ts.Push("message", []byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progress":1}}`))

	select {
	case got := <-ch:
		if want := "notifications/progress"; got.method != want {
			t.Fatalf("expected method %q, got %q", want, got.method)
		}
		if !strings.Contains(got.params, `"progress":1`) {
			t.Fatalf("expected progress params, got %q", got.params)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("notification never reached the handler")
	}
}

func TestServerErrorSurfacesAsRPCError(t *testing.T) {
	srv := servertest.New()
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)

	srv.Handle("explode", func(ctx context.Context, _ *servertest.Session, req *servertest.Request) *servertest.Response {
		return servertest.ErrorResponse(req, 42, "kaboom")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := sess.Call(ctx, "explode", struct{}{})
	var rpcErr *mcpclient.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected a *RPCError, got %v", err)
	}
	if want, got := mcpclient.ErrorCode(42), rpcErr.Code; want != got {
		t.Fatalf("expected code %d, got %d", want, got)
	}
	if want, got := "kaboom", rpcErr.Message; want != got {
		t.Fatalf("expected message %q, got %q", want, got)
	}

	// Unscripted methods fall through to the method-not-found builtin.
	_, err = sess.Call(ctx, "no/such/method", struct{}{})
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected a *RPCError, got %v", err)
	}
	if want, got := mcpclient.ErrorCode(-32601), rpcErr.Code; want != got {
		t.Fatalf("expected code %d, got %d", want, got)
	}
}

func TestToolHelpers(t *testing.T) {
	srv := servertest.New(servertest.WithTools(echoTool()))
	defer srv.Close()

	sess := mustSession(t, srv.URL())
	waitReady(t, sess)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listed, err := sess.ListTools(ctx)
	if err != nil {
		t.Fatalf("tools/list failed: %v", err)
	}
	if len(listed.Tools) != 1 || listed.Tools[0].Name != "echo" {
		t.Fatalf("expected the echo tool, got %+v", listed.Tools)
	}

	res, err := sess.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("tools/call failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("expected a success result, got %+v", res)
	}
	if len(res.Content) != 1 || res.Content[0].Type != mcp.ContentTypeText || res.Content[0].Text != "hello" {
		t.Fatalf("expected a %q text block, got %+v", "hello", res.Content)
	}

	var rpcErr *mcpclient.RPCError
	if _, err := sess.CallTool(ctx, "missing", nil); !errors.As(err, &rpcErr) {
		t.Fatalf("expected a *RPCError for an unknown tool, got %v", err)
	} else if want, got := mcpclient.ErrorCode(-32602), rpcErr.Code; want != got {
		t.Fatalf("expected code %d, got %d", want, got)
	}

	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStreamFailureClosesSession(t *testing.T) {
	srv := servertest.New()

	sess := mustSession(t, srv.URL(), mcpclient.WithStreamOptions(
		eventsource.WithInitialBackoff(5*time.Millisecond),
		eventsource.WithMaxBackoff(10*time.Millisecond),
		eventsource.WithMaxReconnectAttempts(1),
	))
	waitReady(t, sess)

	srv.Close()

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session never terminated after server shutdown")
	}
	if want, got := mcpclient.StateClosed, sess.State(); want != got {
		t.Fatalf("expected state %q, got %q", want, got)
	}
	if err := sess.Err(); !errors.Is(err, eventsource.ErrReconnectBudgetExhausted) {
		t.Fatalf("expected a reconnect budget error, got %v", err)
	}
}

// ============================================================================
// Test Helpers
// ============================================================================

func mustSession(t *testing.T, serverURL string, opts ...mcpclient.Option) *mcpclient.Session {
	t.Helper()
	opts = append([]mcpclient.Option{mcpclient.WithLogger(slog.New(testLogHandler(t)))}, opts...)
	sess, err := mcpclient.Connect(context.Background(), serverURL, opts...)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func waitReady(t *testing.T, sess *mcpclient.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.WaitReady(ctx); err != nil {
		t.Fatalf("session never became ready: %v", err)
	}
}

func mustServerSession(t *testing.T, srv *servertest.Server) *servertest.Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ts, err := srv.WaitSession(ctx)
	if err != nil {
		t.Fatalf("no session reached the server: %v", err)
	}
	return ts
}

// eventually polls cond until it holds or the deadline lapses.
func eventually(t *testing.T, timeout time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func echoTool() servertest.Tool {
	return servertest.NewTool("echo", "Echoes back the provided text.",
		func(ctx context.Context, args struct {
			Text string `json:"text"`
		}) (*mcp.CallToolResult, error) {
			return servertest.TextResult(args.Text), nil
		})
}

func reverseTool() servertest.Tool {
	return servertest.NewTool("reverse", "Reverses the provided text.",
		func(ctx context.Context, args struct {
			Text string `json:"text"`
		}) (*mcp.CallToolResult, error) {
			runes := []rune(args.Text)
			for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
				runes[i], runes[j] = runes[j], runes[i]
			}
			return servertest.TextResult(string(runes)), nil
		})
}

// ============================================================================
// Test Logging
// ============================================================================

// logBridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type logBridge struct {
	slog.Handler
	t   testing.TB
	buf *bytes.Buffer
	mu  *sync.Mutex
}

// Handle implements slog.Handler.
func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.Handler.Handle(ctx, rec)
	if err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}

	// The output comes back with a newline, which we need to
	// trim before feeding to t.Log.
	output = bytes.TrimSuffix(output, []byte("\n"))

	b.t.Helper()
	b.t.Log(string(output))

	return nil
}

// WithAttrs implements slog.Handler.
func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		Handler: b.Handler.WithAttrs(attrs),
	}
}

// WithGroup implements slog.Handler.
func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		Handler: b.Handler.WithGroup(name),
	}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{
		t:   t,
		buf: &bytes.Buffer{},
		mu:  &sync.Mutex{},
	}
	hOpts := &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}
	b.Handler = slog.NewTextHandler(b.buf, hOpts)

	return b
}

package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ggoodman/mcp-client-go/catalog"
	"github.com/ggoodman/mcp-client-go/eventsource"
	"github.com/ggoodman/mcp-client-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-client-go/internal/logctx"
	"github.com/ggoodman/mcp-client-go/internal/pending"
	"github.com/ggoodman/mcp-client-go/mcp"
)

// Event names the server uses on the stream.
const (
	endpointEventName = "endpoint"
	messageEventName  = "message"
	pingEventName     = "ping"
)

const cancelNotifyTimeout = 5 * time.Second

// Session is one live connection to a server: an event stream for inbound
// messages, a POST endpoint for outbound requests, and the lifecycle state
// machine tying the two together. Create one with Connect; a closed session
// cannot be reused.
type Session struct {
	id      string
	baseURL *url.URL

	log     *slog.Logger
	sender  Sender
	clock   clockwork.Clock
	store   catalog.Store
	reader  *eventsource.Reader
	table   *pending.Table
	cancel  context.CancelFunc
	onNote  func(method string, params json.RawMessage)
	onState func(state SessionState)

	clientInfo   mcp.ImplementationInfo
	offerVersion string

	nextID atomic.Int64

	mu           sync.Mutex
	state        SessionState
	endpoint     *url.URL
	serverInfo   mcp.ImplementationInfo
	serverCaps   mcp.ServerCapabilities
	instructions string
	negotiated   string
	tools        []mcp.Tool
	handshakeErr error
	closeErr     error
	malformed    int

	// endpointReady closes when the first endpoint event lands, settled when
	// the handshake reaches Ready or Degraded, done when the event loop has
	// fully drained after close.
	endpointReady chan struct{}
	settled       chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// Connect dials the event stream at serverURL and returns once it is open,
// before any event has been consumed. The handshake continues in the
// background; use WaitReady to observe its outcome.
//
// ctx bounds the whole session, not just the dial: cancelling it tears the
// session down exactly like Close.
func Connect(ctx context.Context, serverURL string, opts ...Option) (*Session, error) {
	cfg := &newSessionConfig{
		callTimeout:     defaultCallTimeout,
		sweepInterval:   defaultSweepInterval,
		protocolVersion: mcp.ProtocolVersion,
		clientInfo:      mcp.ImplementationInfo{Name: defaultClientName, Version: defaultClientVersion},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.clock == nil {
		cfg.clock = clockwork.NewRealClock()
	}
	if cfg.sender == nil {
		cfg.sender = &HTTPSender{Client: cfg.httpClient}
	}

	baseURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}

	s := &Session{
		id:            uuid.NewString(),
		baseURL:       baseURL,
		log:           slog.New(logctx.Handler{Handler: cfg.logger.Handler()}),
		sender:        cfg.sender,
		clock:         cfg.clock,
		store:         cfg.catalog,
		onNote:        cfg.onNotification,
		onState:       cfg.onState,
		clientInfo:    cfg.clientInfo,
		offerVersion:  cfg.protocolVersion,
		state:         StateConnecting,
		endpointReady: make(chan struct{}),
		settled:       make(chan struct{}),
		done:          make(chan struct{}),
	}

	streamOpts := []eventsource.Option{
		eventsource.WithLogger(s.log),
		eventsource.WithStateHandler(func(st eventsource.State) {
			s.log.DebugContext(s.logCtx(context.Background()), "sse.stream.state", slog.String("state", string(st)))
		}),
	}
	if cfg.httpClient != nil {
		streamOpts = append(streamOpts, eventsource.WithHTTPClient(cfg.httpClient))
	}
	for name, value := range cfg.headers {
		streamOpts = append(streamOpts, eventsource.WithHeader(name, value))
	}
	streamOpts = append(streamOpts, cfg.streamOpts...)

	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	reader, err := eventsource.Connect(rctx, serverURL, streamOpts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	s.reader = reader
	s.table = pending.New(cfg.clock, cfg.callTimeout)

	s.log.InfoContext(s.logCtx(rctx), "session.open")

	go s.table.Run(rctx, cfg.sweepInterval)
	go s.eventLoop(rctx)
	go s.handshake(rctx)

	return s, nil
}

// ID is the locally minted session id used for log correlation. It is not a
// protocol artifact; the server never sees it.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Endpoint reports the resolved request delivery address, or "" before the
// endpoint event has arrived.
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == nil {
		return ""
	}
	return s.endpoint.String()
}

// ServerInfo reports the identity the server declared during the handshake.
func (s *Session) ServerInfo() mcp.ImplementationInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// ServerCapabilities reports the capability set declared during the
// handshake.
func (s *Session) ServerCapabilities() mcp.ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverCaps
}

// Instructions reports the usage instructions the server supplied, if any.
func (s *Session) Instructions() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instructions
}

// ProtocolVersion reports the revision the server answered with, or "" until
// the handshake settles.
func (s *Session) ProtocolVersion() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.negotiated
}

// Tools returns the most recent discovery snapshot. The slice is a copy.
func (s *Session) Tools() []mcp.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]mcp.Tool(nil), s.tools...)
}

// MalformedPayloads counts stream payloads that failed to parse as JSON-RPC.
// Each one is logged and skipped; none terminate the session.
func (s *Session) MalformedPayloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.malformed
}

// Done closes when the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports the terminal cause after Done: nil for an explicit Close, the
// stream failure otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// WaitReady blocks until the handshake settles or the session ends. It
// returns nil once Ready, the recorded handshake error once Degraded, and
// the terminal cause (or ErrSessionClosed) once closed.
func (s *Session) WaitReady(ctx context.Context) error {
	select {
	case <-s.settled:
		return s.handshakeResult()
	default:
	}

	select {
	case <-s.settled:
		return s.handshakeResult()
	case <-s.done:
		return s.terminationErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) handshakeResult() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakeErr
}

func (s *Session) terminationErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeErr != nil {
		return s.closeErr
	}
	return ErrSessionClosed
}

// Close tears the session down: the stream is closed, the loops stop, and
// every outstanding call fails with ErrSessionClosed. Close is idempotent
// and returns after teardown completes.
func (s *Session) Close() error {
	s.closeWithErr(nil)
	<-s.done
	return nil
}

func (s *Session) closeWithErr(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeErr = cause
		s.mu.Unlock()

		s.transition(StateClosed)
		s.cancel()
		_ = s.reader.Close()

		if n := s.table.FailAll(ErrSessionClosed); n > 0 {
			s.log.InfoContext(s.logCtx(context.Background()), "session.close.calls_failed", slog.Int("count", n))
		}

		ctx := s.logCtx(context.Background())
		if cause != nil {
			s.log.WarnContext(ctx, "session.close", slog.String("err", cause.Error()))
		} else {
			s.log.InfoContext(ctx, "session.close")
		}
	})
}

// Call sends one JSON-RPC request and blocks until its response arrives on
// the stream, the per-call deadline sweeps it, ctx is cancelled, or the
// session ends. A server error object is returned as a *RPCError; the raw
// result is returned otherwise.
func (s *Session) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	closed := s.state == StateClosed
	endpoint := s.endpoint
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if endpoint == nil {
		return nil, ErrNoEndpoint
	}

	id := s.nextID.Add(1) - 1
	call, err := s.table.Register(id)
	if err != nil {
		return nil, err
	}

	reqID := jsonrpc.NewRequestID(id)
	req, err := jsonrpc.NewRequest(reqID, method, params)
	if err != nil {
		s.table.Remove(id)
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		s.table.Remove(id)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: method, ID: reqID.String(), Type: jsonrpc.TypeRequest})
	s.log.DebugContext(s.logCtx(ctx), "rpc.outbound.send")

	if err := s.sender.Send(ctx, endpoint.String(), body); err != nil {
		s.table.Remove(id)
		s.log.WarnContext(s.logCtx(ctx), "rpc.outbound.send_failed", slog.String("err", err.Error()))
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-call.Response():
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case err := <-call.Err():
		return nil, err
	case <-ctx.Done():
		s.table.Remove(id)
		s.cancelRemote(id, ctx.Err())
		return nil, ctx.Err()
	case <-s.done:
		s.table.Remove(id)
		return nil, ErrSessionClosed
	}
}

// ListTools issues the standard tools/list request.
func (s *Session) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	res, err := s.Call(ctx, string(mcp.ToolsListMethod), &mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	var out mcp.ListToolsResult
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return &out, nil
}

// CallTool invokes a named tool. args marshals into the request's arguments
// member; pass nil for tools without inputs.
func (s *Session) CallTool(ctx context.Context, name string, args any) (*mcp.CallToolResult, error) {
	res, err := s.Call(ctx, string(mcp.ToolsCallMethod), &mcp.CallToolRequest{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	var out mcp.CallToolResult
	if err := json.Unmarshal(res, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tools/call result: %w", err)
	}
	return &out, nil
}

// Ping checks liveness over the request channel (distinct from the stream's
// ping events, which only mark the stream itself alive).
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.Call(ctx, string(mcp.PingMethod), &mcp.PingRequest{})
	return err
}

// notify sends a fire-and-forget notification to the current endpoint.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	s.mu.Lock()
	closed := s.state == StateClosed
	endpoint := s.endpoint
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if endpoint == nil {
		return ErrNoEndpoint
	}

	note, err := jsonrpc.NewNotification(method, params)
	if err != nil {
		return fmt.Errorf("failed to build notification: %w", err)
	}
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := s.sender.Send(ctx, endpoint.String(), body); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

// cancelRemote tells the server an abandoned call's result is no longer
// wanted. Best effort on a fresh context: the caller's is already done.
func (s *Session) cancelRemote(id int64, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelNotifyTimeout)
	defer cancel()

	params := &mcp.CancelledNotification{RequestID: id, Reason: reason}
	if err := s.notify(ctx, string(mcp.CancelledNotificationMethod), params); err != nil {
		s.log.DebugContext(s.logCtx(ctx), "rpc.outbound.cancel_failed", slog.String("err", err.Error()))
	}
}

// eventLoop drains the stream, dispatching by event name. It owns no locks
// across handler calls and never blocks awaiting a specific response, so a
// slow caller cannot stall inbound traffic.
func (s *Session) eventLoop(ctx context.Context) {
	defer close(s.done)

	for ev := range s.reader.Events() {
		switch ev.Name {
		case endpointEventName:
			s.handleEndpoint(ctx, ev)
		case messageEventName:
			s.handleMessage(ctx, ev)
		case pingEventName:
			s.log.DebugContext(s.logCtx(ctx), "sse.ping")
		default:
			s.log.DebugContext(s.logCtx(ctx), "sse.event.unknown", slog.String("event", ev.Name))
		}
	}

	err := s.reader.Err()
	if err != nil {
		err = fmt.Errorf("event stream terminated: %w", err)
	}
	s.closeWithErr(err)
}

// handleEndpoint resolves the announced address against the stream URL. The
// first announcement advances the lifecycle; later ones only rebind the
// address (no re-handshake).
func (s *Session) handleEndpoint(ctx context.Context, ev eventsource.Event) {
	raw := strings.TrimSpace(string(ev.Data))
	ref, err := url.Parse(raw)
	if err != nil {
		s.log.WarnContext(s.logCtx(ctx), "session.endpoint.invalid", slog.String("payload", raw), slog.String("err", err.Error()))
		return
	}
	resolved := s.baseURL.ResolveReference(ref)

	s.mu.Lock()
	first := s.endpoint == nil
	s.endpoint = resolved
	s.mu.Unlock()

	if !first {
		s.log.InfoContext(s.logCtx(ctx), "session.endpoint.rebound", slog.String("endpoint", resolved.String()))
		return
	}

	s.log.InfoContext(s.logCtx(ctx), "session.endpoint.received", slog.String("endpoint", resolved.String()))
	if s.transition(StateEndpointReceived) {
		s.transition(StateInitializing)
	}
	close(s.endpointReady)
}

func (s *Session) handleMessage(ctx context.Context, ev eventsource.Event) {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(ev.Data, &msg); err != nil {
		s.mu.Lock()
		s.malformed++
		count := s.malformed
		s.mu.Unlock()
		s.log.WarnContext(s.logCtx(ctx), "rpc.payload.malformed", slog.String("err", err.Error()), slog.Int("count", count))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	switch msg.Type() {
	case jsonrpc.TypeResponse:
		resp := msg.AsResponse()
		if id, ok := resp.ID.Int64(); !ok || !s.table.Resolve(id, resp) {
			s.log.WarnContext(s.logCtx(ctx), "rpc.inbound.unmatched", slog.String("id", resp.ID.String()))
		}
	case jsonrpc.TypeNotification:
		s.handleNotification(ctx, &msg)
	default:
		// Server-initiated requests are not part of this transport's client
		// contract; drop them rather than answer with garbage.
		s.log.WarnContext(s.logCtx(ctx), "rpc.inbound.request.unsupported", slog.String("method", msg.Method))
	}
}

func (s *Session) handleNotification(ctx context.Context, msg *jsonrpc.AnyMessage) {
	s.log.DebugContext(s.logCtx(ctx), "rpc.inbound.notification", slog.String("method", msg.Method))

	if msg.Method == string(mcp.ToolsListChangedNotificationMethod) && s.State() == StateReady {
		go s.discoverTools(ctx)
	}

	if s.onNote != nil {
		s.onNote(msg.Method, msg.Params)
	}
}

// handshake waits for the endpoint, issues initialize, and settles the
// lifecycle. It runs once per session on its own goroutine so the event loop
// stays free to deliver the very response it awaits.
func (s *Session) handshake(ctx context.Context) {
	select {
	case <-s.endpointReady:
	case <-ctx.Done():
		return
	}

	params := &mcp.InitializeRequest{
		ProtocolVersion: s.offerVersion,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      s.clientInfo,
	}
	res, err := s.Call(ctx, string(mcp.InitializeMethod), params)
	if err != nil {
		s.settle(fmt.Errorf("initialize failed: %w", err))
		return
	}

	var out mcp.InitializeResult
	if err := json.Unmarshal(res, &out); err != nil {
		s.settle(fmt.Errorf("initialize result malformed: %w", err))
		return
	}

	s.mu.Lock()
	s.serverInfo = out.ServerInfo
	s.serverCaps = out.Capabilities
	s.instructions = out.Instructions
	s.negotiated = out.ProtocolVersion
	s.mu.Unlock()

	if !s.settle(nil) {
		return
	}

	if err := s.notify(ctx, string(mcp.InitializedNotificationMethod), nil); err != nil {
		s.log.WarnContext(s.logCtx(ctx), "session.initialized.send_failed", slog.String("err", err.Error()))
	}

	s.discoverTools(ctx)
}

// settle records the handshake outcome exactly once and moves the lifecycle
// to Ready or Degraded. Returns false when the session closed first or the
// handshake failed.
func (s *Session) settle(err error) bool {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return false
	}
	s.handshakeErr = err
	s.mu.Unlock()

	ready := false
	if err == nil {
		ready = s.transition(StateReady)
	} else {
		s.transition(StateDegraded)
	}
	close(s.settled)
	return ready
}

// discoverTools issues the discovery request and refreshes the observable
// snapshot. Failures never affect the lifecycle; the session keeps whatever
// snapshot it had.
func (s *Session) discoverTools(ctx context.Context) {
	res, err := s.Call(ctx, string(mcp.LegacyToolsListMethod), &mcp.ListToolsRequest{})
	if err != nil {
		s.log.WarnContext(s.logCtx(ctx), "session.discovery.failed", slog.String("err", err.Error()))
		return
	}

	var out mcp.ListToolsResult
	if err := json.Unmarshal(res, &out); err != nil {
		s.log.WarnContext(s.logCtx(ctx), "session.discovery.malformed", slog.String("err", err.Error()))
		return
	}

	s.mu.Lock()
	s.tools = out.Tools
	serverInfo := s.serverInfo
	instructions := s.instructions
	version := s.negotiated
	s.mu.Unlock()

	s.log.InfoContext(s.logCtx(ctx), "session.discovery.complete", slog.Int("tools", len(out.Tools)))

	if s.store == nil {
		return
	}
	snap := &catalog.Snapshot{
		ServerURL:       s.baseURL.String(),
		ProtocolVersion: version,
		ServerInfo:      serverInfo,
		Instructions:    instructions,
		Tools:           out.Tools,
		UpdatedAt:       s.clock.Now(),
	}
	if err := s.store.Put(ctx, snap); err != nil {
		s.log.WarnContext(s.logCtx(ctx), "session.catalog.put_failed", slog.String("err", err.Error()))
	}
}

// transition moves the lifecycle along a validated edge. Invalid moves are
// logged and refused; they indicate a stale event, not a bug in the caller.
func (s *Session) transition(to SessionState) bool {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.log.WarnContext(s.logCtx(context.Background()), "session.state.invalid",
				slog.String("from", string(from)), slog.String("to", string(to)))
		}
		return false
	}
	s.state = to
	s.mu.Unlock()

	s.log.InfoContext(s.logCtx(context.Background()), "session.state.change",
		slog.String("from", string(from)), slog.String("to", string(to)))
	if s.onState != nil {
		s.onState(to)
	}
	return true
}

// logCtx stamps the context with a point-in-time view of the session for the
// logctx handler. A fresh value each call keeps records race-free.
func (s *Session) logCtx(ctx context.Context) context.Context {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	return logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID: s.id,
		ServerURL: s.baseURL.String(),
		State:     string(st),
	})
}

// Package servertest implements the server side of the legacy HTTP+SSE
// transport in-process, for tests and examples. GET /sse opens a session
// stream that announces the message endpoint and then carries JSON-RPC
// responses, notifications, and pings; POST <messagePath>?session_id=<id>
// accepts one JSON-RPC message and acknowledges it with 202.
//
// Requests route to scriptable handlers layered over built-ins for
// initialize, discovery, tools/call, and ping. A nil handler swallows the
// request without answering, which is how tests starve a call into its
// timeout. Sessions additionally allow raw event injection for malformed
// and unsolicited traffic.
package servertest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/ggoodman/mcp-client-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-client-go/mcp"
)

// Envelope aliases so custom handlers can be written without importing
// internal packages.
type (
	Request  = jsonrpc.Request
	Response = jsonrpc.Response
)

// HandlerFunc answers one inbound request on a session. Returning nil
// swallows the request: the POST is still acknowledged but no response
// event is ever pushed.
type HandlerFunc func(ctx context.Context, sess *Session, req *Request) *Response

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	streamPath         = "/sse"
	sessionIDParam     = "session_id"
	defaultMessagePath = "/messages/"

	defaultPingInterval = 30 * time.Second
	sessionBufferSize   = 64
)

// Server is the in-process counterparty. Construct with New and stop with
// Close; the zero value is not usable.
type Server struct {
	log             *slog.Logger
	messagePath     string
	endpointDelay   time.Duration
	pingInterval    time.Duration
	protocolVersion string
	serverInfo      mcp.ImplementationInfo
	instructions    string
	initializeErr   *jsonrpc.Error

	mu       sync.Mutex
	handlers map[string]HandlerFunc
	tools    []Tool
	sessions map[string]*Session

	sessionCh chan *Session
	httpSrv   *httptest.Server
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMessagePath sets the POST path announced in the endpoint event.
func WithMessagePath(path string) Option {
	return func(s *Server) { s.messagePath = path }
}

// WithEndpointDelay delays the endpoint event after the stream opens, so
// tests can exercise calls made before any endpoint is known.
func WithEndpointDelay(d time.Duration) Option {
	return func(s *Server) { s.endpointDelay = d }
}

// WithPingInterval sets the cadence of ping events. Zero disables them.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// WithServerInfo sets the identity reported during initialize.
func WithServerInfo(name, version string) Option {
	return func(s *Server) {
		s.serverInfo = mcp.ImplementationInfo{Name: name, Version: version}
	}
}

// WithInstructions sets the instructions reported during initialize.
func WithInstructions(instructions string) Option {
	return func(s *Server) { s.instructions = instructions }
}

// WithProtocolVersion sets the revision reported during initialize.
func WithProtocolVersion(version string) Option {
	return func(s *Server) { s.protocolVersion = version }
}

// WithInitializeError makes the built-in initialize handler answer with an
// error object instead of a result.
func WithInitializeError(code int, message string) Option {
	return func(s *Server) {
		s.initializeErr = &jsonrpc.Error{Code: jsonrpc.ErrorCode(code), Message: message}
	}
}

// WithHandler installs a scripted handler for a method, shadowing any
// built-in. A nil fn swallows matching requests.
func WithHandler(method string, fn HandlerFunc) Option {
	return func(s *Server) { s.handlers[method] = fn }
}

// WithTools seeds the tool registry.
func WithTools(tools ...Tool) Option {
	return func(s *Server) { s.tools = append(s.tools, tools...) }
}

// New starts a test server. Callers own it and must Close it.
func New(opts ...Option) *Server {
	s := &Server{
		log:             slog.New(slog.DiscardHandler),
		messagePath:     defaultMessagePath,
		pingInterval:    defaultPingInterval,
		protocolVersion: mcp.ProtocolVersion,
		serverInfo:      mcp.ImplementationInfo{Name: "test-server", Version: "1.0.0"},
		handlers:        make(map[string]HandlerFunc),
		sessions:        make(map[string]*Session),
		sessionCh:       make(chan *Session, 16),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+streamPath, s.handleStream)
	mux.HandleFunc("POST "+s.messagePath, s.handleMessage)
	s.httpSrv = httptest.NewServer(mux)
	return s
}

// URL is the stream address clients dial.
func (s *Server) URL() string { return s.httpSrv.URL + streamPath }

// BaseURL is the root address of the server.
func (s *Server) BaseURL() string { return s.httpSrv.URL }

// Close shuts the server down, severing every open stream.
func (s *Server) Close() { s.httpSrv.Close() }

// WaitSession returns the next session to connect.
func (s *Server) WaitSession(ctx context.Context) (*Session, error) {
	select {
	case sess := <-s.sessionCh:
		return sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle installs or replaces a scripted handler at runtime. A nil fn
// swallows matching requests.
func (s *Server) Handle(method string, fn HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = fn
}

// SetTools replaces the tool registry. Pair with Session.NotifyToolsChanged
// to exercise client re-discovery.
func (s *Server) SetTools(tools ...Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools = append([]Tool(nil), tools...)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		s.log.Warn("accept.unsupported")
		return
	}
	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		s.log.Error("sse.flusher.missing")
		return
	}

	ctx := r.Context()
	sess := &Session{
		id:  uuid.NewString(),
		out: make(chan streamEvent, sessionBufferSize),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	select {
	case s.sessionCh <- sess:
	default:
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	s.log.Info("sse.stream.start", slog.String("session_id", sess.id))
	defer s.log.Info("sse.stream.end", slog.String("session_id", sess.id))
	defer s.dropSession(sess)

	if s.endpointDelay > 0 {
		select {
		case <-time.After(s.endpointDelay):
		case <-ctx.Done():
			return
		}
	}

	endpoint := fmt.Sprintf("%s?%s=%s", s.messagePath, sessionIDParam, sess.id)
	if err := writeEvent(w, f, "endpoint", []byte(endpoint)); err != nil {
		return
	}

	var pingCh <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		pingCh = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sess.out:
			if err := writeEvent(w, f, ev.name, ev.data); err != nil {
				return
			}
		case t := <-pingCh:
			if err := writeEvent(w, f, "ping", []byte(t.UTC().Format(time.RFC3339))); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		s.log.Warn("content_type.unsupported")
		return
	}

	id := r.URL.Query().Get(sessionIDParam)
	s.mu.Lock()
	sess := s.sessions[id]
	s.mu.Unlock()
	if sess == nil {
		writeJSONError(w, http.StatusNotFound, "unknown session")
		s.log.Warn("session.unknown", slog.String("session_id", id))
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON-RPC payload")
		s.log.Warn("json.decode.fail", slog.String("err", err.Error()))
		return
	}

	switch msg.Type() {
	case jsonrpc.TypeRequest:
		req := msg.AsRequest()
		sess.recordRequest(req.Method, req.ID.String())
		s.dispatch(r.Context(), sess, req)
	case jsonrpc.TypeNotification:
		sess.recordNotification(msg.Method)
		s.log.Info("rpc.notification.received", slog.String("method", msg.Method))
	default:
		s.log.Info("rpc.response.received", slog.String("id", msg.ID.String()))
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) dispatch(ctx context.Context, sess *Session, req *jsonrpc.Request) {
	s.mu.Lock()
	fn, scripted := s.handlers[req.Method]
	s.mu.Unlock()

	var resp *jsonrpc.Response
	if scripted {
		if fn != nil {
			resp = fn(ctx, sess, req)
		}
	} else {
		resp = s.builtin(ctx, req)
	}
	if resp == nil {
		s.log.Info("rpc.request.swallowed", slog.String("method", req.Method))
		return
	}
	if err := sess.Respond(resp); err != nil {
		s.log.Error("rpc.response.push_failed", slog.String("err", err.Error()))
	}
}

func (s *Server) builtin(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	switch req.Method {
	case string(mcp.InitializeMethod):
		return s.handleInitialize(req)
	case string(mcp.LegacyToolsListMethod), string(mcp.ToolsListMethod):
		return s.handleListTools(req)
	case string(mcp.ToolsCallMethod):
		return s.handleCallTool(ctx, req)
	case string(mcp.PingMethod):
		return mustResult(req, struct{}{})
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil)
	}
}

func (s *Server) handleInitialize(req *jsonrpc.Request) *jsonrpc.Response {
	if s.initializeErr != nil {
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: s.initializeErr, ID: req.ID}
	}
	return mustResult(req, &mcp.InitializeResult{
		ProtocolVersion: s.protocolVersion,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{
				ListChanged: true,
			},
		},
		ServerInfo:   s.serverInfo,
		Instructions: s.instructions,
	})
}

func (s *Server) handleListTools(req *jsonrpc.Request) *jsonrpc.Response {
	s.mu.Lock()
	descs := make([]mcp.Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		descs = append(descs, tool.Descriptor)
	}
	s.mu.Unlock()
	return mustResult(req, &mcp.ListToolsResult{Tools: descs})
}

func (s *Server) handleCallTool(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
	}

	tool, ok := s.lookupTool(params.Name)
	if !ok {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name), nil)
	}

	out, err := tool.Handler(ctx, params.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return mustResult(req, out)
}

func (s *Server) lookupTool(name string) (Tool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tool := range s.tools {
		if tool.Descriptor.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}

func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess.id)
}

// mustResult wraps a result payload for req. The payloads built here are
// static shapes that always marshal.
func mustResult(req *jsonrpc.Request, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, err.Error(), nil)
	}
	return resp
}

// ResultResponse builds a successful response envelope for req, marshaling
// result. Intended for scripted handlers.
func ResultResponse(req *Request, result any) (*Response, error) {
	return jsonrpc.NewResultResponse(req.ID, result)
}

// ErrorResponse builds an error response envelope for req. Intended for
// scripted handlers.
func ErrorResponse(req *Request, code int, message string) *Response {
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCode(code), message, nil)
}

type streamEvent struct {
	name string
	data []byte
}

// ReceivedRequest records one inbound request's method and wire id.
type ReceivedRequest struct {
	Method string
	ID     string
}

// Session is one live client stream and its queue of outbound events.
type Session struct {
	id  string
	out chan streamEvent

	mu    sync.Mutex
	reqs  []ReceivedRequest
	notes []string
}

// ID is the session identifier carried in the endpoint event's query string.
func (sess *Session) ID() string { return sess.id }

// Push queues a raw event for the stream. Nothing validates the payload, so
// tests can inject malformed JSON or unknown event names. Events are dropped
// once the buffer fills with no consumer draining it.
func (sess *Session) Push(name string, data []byte) {
	select {
	case sess.out <- streamEvent{name: name, data: data}:
	default:
	}
}

// Respond pushes a JSON-RPC response as a message event. Nothing ties it to
// an in-flight request: tests can answer late or invent responses for ids
// the client never issued.
func (sess *Session) Respond(resp *Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	sess.Push("message", b)
	return nil
}

// NotifyToolsChanged pushes the tools list-changed notification.
func (sess *Session) NotifyToolsChanged() error {
	note, err := jsonrpc.NewNotification(string(mcp.ToolsListChangedNotificationMethod), nil)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	sess.Push("message", b)
	return nil
}

// RequestMethods lists the request methods received on this session so far,
// in arrival order.
func (sess *Session) RequestMethods() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	methods := make([]string, 0, len(sess.reqs))
	for _, req := range sess.reqs {
		methods = append(methods, req.Method)
	}
	return methods
}

// Requests lists the requests received on this session so far, in arrival
// order.
func (sess *Session) Requests() []ReceivedRequest {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]ReceivedRequest(nil), sess.reqs...)
}

// Notifications lists the notification methods received on this session so
// far, in arrival order.
func (sess *Session) Notifications() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return append([]string(nil), sess.notes...)
}

func (sess *Session) recordRequest(method, id string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.reqs = append(sess.reqs, ReceivedRequest{Method: method, ID: id})
}

func (sess *Session) recordNotification(method string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.notes = append(sess.notes, method)
}

// writeEvent frames one SSE event and flushes it. Payloads are single-line
// by construction (JSON marshaling never emits raw newlines).
func writeEvent(w io.Writer, f http.Flusher, name string, data []byte) error {
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return fmt.Errorf("failed to write SSE event name: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write SSE data: %w", err)
	}
	f.Flush()
	return nil
}

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before
// a JSON-RPC exchange is possible. Shape: {"error":{"code":<status>,"message":"<reason>"}}
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates an slog.Handler with contextual attribute groups carried
// in the context.Context of the log call. The session event loop, the stream
// reader, and per-call paths each annotate the context once; every record
// logged below them picks the groups up without manual plumbing.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("server_url", sd.ServerURL),
			slog.String("state", sd.State),
		))
	}

	if msg, ok := ctx.Value(rpcMsgKey{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	if sd, ok := ctx.Value(streamDataKey{}).(*StreamData); ok {
		r.AddAttrs(slog.Group("stream",
			slog.String("url", sd.URL),
			slog.String("state", sd.State),
		))
	}

	return h.Handler.Handle(ctx, r)
}

type sessionDataKey struct{}

// SessionData identifies the session a record belongs to.
type SessionData struct {
	SessionID string
	ServerURL string
	State     string
}

// WithSessionData annotates ctx for the "sess" group.
func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

type rpcMsgKey struct{}

// RPCMessage identifies the message a record concerns, inbound or outbound.
type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

// WithRPCMessage annotates ctx for the "rpc" group.
func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

type streamDataKey struct{}

// StreamData identifies the event stream a record belongs to.
type StreamData struct {
	URL   string
	State string
}

// WithStreamData annotates ctx for the "stream" group.
func WithStreamData(ctx context.Context, data *StreamData) context.Context {
	return context.WithValue(ctx, streamDataKey{}, data)
}

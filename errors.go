package mcpclient

import (
	"errors"

	"github.com/ggoodman/mcp-client-go/internal/jsonrpc"
	"github.com/ggoodman/mcp-client-go/internal/pending"
)

var (
	// ErrNoEndpoint is returned by Call when the server has not yet announced
	// a delivery address on the event stream. There is nowhere to send the
	// request, so the call fails immediately rather than queueing.
	ErrNoEndpoint = errors.New("no endpoint announced by server")

	// ErrSessionClosed is returned by calls issued after Close and handed to
	// every call still outstanding when the session closes.
	ErrSessionClosed = errors.New("session closed")
)

// ErrCallTimeout marks calls abandoned by the deadline sweep. A late response
// for a timed-out id is dropped, never matched.
var ErrCallTimeout = pending.ErrTimeout

// RPCError is the structured error object a server returns for a failed
// call: a protocol-level outcome, not a transport fault. Match it with
//
//	var rpcErr *mcpclient.RPCError
//	if errors.As(err, &rpcErr) { ... }
type RPCError = jsonrpc.Error

// ErrorCode is the numeric code carried by an RPCError.
type ErrorCode = jsonrpc.ErrorCode

package jsonrpc

// ErrorCode is a JSON-RPC 2.0 error code. Codes in [-32768, -32000] are
// reserved by the protocol; servers use codes outside that range for
// application-defined failures.
type ErrorCode int

const (
	// ErrorCodeParseError signals the peer could not parse the payload as JSON.
	ErrorCodeParseError ErrorCode = -32700
	// ErrorCodeInvalidRequest signals the payload parsed but is not a valid
	// request object.
	ErrorCodeInvalidRequest ErrorCode = -32600
	// ErrorCodeMethodNotFound signals the requested method is not exposed by
	// the peer.
	ErrorCodeMethodNotFound ErrorCode = -32601
	// ErrorCodeInvalidParams signals the method exists but rejected the params.
	ErrorCodeInvalidParams ErrorCode = -32602
	// ErrorCodeInternalError signals a failure inside the peer while handling
	// an otherwise valid request.
	ErrorCodeInternalError ErrorCode = -32603
)

// Reserved reports whether the code falls in the range the JSON-RPC 2.0
// specification reserves for protocol-level errors.
func (c ErrorCode) Reserved() bool {
	return c >= -32768 && c <= -32000
}

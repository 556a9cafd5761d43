package mcp

// Method is a JSON-RPC method or notification name.
type Method string

// Wire names for everything a session sends or expects back.
const (
	// Handshake. The client opens with initialize and, once the result is in,
	// confirms with notifications/initialized.
	InitializeMethod              Method = "initialize"
	InitializedNotificationMethod Method = "notifications/initialized"

	// Discovery. LegacyToolsListMethod is the request the HTTP+SSE generation
	// of servers answers; ToolsListMethod is the standard 2024-11-05 name.
	// Both produce a ListToolsResult.
	LegacyToolsListMethod              Method = "ListToolsRequest"
	ToolsListMethod                    Method = "tools/list"
	ToolsCallMethod                    Method = "tools/call"
	ToolsListChangedNotificationMethod Method = "notifications/tools/list_changed"

	// Liveness and bookkeeping.
	PingMethod                  Method = "ping"
	CancelledNotificationMethod Method = "notifications/cancelled"
	ProgressNotificationMethod  Method = "notifications/progress"
)

// InitializeRequest is the opening request of every session: the revision the
// client wants to speak, what it can do, and who it is.
type InitializeRequest struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      ImplementationInfo `json:"clientInfo"`
}

// InitializeResult is the server's half of the handshake. ProtocolVersion is
// the revision the server settled on, which may differ from the one asked
// for; Instructions is free-form server guidance.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ImplementationInfo `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitzero"`
	BaseMetadata
}

// InitializedNotification confirms the handshake; it carries nothing.
type InitializedNotification struct{}

// ListToolsRequest asks for the server's tool surface. Sent with either
// discovery method name.
type ListToolsRequest struct {
	PaginatedRequest
}

// ListToolsResult is one page of the server's tools.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
	PaginatedResult
	BaseMetadata
}

// CallToolRequest invokes one tool by name. Arguments marshals into the
// object the tool's input schema describes; nil omits the member.
type CallToolRequest struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

// CallToolResult carries the tool's output. IsError marks a tool-level
// failure; the call itself still succeeded at the JSON-RPC layer.
type CallToolResult struct {
	Content []ContentBlock `json:"content,omitempty"`
	IsError bool           `json:"isError,omitzero"`
	BaseMetadata
}

// ToolListChangedNotification is the server's hint to re-discover; it
// carries nothing.
type ToolListChangedNotification struct{}

// PingRequest checks liveness over the request channel. Empty on the wire.
type PingRequest struct{}

// CancelledNotification tells the server a request's caller gave up.
// RequestID mirrors the id of the abandoned request.
type CancelledNotification struct {
	RequestID any    `json:"requestId"` // string | number
	Reason    string `json:"reason,omitzero"`
}

// ProgressToken correlates progress notifications with the request that
// asked for them. String or number on the wire.
type ProgressToken any

// ProgressNotificationParams reports how far along a long-running request
// is. Total is absent when the server cannot estimate it.
type ProgressNotificationParams struct {
	ProgressToken ProgressToken `json:"progressToken"`
	Progress      float64       `json:"progress"`
	Total         float64       `json:"total,omitzero"`
}

// PaginatedRequest is embedded by list requests that accept a cursor.
type PaginatedRequest struct {
	Cursor string `json:"cursor,omitzero"`
}

// PaginatedResult is embedded by list results; a non-empty NextCursor means
// more pages remain.
type PaginatedResult struct {
	NextCursor string `json:"nextCursor,omitzero"`
}

// BaseMetadata is the _meta member results may carry.
type BaseMetadata struct {
	Meta map[string]any `json:"_meta,omitempty"`
}

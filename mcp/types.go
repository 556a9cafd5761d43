package mcp

// ProtocolVersion is the revision this client negotiates by default: the
// generation that paired a GET event stream with POSTed requests.
const ProtocolVersion = "2024-11-05"

// ImplementationInfo names one side of the wire. Both halves of the
// handshake carry it.
type ImplementationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Title   string `json:"title,omitzero"`
}

// ClientCapabilities is what this client claims during initialize. The
// legacy transport's sessions are strictly client-initiated, so both
// members stay nil here; the fields exist to keep the wire shape complete.
type ClientCapabilities struct {
	Roots *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"roots,omitempty"`
	Sampling *struct{} `json:"sampling,omitempty"`
}

// ServerCapabilities is what the server claims back. Tools.ListChanged is
// the one this session acts on (re-discovery); the rest is surfaced to the
// caller untouched.
type ServerCapabilities struct {
	Logging *struct{} `json:"logging,omitempty"`
	Prompts *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"prompts,omitempty"`
	Resources *struct {
		ListChanged bool `json:"listChanged"`
		Subscribe   bool `json:"subscribe"`
	} `json:"resources,omitempty"`
	Tools *struct {
		ListChanged bool `json:"listChanged"`
	} `json:"tools,omitempty"`
}

// Tool is one entry of the server's discovered surface.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ToolInputSchema describes a tool's arguments as a JSON Schema object
// node. Servers in the wild send full JSON Schema here; this keeps the
// subset the transport generation actually produced.
type ToolInputSchema struct {
	Type                 string                    `json:"type"`
	Properties           map[string]SchemaProperty `json:"properties,omitempty"`
	Required             []string                  `json:"required,omitempty"`
	AdditionalProperties bool                      `json:"additionalProperties,omitzero"`
}

// SchemaProperty is one property node of a tool schema.
type SchemaProperty struct {
	Type        string                    `json:"type,omitempty"`
	Description string                    `json:"description,omitzero"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Enum        []any                     `json:"enum,omitempty"`
}

// ContentBlock is one typed part of a tool result. Type selects which of
// the remaining fields carry the payload.
type ContentBlock struct {
	Type string `json:"type"`
	// text
	Text string `json:"text,omitzero"`
	// image (base64 data + media type)
	Data     string `json:"data,omitzero"`
	MimeType string `json:"mimeType,omitzero"`
	// embedded resource
	Resource *ResourceContents `json:"resource,omitempty"`
}

// ContentBlock type discriminators.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// ResourceContents is an embedded resource's value: Text for textual
// resources, Blob (base64) for binary ones.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitzero"`
	Text     string `json:"text,omitzero"`
	Blob     string `json:"blob,omitzero"`
}

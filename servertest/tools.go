package servertest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/ggoodman/mcp-client-go/mcp"
)

// Tool couples a wire descriptor with its call handler.
type Tool struct {
	Descriptor mcp.Tool
	Handler    func(ctx context.Context, args json.RawMessage) (*mcp.CallToolResult, error)
}

// NewTool builds a tool whose input schema is reflected from the Go args
// struct A. Calls decode their arguments into A before reaching fn; unknown
// fields are rejected as a tool-level error.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (*mcp.CallToolResult, error)) Tool {
	desc := mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: reflectInputSchema[A](),
	}
	handler := func(ctx context.Context, raw json.RawMessage) (*mcp.CallToolResult, error) {
		var args A
		if len(raw) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return ErrorResult("invalid arguments: %v", err), nil
			}
		}
		return fn(ctx, args)
	}
	return Tool{Descriptor: desc, Handler: handler}
}

// TextResult wraps text in a successful tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: text}},
	}
}

// ErrorResult builds a tool-level failure (isError in the result, not a
// protocol error).
func ErrorResult(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: fmt.Sprintf(format, args...)}},
	}
}

// reflectInputSchema reflects A into the simplified wire schema. Only object
// schemas map cleanly; anything else degrades to an empty object.
func reflectInputSchema[A any]() mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(A))

	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]mcp.SchemaProperty{},
		}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			props[el.Key] = toSchemaProperty(el.Value)
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
}

// toSchemaProperty recursively maps a reflected schema node to the
// simplified wire property.
func toSchemaProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{
		Type:        s.Type,
		Description: s.Description,
	}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toSchemaProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toSchemaProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

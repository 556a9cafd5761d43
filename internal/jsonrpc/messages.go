package jsonrpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the only JSON-RPC version this package accepts.
const ProtocolVersion = "2.0"

// Message kinds reported by AnyMessage.Type.
const (
	TypeRequest      = "request"
	TypeNotification = "notification"
	TypeResponse     = "response"
)

// AnyMessage holds any JSON-RPC message before classification. On this
// transport everything arrives on one stream, so the consumer decodes into
// AnyMessage first and then branches on Type.
//
// Decoding is strict: see UnmarshalJSON.
type AnyMessage struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method,omitempty"`
	Params         json.RawMessage `json:"params,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// UnmarshalJSON decodes and validates in one step, so an AnyMessage that
// exists is well-formed: the version member must be "2.0", a method-bearing
// message must not carry result or error, and a response must carry exactly
// one of them. Anything else is rejected here rather than handled downstream.
func (m *AnyMessage) UnmarshalJSON(data []byte) error {
	type plain AnyMessage
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("not a JSON object: %w", err)
	}
	if err := (*AnyMessage)(&raw).validate(); err != nil {
		return err
	}
	*m = AnyMessage(raw)
	return nil
}

func (m *AnyMessage) validate() error {
	if m.JSONRPCVersion != ProtocolVersion {
		return fmt.Errorf("jsonrpc version must be %q, have %q", ProtocolVersion, m.JSONRPCVersion)
	}

	hasResult := len(m.Result) > 0
	hasError := m.Error != nil

	if m.Method != "" {
		if hasResult || hasError {
			return errors.New("method-bearing message carries result or error")
		}
		return nil
	}
	if hasResult == hasError {
		return errors.New("response must carry exactly one of result and error")
	}
	return nil
}

// Type classifies the message as TypeRequest, TypeNotification, or
// TypeResponse. A method with an id is a request; without one, a
// notification; no method means a response.
func (m *AnyMessage) Type() string {
	switch {
	case m.Method == "":
		return TypeResponse
	case m.ID == nil:
		return TypeNotification
	default:
		return TypeRequest
	}
}

// AsRequest narrows to a Request, or nil when the message is a response.
// Notifications narrow too (their ID stays nil).
func (m *AnyMessage) AsRequest() *Request {
	if m.Method == "" {
		return nil
	}
	return &Request{
		JSONRPCVersion: m.JSONRPCVersion,
		Method:         m.Method,
		Params:         m.Params,
		ID:             m.ID,
	}
}

// AsResponse narrows to a Response, or nil when the message carries a method.
func (m *AnyMessage) AsResponse() *Response {
	if m.Method != "" {
		return nil
	}
	return &Response{
		JSONRPCVersion: m.JSONRPCVersion,
		Result:         m.Result,
		Error:          m.Error,
		ID:             m.ID,
	}
}

// Request is an outbound call (ID set) or notification (ID nil).
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// Response pairs a result or an error with the id it answers.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *RequestID      `json:"id,omitempty"`
}

// NewRequest builds a call envelope, marshaling params. Nil params leaves
// the member absent on the wire instead of sending null.
func NewRequest(id *RequestID, method string, params any) (*Request, error) {
	req := &Request{
		JSONRPCVersion: ProtocolVersion,
		Method:         method,
		ID:             id,
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		req.Params = b
	}
	return req, nil
}

// NewNotification builds an id-less envelope. No response will ever
// correlate to it.
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(nil, method, params)
}

// NewResultResponse builds a success response for the given id.
func NewResultResponse(id *RequestID, result any) (*Response, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Result:         b,
		ID:             id,
	}, nil
}

// NewErrorResponse builds an error response for the given id.
func NewErrorResponse(id *RequestID, code ErrorCode, message string, data any) *Response {
	return &Response{
		JSONRPCVersion: ProtocolVersion,
		Error:          &Error{Code: code, Message: message, Data: data},
		ID:             id,
	}
}

// Error is the error object of a failed call. It implements the error
// interface so it can surface directly to the caller whose request failed.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Data    any       `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

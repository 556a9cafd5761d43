package mcpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const (
	contentTypeHeader = "Content-Type"
	acceptHeader      = "Accept"

	jsonContentType = "application/json"
	postAcceptValue = "application/json, text/event-stream"
	maxAckBodyDrain = 4 * 1024
)

// Sender delivers one serialized JSON-RPC message to the session's current
// endpoint. Implementations must be safe for concurrent use; the session
// never retries a send.
type Sender interface {
	Send(ctx context.Context, endpoint string, body []byte) error
}

// HTTPSender posts messages with net/http. A 2xx status acknowledges
// receipt and nothing more: the response body is drained and discarded
// because real results arrive on the event stream, not here.
type HTTPSender struct {
	// Client to post with. Nil falls back to http.DefaultClient.
	Client *http.Client
}

func (s *HTTPSender) Send(ctx context.Context, endpoint string, body []byte) error {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set(contentTypeHeader, jsonContentType)
	req.Header.Set(acceptHeader, postAcceptValue)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxAckBodyDrain))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint answered status %d", resp.StatusCode)
	}
	return nil
}

var _ Sender = (*HTTPSender)(nil)

// Package eventsource implements a Server-Sent Events (SSE) client over a
// long-lived HTTP GET. It dials synchronously, then exposes the stream as a
// lazy sequence of events on a channel, reconnecting transparently when the
// transport drops.
//
// Responsibilities
//   - Initial GET with stream-appropriate headers and response validation
//   - Wire-format parsing (event/data/id/retry fields, comments, dispatch)
//   - Reconnection with exponential backoff, jitter, and Last-Event-ID resume
//   - Terminal-versus-transient failure classification
//
// Construction
//
//	r, err := eventsource.Connect(ctx, "https://api.example/sse",
//	    eventsource.WithLogger(log),
//	)
//	if err != nil { ... }
//	defer r.Close()
//	for ev := range r.Events() {
//	    // ev.Name, ev.Data, ev.ID
//	}
//
// The context passed to Connect bounds the whole stream, not just the dial:
// cancel it or call Close to end the sequence. Once Events() closes, Err()
// reports why (nil for a clean close).
//
// The reader is payload-agnostic. It never inspects event data, so malformed
// payloads are the consumer's concern and cannot terminate the stream.
package eventsource

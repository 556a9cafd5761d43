// Package mcpclient manages client sessions against servers that speak
// JSON-RPC over the legacy HTTP+SSE transport: responses and notifications
// arrive asynchronously on a server-sent-events stream while requests travel
// over separate HTTP POSTs to an endpoint the server announces on that
// stream.
//
// A Session owns one eventsource.Reader, correlates replies to in-flight
// requests by id, and drives the lifecycle
//
//	connecting → endpoint_received → initializing → ready | degraded → closed
//
// Connect returns as soon as the stream is open; the protocol handshake
// (initialize, then capability discovery) continues in the background and
// WaitReady blocks until it settles.
//
// Construction
//
//	sess, err := mcpclient.Connect(ctx, "https://api.example/sse",
//	    mcpclient.WithLogger(log),
//	    mcpclient.WithClientInfo("my-tool", "1.0.0"),
//	)
//	if err != nil { ... }
//	defer sess.Close()
//	if err := sess.WaitReady(ctx); err != nil { ... }
//	res, err := sess.Call(ctx, "some/method", params)
//
// Calls are independent and complete in response-arrival order, not request
// order. A server error object surfaces as a *RPCError on the affected call
// only; nothing short of Close or stream exhaustion terminates the session.
package mcpclient

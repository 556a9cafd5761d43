package mcpclient

// SessionState identifies where a session is in its lifecycle. State only
// moves along the edges in allowedTransitions; StateClosed is terminal.
type SessionState string

const (
	// StateConnecting: the stream is dialed but no endpoint event has
	// arrived, so requests cannot be delivered yet.
	StateConnecting SessionState = "connecting"

	// StateEndpointReceived: the server announced the request delivery
	// address.
	StateEndpointReceived SessionState = "endpoint_received"

	// StateInitializing: the initialize handshake is in flight.
	StateInitializing SessionState = "initializing"

	// StateReady: the handshake succeeded and discovery has been kicked off.
	StateReady SessionState = "ready"

	// StateDegraded: the handshake failed. The session stays usable for
	// manual calls; WaitReady reports the recorded cause.
	StateDegraded SessionState = "degraded"

	// StateClosed: the session is torn down. A new session is required to
	// reconnect.
	StateClosed SessionState = "closed"
)

var allowedTransitions = map[SessionState][]SessionState{
	StateConnecting:       {StateEndpointReceived, StateClosed},
	StateEndpointReceived: {StateInitializing, StateClosed},
	StateInitializing:     {StateReady, StateDegraded, StateClosed},
	StateReady:            {StateClosed},
	StateDegraded:         {StateClosed},
	StateClosed:           nil,
}

func canTransition(from, to SessionState) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

package voicesession

// State is the authoritative cross-cutting session state. It gates which
// operations are legal; illegal operations are deferred no-ops rather
// than errors.
type State string

const (
	// StateIdle covers both "not connected" and "connected, ready".
	StateIdle State = "idle"
	// StateConnecting covers the initial dial and reconnect attempts.
	StateConnecting State = "connecting"
	// StateListening means the capture pipeline is streaming microphone
	// chunks to the backend.
	StateListening State = "listening"
	// StateProcessing means the backend accepted the user's turn and is
	// working on a response.
	StateProcessing State = "processing"
	// StateSpeaking means synthesized agent speech is arriving or playing.
	StateSpeaking State = "speaking"
	// StateError is reached on any in-band error, on an exhausted
	// reconnect budget, or on a failed connect. Recoverable only via an
	// explicit new Connect.
	StateError State = "error"
	// StateTimeout is reached when the backend expires the session for
	// inactivity. Recoverable only via an explicit new Connect.
	StateTimeout State = "timeout"
)

// terminal reports whether the state requires an explicit new Connect to
// leave.
func (s State) terminal() bool {
	return s == StateError || s == StateTimeout
}

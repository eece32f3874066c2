package voicesession

import (
	"context"
	"time"

	"github.com/siacoach/voice-core/core/audio"
	"github.com/siacoach/voice-core/core/protocol"
	"github.com/siacoach/voice-core/core/transport"
)

const (
	defaultChunkDuration   = 100 * time.Millisecond
	defaultSilenceDuration = 2 * time.Second
	defaultGracePeriod     = 1500 * time.Millisecond
	defaultReconnectLimit  = 3
	defaultReconnectDelay  = 2 * time.Second
)

type SessionOption func(*Session)

// transportConn is the slice of [transport.Conn] the session uses;
// narrowed to an interface so tests can substitute a fake channel.
type transportConn interface {
	SendAudio(chunk []byte) error
	SendCommand(cmd protocol.Command) error
	Close() error
	IsOpen() bool
}

// DialFunc opens one physical connection and registers the session's
// frame handler on it.
type DialFunc func(ctx context.Context, endpoint string, init protocol.InitCommand, handler transport.Handler) (transportConn, error)

func defaultDial(ctx context.Context, endpoint string, init protocol.InitCommand, handler transport.Handler) (transportConn, error) {
	return transport.Dial(ctx, endpoint, init, handler)
}

// WithAudioSource supplies the microphone capability. Without one the
// session still connects and plays agent speech, but StartListening is a
// no-op.
func WithAudioSource(source audio.Source) SessionOption {
	return func(s *Session) { s.source = source }
}

// WithAudioSink supplies the speaker capability. Without one inbound
// audio chunks are dropped after the OnAudioReceived callback.
func WithAudioSink(sink audio.Sink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) SessionOption {
	return func(s *Session) {
		if dial != nil {
			s.dial = dial
		}
	}
}

// WithReconnectPolicy bounds automatic reconnection after a transport
// close: at most maxAttempts redials, delay apart. Exhausting the budget
// moves the session to StateError until the caller connects again.
func WithReconnectPolicy(maxAttempts int, delay time.Duration) SessionOption {
	return func(s *Session) {
		s.reconnectLimit = maxAttempts
		s.reconnectDelay = delay
	}
}

// WithChunkDuration sets the capture chunk cadence.
func WithChunkDuration(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.chunkDuration = d
		}
	}
}

// WithSilenceDuration sets how long the capture pipeline waits without a
// produced chunk before declaring a turn end.
func WithSilenceDuration(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.silenceDuration = d
		}
	}
}

// WithFinishedGracePeriod sets how long the session lingers after
// agent_finished before returning to idle, giving the UI a beat to show
// the final utterance.
func WithFinishedGracePeriod(d time.Duration) SessionOption {
	return func(s *Session) { s.gracePeriod = d }
}

// WithResumeOnInterrupt controls whether a backend interruption
// immediately restarts capture (state listening) or leaves the session
// idle until the caller starts listening again.
func WithResumeOnInterrupt(resume bool) SessionOption {
	return func(s *Session) { s.resumeOnInterrupt = resume }
}

// Callbacks are the only surface the presentation layer may consume: one
// per inbound event tag, plus audio delivery and disconnect signals.
// Unset callbacks are no-ops. Callbacks run on the transport read
// goroutine, one at a time, in wire order; they must not block.
type Callbacks struct {
	onSessionInitialized func(sessionID string)
	onTranscription      func(text string, isFinal bool)
	onProcessing         func(message string)
	onAgentSpeaking      func(text string)
	onAgentFinished      func(sessionComplete bool)
	onInterrupted        func(spokenText string, hasPendingWork bool)
	onError              func(message string)
	onTimeout            func(message string)
	onSessionComplete    func()
	onAudioReceived      func(chunk []byte)
	onDisconnected       func()
	onTransportError     func(err error)
	onStateChanged       func(state State)
}

func OnSessionInitialized(callback func(sessionID string)) SessionOption {
	return func(s *Session) { s.callbacks.onSessionInitialized = callback }
}

func OnTranscription(callback func(text string, isFinal bool)) SessionOption {
	return func(s *Session) { s.callbacks.onTranscription = callback }
}

func OnProcessing(callback func(message string)) SessionOption {
	return func(s *Session) { s.callbacks.onProcessing = callback }
}

func OnAgentSpeaking(callback func(text string)) SessionOption {
	return func(s *Session) { s.callbacks.onAgentSpeaking = callback }
}

func OnAgentFinished(callback func(sessionComplete bool)) SessionOption {
	return func(s *Session) { s.callbacks.onAgentFinished = callback }
}

func OnInterrupted(callback func(spokenText string, hasPendingWork bool)) SessionOption {
	return func(s *Session) { s.callbacks.onInterrupted = callback }
}

// OnError receives backend-reported error messages verbatim.
func OnError(callback func(message string)) SessionOption {
	return func(s *Session) { s.callbacks.onError = callback }
}

// OnTimeout is distinct from OnError so the UI can offer "reconnect"
// instead of a generic failure message.
func OnTimeout(callback func(message string)) SessionOption {
	return func(s *Session) { s.callbacks.onTimeout = callback }
}

func OnSessionComplete(callback func()) SessionOption {
	return func(s *Session) { s.callbacks.onSessionComplete = callback }
}

func OnAudioReceived(callback func(chunk []byte)) SessionOption {
	return func(s *Session) { s.callbacks.onAudioReceived = callback }
}

func OnDisconnected(callback func()) SessionOption {
	return func(s *Session) { s.callbacks.onDisconnected = callback }
}

// OnTransportError receives transport-level failures (refused
// connection, abrupt drop, exhausted reconnects). These are deliberately
// separate from in-band error events.
func OnTransportError(callback func(err error)) SessionOption {
	return func(s *Session) { s.callbacks.onTransportError = callback }
}

func OnStateChanged(callback func(state State)) SessionOption {
	return func(s *Session) { s.callbacks.onStateChanged = callback }
}

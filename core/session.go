// Package voicesession implements the real-time voice session client:
// one persistent duplex channel to the spoken-dialogue backend,
// microphone streaming up, synthesized speech and control events down,
// silence-based turn-end detection, and interruption of in-progress
// agent speech.
package voicesession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/siacoach/voice-core/core/audio"
	"github.com/siacoach/voice-core/core/protocol"
	"github.com/siacoach/voice-core/core/transport"
	"go.opentelemetry.io/otel/codes"
)

// ErrConnectFailed wraps dial failures surfaced by Connect.
var ErrConnectFailed = errors.New("failed to connect voice session")

// Session is one logical conversation with the backend.
//
// Inbound events are handled one at a time on the transport read
// goroutine, so state transitions are serialized by construction; the
// mutex only protects against the caller-facing operations and the
// capture/playback goroutines racing those transitions.
type Session struct {
	businessID int
	userID     int

	source audio.Source
	sink   audio.Sink
	dial   DialFunc

	chunkDuration     time.Duration
	silenceDuration   time.Duration
	gracePeriod       time.Duration
	reconnectLimit    int
	reconnectDelay    time.Duration
	resumeOnInterrupt bool

	callbacks Callbacks

	capture  *capturePipeline
	playback *playbackQueue

	mu             sync.Mutex
	state          State
	sessionID      string
	welcome        string
	reconnectCount int
	conn           transportConn
	endpoint       string
	closing        bool
	graceTimer     *time.Timer
	reconnectTimer *time.Timer
	transcript     []TranscriptEntry

	baseContext context.Context
}

// NewSession builds a disconnected session for the given caller
// identifiers. The identifiers are immutable for the session's lifetime.
func NewSession(businessID, userID int, opts ...SessionOption) *Session {
	s := &Session{
		businessID:        businessID,
		userID:            userID,
		dial:              defaultDial,
		chunkDuration:     defaultChunkDuration,
		silenceDuration:   defaultSilenceDuration,
		gracePeriod:       defaultGracePeriod,
		reconnectLimit:    defaultReconnectLimit,
		reconnectDelay:    defaultReconnectDelay,
		resumeOnInterrupt: true,
		state:             StateIdle,
		baseContext:       context.Background(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.capture = newCapturePipeline(s.source, s.chunkDuration, s.silenceDuration, s.forwardChunk, s.turnEnded)
	s.playback = newPlaybackQueue(s.baseContext, s.sink)

	return s
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the backend-assigned id, empty until the handshake
// is confirmed and cleared again on disconnect.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// WelcomeMessage returns the greeting delivered with the handshake
// confirmation, if the backend sent one.
func (s *Session) WelcomeMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.welcome
}

// BusinessID returns the caller-supplied business identifier.
func (s *Session) BusinessID() int { return s.businessID }

// UserID returns the caller-supplied user identifier.
func (s *Session) UserID() int { return s.userID }

// Connect opens the channel to the endpoint and sends the init
// handshake. It suspends until the transport is open or fails. On
// failure the session moves to StateError and the error is returned
// wrapped in [ErrConnectFailed].
//
// Connect also resets the reconnect budget, so it is the explicit
// recovery path out of StateError and StateTimeout.
func (s *Session) Connect(ctx context.Context, endpoint string) error {
	ctx, span := tracer.Start(ctx, "voicesession.Connect")
	defer span.End()

	s.mu.Lock()
	if s.conn != nil && s.conn.IsOpen() {
		s.mu.Unlock()
		return nil
	}
	s.baseContext = ctx
	s.endpoint = endpoint
	s.closing = false
	s.reconnectCount = 0
	s.cancelScheduledLocked()
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	conn, err := s.dial(ctx, endpoint, protocol.InitCommand{BusinessID: s.businessID, UserID: s.userID}, s.frameHandler())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		s.mu.Lock()
		s.setStateLocked(StateError)
		s.mu.Unlock()
		s.emitTransportError(err)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// StartListening starts the capture pipeline and moves the session to
// StateListening. Starting while the agent is known to be speaking, or
// while disconnected, is a deferred no-op.
func (s *Session) StartListening() error {
	s.mu.Lock()
	if s.conn == nil || !s.conn.IsOpen() || s.state == StateSpeaking || s.state == StateConnecting || s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.setStateLocked(StateListening)
	s.mu.Unlock()

	if err := s.capture.Start(s.baseContext); err != nil {
		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	// An agent_speaking event may have transitioned the state away while
	// the device was being acquired; its capture halt then preceded the
	// acquisition and the microphone must not stay live.
	s.mu.Lock()
	overtaken := s.state != StateListening
	s.mu.Unlock()
	if overtaken {
		_ = s.capture.Stop()
	}
	return nil
}

// StopListening stops the capture pipeline, declares the turn ended, and
// returns the session to StateIdle unless the backend already moved it
// to processing. Idempotent.
func (s *Session) StopListening() error {
	wasCapturing := s.capture.IsCapturing()
	if err := s.capture.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}

	if wasCapturing {
		s.sendCommand(protocol.TurnEndCommand{})
	}

	s.mu.Lock()
	if s.state == StateListening {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
	return nil
}

// Disconnect closes the channel gracefully (stop command, then
// teardown) and resets the session without triggering reconnection.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	s.closing = true
	s.cancelScheduledLocked()
	conn := s.conn
	s.mu.Unlock()

	_ = s.capture.Stop()
	s.playback.Clear()

	if conn == nil {
		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()
		return nil
	}
	return conn.Close()
}

// Close disconnects and releases both audio devices.
func (s *Session) Close() error {
	var errs error
	if err := s.Disconnect(); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := s.capture.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close audio source: %w", err))
	}
	if err := s.playback.Close(); err != nil {
		errs = errors.Join(errs, fmt.Errorf("failed to close audio sink: %w", err))
	}
	return errs
}

func (s *Session) frameHandler() transport.Handler {
	return transport.Handler{
		OnEvent:  s.handleTextFrame,
		OnAudio:  s.handleAudioFrame,
		OnClosed: s.handleTransportClosed,
	}
}

// forwardChunk streams one captured chunk to the backend. Delivery is
// fire-and-forget: a closed channel drops the chunk silently, matching
// the transport contract.
func (s *Session) forwardChunk(chunk []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.SendAudio(chunk); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		logger.Debug("failed to forward capture chunk", "error", err)
	}
}

// turnEnded runs when the silence timer elapses while capturing.
func (s *Session) turnEnded() {
	s.sendCommand(protocol.TurnEndCommand{})

	s.mu.Lock()
	if s.state == StateListening {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
}

func (s *Session) sendCommand(cmd protocol.Command) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.SendCommand(cmd); err != nil && !errors.Is(err, transport.ErrNotConnected) {
		logger.Debug("failed to send command", "command", fmt.Sprintf("%T", cmd), "error", err)
	}
}

// setStateLocked transitions the state and notifies the observer. Any
// pending agent-finished grace period is invalidated by a transition.
func (s *Session) setStateLocked(next State) {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}

	if s.state == next {
		return
	}
	s.state = next

	if s.callbacks.onStateChanged != nil {
		callback := s.callbacks.onStateChanged
		s.mu.Unlock()
		callback(next)
		s.mu.Lock()
	}
}

func (s *Session) cancelScheduledLocked() {
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
}

func (s *Session) emitTransportError(err error) {
	if s.callbacks.onTransportError != nil {
		s.callbacks.onTransportError(err)
	}
}

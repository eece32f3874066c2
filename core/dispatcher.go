package voicesession

import (
	"time"

	"github.com/siacoach/voice-core/core/protocol"
)

// handleTextFrame decodes and dispatches one inbound control frame.
// Malformed frames are logged and dropped; they never tear the session
// down.
func (s *Session) handleTextFrame(raw []byte) {
	event, err := protocol.DecodeEvent(raw)
	if err != nil {
		logger.Warn("dropping malformed event frame", "error", err)
		return
	}
	s.handleEvent(event)
}

// handleAudioFrame enqueues one synthesized speech chunk for playback.
func (s *Session) handleAudioFrame(chunk []byte) {
	s.playback.Enqueue(chunk)
	if s.callbacks.onAudioReceived != nil {
		s.callbacks.onAudioReceived(chunk)
	}
}

func (s *Session) handleEvent(event protocol.Event) {
	switch ev := event.(type) {
	case protocol.SessionInitializedEvent:
		s.handleSessionInitialized(ev)

	case protocol.TranscriptionEvent:
		s.recordTranscript(RoleUser, ev.Text, ev.IsFinal)
		if s.callbacks.onTranscription != nil {
			s.callbacks.onTranscription(ev.Text, ev.IsFinal)
		}

	case protocol.ProcessingEvent:
		s.mu.Lock()
		s.setStateLocked(StateProcessing)
		s.mu.Unlock()
		if s.callbacks.onProcessing != nil {
			s.callbacks.onProcessing(ev.Message)
		}

	case protocol.AgentSpeakingEvent:
		s.handleAgentSpeaking(ev)

	case protocol.AgentFinishedEvent:
		s.handleAgentFinished(ev)

	case protocol.InterruptedEvent:
		s.handleInterrupted(ev)

	case protocol.ErrorEvent:
		s.handleError(ev)

	case protocol.TimeoutEvent:
		s.handleTimeout(ev)

	case protocol.HeartbeatEvent:
		// Liveness check, answered in-protocol and never surfaced.
		s.sendCommand(protocol.PingCommand{})

	case protocol.SessionCompleteEvent:
		s.handleSessionComplete()

	case protocol.StoppedEvent:
		s.mu.Lock()
		s.setStateLocked(StateIdle)
		s.mu.Unlock()

	case protocol.UnknownEvent:
		logger.Debug("ignoring unrecognized event", "type", ev.Type)
	}
}

// handleSessionInitialized confirms the handshake. The id is assigned
// at most once per physical connection, and a confirmed handshake
// restores the full reconnect budget.
func (s *Session) handleSessionInitialized(ev protocol.SessionInitializedEvent) {
	s.mu.Lock()
	if s.sessionID != "" {
		s.mu.Unlock()
		logger.Warn("duplicate session_initialized ignored", "session_id", ev.SessionID)
		return
	}
	s.sessionID = ev.SessionID
	s.welcome = ev.Message
	s.reconnectCount = 0
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	logger.Info("voice session initialized", "session_id", ev.SessionID)
	if s.callbacks.onSessionInitialized != nil {
		s.callbacks.onSessionInitialized(ev.SessionID)
	}
}

// handleAgentSpeaking halts capture before the first playback chunk
// arrives so the microphone never picks up the agent's own voice.
func (s *Session) handleAgentSpeaking(ev protocol.AgentSpeakingEvent) {
	_ = s.capture.Stop()

	s.mu.Lock()
	s.setStateLocked(StateSpeaking)
	s.mu.Unlock()

	s.recordTranscript(RoleAgent, ev.Text, true)
	if s.callbacks.onAgentSpeaking != nil {
		s.callbacks.onAgentSpeaking(ev.Text)
	}
}

// handleAgentFinished arms the grace period that lets trailing playback
// drain before the session reads as idle. Any event that transitions
// state in the meantime cancels it.
func (s *Session) handleAgentFinished(ev protocol.AgentFinishedEvent) {
	if s.callbacks.onAgentFinished != nil {
		s.callbacks.onAgentFinished(ev.SessionComplete)
	}

	s.mu.Lock()
	if s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	if s.graceTimer != nil {
		s.graceTimer.Stop()
	}
	s.graceTimer = time.AfterFunc(s.gracePeriod, s.graceElapsed)
	s.mu.Unlock()
}

func (s *Session) graceElapsed() {
	s.mu.Lock()
	if s.graceTimer == nil || s.state != StateSpeaking {
		s.mu.Unlock()
		return
	}
	s.graceTimer = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
}

// handleInterrupted is the barge-in path: the backend detected user
// speech over agent playback, so queued audio is stale and must go.
func (s *Session) handleInterrupted(ev protocol.InterruptedEvent) {
	s.playback.Clear()

	s.mu.Lock()
	next := StateIdle
	if s.resumeOnInterrupt {
		next = StateListening
	}
	s.setStateLocked(next)
	s.mu.Unlock()

	if next == StateListening {
		if err := s.capture.Start(s.baseContext); err != nil {
			logger.Warn("failed to resume capture after interruption", "error", err)
		} else {
			s.mu.Lock()
			overtaken := s.state != StateListening
			s.mu.Unlock()
			if overtaken {
				_ = s.capture.Stop()
			}
		}
	}

	if s.callbacks.onInterrupted != nil {
		s.callbacks.onInterrupted(ev.SpokenText, ev.HasPendingWork)
	}
}

// handleError is terminal for the connection's conversation flow:
// capture and playback stop, and the backend message reaches the
// caller verbatim, exactly once.
func (s *Session) handleError(ev protocol.ErrorEvent) {
	_ = s.capture.Stop()
	s.playback.Clear()

	s.mu.Lock()
	alreadyTerminal := s.state.terminal()
	s.setStateLocked(StateError)
	s.mu.Unlock()

	logger.Error("voice session error", "message", ev.Message)
	if !alreadyTerminal && s.callbacks.onError != nil {
		s.callbacks.onError(ev.Message)
	}
}

func (s *Session) handleTimeout(ev protocol.TimeoutEvent) {
	_ = s.capture.Stop()
	s.playback.Clear()

	s.mu.Lock()
	s.setStateLocked(StateTimeout)
	s.mu.Unlock()

	logger.Info("voice session timed out", "message", ev.Message)
	if s.callbacks.onTimeout != nil {
		s.callbacks.onTimeout(ev.Message)
	}
}

func (s *Session) handleSessionComplete() {
	_ = s.capture.Stop()

	s.mu.Lock()
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	if s.callbacks.onSessionComplete != nil {
		s.callbacks.onSessionComplete()
	}
}

// handleTransportClosed runs exactly once per physical connection. The
// session id dies with the connection; an unexpected close enters the
// bounded reconnect loop unless the caller asked for the teardown.
func (s *Session) handleTransportClosed(err error) {
	_ = s.capture.Stop()
	s.playback.Clear()

	s.mu.Lock()
	s.sessionID = ""
	s.welcome = ""
	s.conn = nil
	closing := s.closing
	s.mu.Unlock()

	if s.callbacks.onDisconnected != nil {
		s.callbacks.onDisconnected()
	}

	if closing || err == nil {
		s.mu.Lock()
		if !s.state.terminal() {
			s.setStateLocked(StateIdle)
		}
		s.mu.Unlock()
		return
	}

	s.scheduleReconnect(err)
}

// scheduleReconnect retries the dial after a fixed delay, up to the
// configured attempt budget. The budget only refills on a confirmed
// handshake or an explicit Connect.
func (s *Session) scheduleReconnect(cause error) {
	s.mu.Lock()
	if s.closing || s.state.terminal() {
		s.mu.Unlock()
		return
	}
	if s.reconnectCount >= s.reconnectLimit {
		s.setStateLocked(StateError)
		s.mu.Unlock()
		logger.Error("reconnect attempts exhausted", "attempts", s.reconnectLimit, "error", cause)
		s.emitTransportError(cause)
		return
	}
	s.reconnectCount++
	attempt := s.reconnectCount
	s.setStateLocked(StateConnecting)
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(s.reconnectDelay, s.attemptReconnect)
	s.mu.Unlock()

	logger.Info("scheduling reconnect", "attempt", attempt, "delay", s.reconnectDelay, "error", cause)
}

func (s *Session) attemptReconnect() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.reconnectTimer = nil
	ctx := s.baseContext
	endpoint := s.endpoint
	s.mu.Unlock()

	conn, err := s.dial(ctx, endpoint, protocol.InitCommand{BusinessID: s.businessID, UserID: s.userID}, s.frameHandler())
	if err != nil {
		logger.Warn("reconnect attempt failed", "error", err)
		s.scheduleReconnect(err)
		return
	}

	// A Disconnect that landed while the dial was in flight wins; the
	// fresh connection must not outlive the caller's teardown.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
}

// Package protocol defines the wire contract of the voice session
// channel: the tagged inbound events the backend emits on text frames and
// the outbound commands the client writes back.
//
// The event set is a closed sum type. Adding a tag means adding a struct
// here and a case to [DecodeEvent], which keeps handling exhaustive at
// compile time instead of threading dynamically-keyed maps around.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Event is one inbound tagged event. Exactly one concrete type matches
// each wire tag; fields not present for a tag do not exist on its struct.
type Event interface {
	eventTag() string
}

// Tag returns the wire discriminator of an event.
func Tag(event Event) string { return event.eventTag() }

// SessionInitializedEvent confirms the handshake. The backend assigns the
// session id; business and user ids echo the init command.
type SessionInitializedEvent struct {
	SessionID  string `json:"session_id"`
	BusinessID int    `json:"business_id"`
	UserID     int    `json:"user_id"`
	Message    string `json:"message,omitempty"`
}

func (SessionInitializedEvent) eventTag() string { return "session_initialized" }

// TranscriptionEvent carries speech-to-text output for the user's turn.
type TranscriptionEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

func (TranscriptionEvent) eventTag() string { return "transcription" }

// ProcessingEvent signals the backend started working on the user's turn.
type ProcessingEvent struct {
	Message string `json:"message"`
}

func (ProcessingEvent) eventTag() string { return "processing" }

// AgentSpeakingEvent announces the text about to be synthesized; binary
// audio frames for it follow on the same channel.
type AgentSpeakingEvent struct {
	Text string `json:"text"`
}

func (AgentSpeakingEvent) eventTag() string { return "agent_speaking" }

// AgentFinishedEvent closes the agent's turn.
type AgentFinishedEvent struct {
	SessionComplete bool `json:"session_complete"`
}

func (AgentFinishedEvent) eventTag() string { return "agent_finished" }

// InterruptedEvent reports a barge-in: the agent's utterance was cut off.
// SpokenText is what got out before the cut, RemainingText what did not.
type InterruptedEvent struct {
	SpokenText     string `json:"spoken_text"`
	RemainingText  string `json:"remaining_text"`
	HasPendingWork bool   `json:"has_pending_work"`
}

func (InterruptedEvent) eventTag() string { return "interrupted" }

// ErrorEvent is a backend-reported in-band error. The message is surfaced
// to the caller verbatim.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) eventTag() string { return "error" }

// TimeoutEvent declares the backend expired the session for inactivity.
type TimeoutEvent struct {
	Message string `json:"message,omitempty"`
}

func (TimeoutEvent) eventTag() string { return "timeout" }

// HeartbeatEvent is a liveness check; the dispatcher answers it with a
// ping command and never surfaces it.
type HeartbeatEvent struct{}

func (HeartbeatEvent) eventTag() string { return "heartbeat" }

// SessionCompleteEvent ends the logical conversation.
type SessionCompleteEvent struct{}

func (SessionCompleteEvent) eventTag() string { return "session_complete" }

// StoppedEvent acknowledges a stop command.
type StoppedEvent struct{}

func (StoppedEvent) eventTag() string { return "stopped" }

// UnknownEvent preserves a frame whose tag this client does not know.
// Unknown tags are ignored upstream so newer backends stay compatible.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (e UnknownEvent) eventTag() string { return e.Type }

// DecodeEvent parses one inbound text frame into its tagged event.
//
// A frame that is not a JSON object with a type discriminator is a
// protocol error; the caller logs and drops it. A well-formed frame with
// an unrecognized tag decodes to [UnknownEvent].
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("event frame missing type discriminator")
	}

	switch envelope.Type {
	case "session_initialized":
		var event SessionInitializedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode session_initialized: %w", err)
		}
		return event, nil
	case "transcription":
		var event TranscriptionEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode transcription: %w", err)
		}
		return event, nil
	case "processing":
		var event ProcessingEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode processing: %w", err)
		}
		return event, nil
	case "agent_speaking":
		var event AgentSpeakingEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode agent_speaking: %w", err)
		}
		return event, nil
	case "agent_finished":
		var event AgentFinishedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode agent_finished: %w", err)
		}
		return event, nil
	case "interrupted":
		var event InterruptedEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode interrupted: %w", err)
		}
		return event, nil
	case "error":
		var event ErrorEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode error: %w", err)
		}
		return event, nil
	case "timeout":
		var event TimeoutEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("failed to decode timeout: %w", err)
		}
		return event, nil
	case "heartbeat":
		return HeartbeatEvent{}, nil
	case "session_complete":
		return SessionCompleteEvent{}, nil
	case "stopped":
		return StoppedEvent{}, nil
	default:
		return UnknownEvent{Type: envelope.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

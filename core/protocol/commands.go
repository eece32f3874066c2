package protocol

import (
	"encoding/json"
	"fmt"
)

// Command is one outbound control command. The binary audio stream is not
// a command; it travels as raw binary frames with no envelope.
type Command interface {
	commandName() string
}

// InitCommand is the handshake sent immediately after the channel opens.
// It intentionally has no command discriminator on the wire.
type InitCommand struct {
	BusinessID int `json:"business_id"`
	UserID     int `json:"user_id"`
}

func (InitCommand) commandName() string { return "init" }

// PingCommand answers a backend heartbeat.
type PingCommand struct{}

func (PingCommand) commandName() string { return "ping" }

// TurnEndCommand declares that the user finished their turn.
type TurnEndCommand struct{}

func (TurnEndCommand) commandName() string { return "turn_end" }

// StopCommand requests a graceful session shutdown.
type StopCommand struct{}

func (StopCommand) commandName() string { return "stop" }

type commandEnvelope struct {
	Command string `json:"command"`
}

// EncodeCommand serializes a command to its wire shape:
// {"command":"ping"|"turn_end"|"stop"}, or the bare handshake object for
// [InitCommand].
func EncodeCommand(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case InitCommand:
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("failed to encode init command: %w", err)
		}
		return data, nil
	case PingCommand, TurnEndCommand, StopCommand:
		data, err := json.Marshal(commandEnvelope{Command: cmd.commandName()})
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s command: %w", cmd.commandName(), err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported command type %T", cmd)
	}
}

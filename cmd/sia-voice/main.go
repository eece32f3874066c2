// Command sia-voice is a terminal client for the voice coaching
// session: it connects, streams the microphone, and renders the
// conversation as it happens.
package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	voicesession "github.com/siacoach/voice-core/core"
	"github.com/siacoach/voice-core/core/audio"
	"github.com/siacoach/voice-core/core/audio/miniaudio"
	"github.com/siacoach/voice-core/core/audio/portaudio"
	"github.com/siacoach/voice-core/core/sessionapi"
	"github.com/spf13/cobra"
)

var (
	endpoint     string
	apiBase      string
	businessID   int
	userID       int
	audioBackend string
)

var rootCmd = &cobra.Command{
	Use:   "sia-voice",
	Short: "Talk to the Sia voice coach from the terminal",
	Long: `sia-voice opens a live voice session against the coaching backend:
microphone audio streams up, synthesized speech plays back, and the
conversation renders in place.

Keys: space starts and stops talking, r reconnects after an error or
timeout, q quits.`,
	SilenceUsage: true,
	RunE: func(_ *cobra.Command, _ []string) error {
		return run(endpoint, apiBase, businessID, userID, audioBackend)
	},
}

func init() {
	rootCmd.Flags().StringVar(&endpoint, "endpoint", "ws://localhost:8000/ws/voice", "websocket endpoint")
	rootCmd.Flags().StringVar(&apiBase, "api", "", "REST base URL for session bootstrap (optional)")
	rootCmd.Flags().IntVar(&businessID, "business", 1, "business id")
	rootCmd.Flags().IntVar(&userID, "user", 1, "user id")
	rootCmd.Flags().StringVar(&audioBackend, "audio", "miniaudio", "audio backend: miniaudio, portaudio or none")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(endpoint, apiBase string, businessID, userID int, backend string) error {
	var source audio.Source
	var sink audio.Sink

	switch backend {
	case "miniaudio":
		client, err := miniaudio.NewClient()
		if err != nil {
			return fmt.Errorf("failed to open audio devices: %w", err)
		}
		source, sink = client, client
	case "portaudio":
		client, err := portaudio.NewClient(0)
		if err != nil {
			return fmt.Errorf("failed to open audio devices: %w", err)
		}
		source, sink = client, client
	case "none":
	default:
		return fmt.Errorf("unknown audio backend %q", backend)
	}

	var welcome string
	if apiBase != "" {
		started, err := sessionapi.NewClient(apiBase).Start(context.Background(), businessID, userID)
		if err != nil {
			return fmt.Errorf("failed to bootstrap session: %w", err)
		}
		welcome = started.Message
	}

	model := newModel(endpoint, welcome)
	program := tea.NewProgram(model, tea.WithAltScreen())

	session := voicesession.NewSession(businessID, userID,
		voicesession.WithAudioSource(source),
		voicesession.WithAudioSink(sink),
		voicesession.OnStateChanged(func(state voicesession.State) {
			program.Send(stateChangedMsg{state: state})
		}),
		voicesession.OnSessionInitialized(func(sessionID string) {
			program.Send(initializedMsg{sessionID: sessionID})
		}),
		voicesession.OnTranscription(func(text string, isFinal bool) {
			program.Send(utteranceMsg{who: "you", text: text, interim: !isFinal})
		}),
		voicesession.OnAgentSpeaking(func(text string) {
			program.Send(utteranceMsg{who: "sia", text: text})
		}),
		voicesession.OnInterrupted(func(spokenText string, _ bool) {
			program.Send(interruptedMsg{spokenText: spokenText})
		}),
		voicesession.OnError(func(message string) {
			program.Send(sessionErrorMsg{message: message})
		}),
		voicesession.OnTimeout(func(message string) {
			program.Send(timedOutMsg{message: message})
		}),
		voicesession.OnSessionComplete(func() {
			program.Send(completedMsg{})
		}),
		voicesession.OnDisconnected(func() {
			program.Send(disconnectedMsg{})
		}),
		voicesession.OnTransportError(func(err error) {
			program.Send(transportErrorMsg{err: err})
		}),
	)
	defer session.Close()

	model.session = session

	_, err := program.Run()
	return err
}

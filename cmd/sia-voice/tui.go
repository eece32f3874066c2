package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	voicesession "github.com/siacoach/voice-core/core"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	stateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	agentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	interimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

type (
	stateChangedMsg   struct{ state voicesession.State }
	initializedMsg    struct{ sessionID string }
	utteranceMsg      struct {
		who     string
		text    string
		interim bool
	}
	interruptedMsg    struct{ spokenText string }
	sessionErrorMsg   struct{ message string }
	timedOutMsg       struct{ message string }
	completedMsg      struct{}
	disconnectedMsg   struct{}
	transportErrorMsg struct{ err error }
)

type line struct {
	who     string
	text    string
	interim bool
}

type model struct {
	session  *voicesession.Session
	endpoint string

	spin      spinner.Model
	state     voicesession.State
	sessionID string
	lines     []line
	notice    string
	width     int
}

func newModel(endpoint, welcome string) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = stateStyle

	m := &model{
		endpoint: endpoint,
		spin:     spin,
		state:    voicesession.StateIdle,
		width:    80,
	}
	if welcome != "" {
		m.lines = append(m.lines, line{who: "sia", text: welcome})
	}
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.connect)
}

func (m *model) connect() tea.Msg {
	if err := m.session.Connect(context.Background(), m.endpoint); err != nil {
		return transportErrorMsg{err: err}
	}
	return nil
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			if m.state == voicesession.StateListening {
				_ = m.session.StopListening()
			} else {
				_ = m.session.StartListening()
			}
		case "r":
			if m.state == voicesession.StateError || m.state == voicesession.StateTimeout {
				m.notice = ""
				return m, m.connect
			}
		}

	case stateChangedMsg:
		m.state = msg.state

	case initializedMsg:
		m.sessionID = msg.sessionID
		m.notice = ""

	case utteranceMsg:
		if msg.interim {
			m.setInterim(msg.who, msg.text)
		} else {
			m.appendFinal(msg.who, msg.text)
		}

	case interruptedMsg:
		if msg.spokenText != "" {
			m.appendFinal("sia", msg.spokenText+"…")
		}

	case sessionErrorMsg:
		m.notice = errorStyle.Render(msg.message)

	case timedOutMsg:
		m.notice = errorStyle.Render(msg.message) + helpStyle.Render("  (press r to reconnect)")

	case completedMsg:
		m.notice = stateStyle.Render("session complete")

	case disconnectedMsg:
		m.sessionID = ""

	case transportErrorMsg:
		m.notice = errorStyle.Render(fmt.Sprintf("connection failed: %v", msg.err))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

// setInterim replaces the trailing interim line for the speaker, so a
// live transcription updates in place instead of stacking.
func (m *model) setInterim(who, text string) {
	if n := len(m.lines); n > 0 && m.lines[n-1].interim && m.lines[n-1].who == who {
		m.lines[n-1].text = text
		return
	}
	m.lines = append(m.lines, line{who: who, text: text, interim: true})
}

func (m *model) appendFinal(who, text string) {
	if n := len(m.lines); n > 0 && m.lines[n-1].interim && m.lines[n-1].who == who {
		m.lines = m.lines[:n-1]
	}
	m.lines = append(m.lines, line{who: who, text: text})
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Sia voice session"))
	if m.sessionID != "" {
		b.WriteString(helpStyle.Render("  " + m.sessionID))
	}
	b.WriteString("\n\n")

	for _, entry := range m.lines {
		label := userStyle.Render("you")
		if entry.who == "sia" {
			label = agentStyle.Render("sia")
		}
		text := entry.text
		if entry.interim {
			text = interimStyle.Render(text)
		}
		b.WriteString(wordwrap.String(label+"  "+text, max(m.width-2, 20)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.statusLine())
	if m.notice != "" {
		b.WriteString("\n" + m.notice)
	}
	b.WriteString("\n" + helpStyle.Render("space: talk/stop · r: reconnect · q: quit"))
	return b.String()
}

func (m *model) statusLine() string {
	switch m.state {
	case voicesession.StateConnecting:
		return m.spin.View() + stateStyle.Render("connecting")
	case voicesession.StateListening:
		return userStyle.Render("● listening")
	case voicesession.StateProcessing:
		return m.spin.View() + stateStyle.Render("thinking")
	case voicesession.StateSpeaking:
		return agentStyle.Render("▶ sia is speaking")
	case voicesession.StateError:
		return errorStyle.Render("error")
	case voicesession.StateTimeout:
		return errorStyle.Render("timed out")
	default:
		return stateStyle.Render("idle")
	}
}

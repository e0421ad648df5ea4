// Package tui is the built-in terminal chat client. It renders the
// transcript in a viewport, shows model download progress while the first
// message provisions the engine, and offers quick replies when the input is
// empty.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/solace/internal/chat"
	"github.com/kalambet/solace/internal/provision"
)

// replyMsg signals that a Send finished, successfully or not.
type replyMsg struct {
	err error
}

// progressMsg carries a model download ratio from the provisioner.
type progressMsg float64

// Model is the Bubble Tea model for the chat view.
type Model struct {
	sess *chat.Session

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	progress progress.Model

	width  int
	height int
	ready  bool

	sending     bool
	downloading bool
	ratio       float64
	quickIndex  int
}

// NewModel builds the chat model around an existing session.
func NewModel(sess *chat.Session) Model {
	ti := textinput.New()
	ti.Placeholder = "Say what's on your mind (tab for suggestions)"
	ti.Focus()
	ti.CharLimit = 2000

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		sess:       sess,
		input:      ti,
		spinner:    sp,
		progress:   progress.New(progress.WithDefaultGradient()),
		quickIndex: -1,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 7
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.progress.Width = msg.Width - 8
		m.refreshTranscript()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "ctrl+l":
			m.sess.Clear()
			m.refreshTranscript()
			return m, nil
		case "tab":
			if strings.TrimSpace(m.input.Value()) == "" || m.quickIndex >= 0 {
				m.quickIndex = (m.quickIndex + 1) % len(chat.QuickReplies)
				m.input.SetValue(chat.QuickReplies[m.quickIndex])
				m.input.CursorEnd()
			}
			return m, nil
		case "enter":
			text := m.input.Value()
			if strings.TrimSpace(text) == "" || m.sending {
				return m, nil
			}
			m.input.Reset()
			m.quickIndex = -1
			m.sending = true
			return m, tea.Batch(m.spinner.Tick, m.sendCmd(text))
		}

	case replyMsg:
		m.sending = false
		m.downloading = false
		if msg.err != nil && (errors.Is(msg.err, chat.ErrEmptyInput) || errors.Is(msg.err, chat.ErrBusy)) {
			// Silent no-ops; the session state is untouched.
			return m, nil
		}
		m.refreshTranscript()
		return m, nil

	case progressMsg:
		m.downloading = float64(msg) < 1
		m.ratio = float64(msg)
		return m, nil

	case spinner.TickMsg:
		if !m.sending {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) sendCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return replyMsg{err: m.sess.Send(context.Background(), text)}
	}
}

func (m *Model) refreshTranscript() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderTranscript(m.sess.State(), m.viewport.Width))
	m.viewport.GotoBottom()
}

// renderTranscript formats the transcript for the viewport. Split out so
// tests can exercise rendering without a terminal.
func renderTranscript(st chat.State, width int) string {
	if len(st.Transcript) == 0 {
		return statusStyle.Render("No messages yet. Solace is listening.")
	}

	wrap := lipgloss.NewStyle().Width(width)
	var b strings.Builder
	for _, t := range st.Transcript {
		switch t.Role {
		case chat.RoleUser:
			b.WriteString(userLabelStyle.Render("You"))
		case chat.RoleAssistant:
			b.WriteString(assistantLabelStyle.Render("Solace"))
		default:
			continue
		}
		b.WriteString("\n")
		b.WriteString(wrap.Render(t.Content))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (m Model) View() string {
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("solace"))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	st := m.sess.State()
	switch {
	case m.downloading:
		b.WriteString(statusStyle.Render(" downloading model "))
		b.WriteString(m.progress.ViewAs(m.ratio))
	case m.sending:
		b.WriteString(m.spinner.View())
		b.WriteString(statusStyle.Render("thinking..."))
	case st.LastError != "":
		b.WriteString(errorStyle.Render(fmt.Sprintf(" %s", st.LastError)))
	default:
		b.WriteString(" ")
	}
	b.WriteString("\n")

	b.WriteString(inputStyle.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("enter send • tab suggestions • ctrl+l clear • esc quit"))
	return b.String()
}

// Run starts the TUI and blocks until it exits. Download progress from the
// provisioner is forwarded into the program as messages.
func Run(sess *chat.Session, prov *provision.Provisioner) error {
	p := tea.NewProgram(NewModel(sess), tea.WithAltScreen())

	prov.Watch(func(pr provision.Progress) {
		sess.SetProgress(pr.Ratio)
		p.Send(progressMsg(pr.Ratio))
	})

	_, err := p.Run()
	return err
}

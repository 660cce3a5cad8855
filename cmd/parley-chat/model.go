package main

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/parley-chat/parley/pkg/client"
)

const (
	typeInterval = 15 * time.Millisecond
	typeStep     = 3
	noticeRows   = 3
)

type sessionChangedMsg struct{}

type submitDoneMsg struct{ err error }

type connStateMsg struct{ connected bool }

type connClosedMsg struct{ err error }

type typeTickMsg time.Time

type model struct {
	ctx     context.Context
	session *client.Session
	user    string

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	theme    theme
	tw       *typewriter

	view      client.View
	typing    bool
	connected bool
	status    string
	width     int
	height    int
	ready     bool
}

func newModel(ctx context.Context, session *client.Session, user string) model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 4000
	input.Placeholder = "Ask anything. Enter sends, Esc quits."
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1"))

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true

	m := model{
		ctx:      ctx,
		session:  session,
		user:     user,
		input:    input,
		spinner:  sp,
		viewport: vp,
		theme:    newTheme(),
		tw:       newTypewriter(typeStep),
		status:   "connecting...",
	}
	m.view = session.View()
	m.tw.settle(m.view.Messages)
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func typeTick() tea.Cmd {
	return tea.Tick(typeInterval, func(t time.Time) tea.Msg { return typeTickMsg(t) })
}

func (m model) submitCmd(text string) tea.Cmd {
	session, ctx := m.session, m.ctx
	return func() tea.Msg {
		_, err := session.Submit(ctx, text)
		return submitDoneMsg{err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			return m, m.submitCmd(text)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.input.Width = max(msg.Width-4, 10)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-4-noticeRows, 3)
		m.ready = true
		m.refresh()

	case sessionChangedMsg:
		m.view = m.session.View()
		if m.tw.track(m.view.Messages) && !m.typing {
			m.typing = true
			cmds = append(cmds, typeTick())
		}
		m.refresh()

	case typeTickMsg:
		if m.tw.advance(m.view.Messages) {
			cmds = append(cmds, typeTick())
		} else {
			m.typing = false
		}
		m.refresh()

	case submitDoneMsg:
		if msg.err != nil {
			m.status = "send failed"
		}

	case connStateMsg:
		m.connected = msg.connected
		if msg.connected {
			m.status = "connected"
		} else {
			m.status = "reconnecting..."
		}

	case connClosedMsg:
		m.connected = false
		m.status = "offline"
		if msg.err != nil {
			m.status = "offline: " + msg.err.Error()
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// refresh re-renders the transcript into the viewport, keeping the bottom in
// view when it already was.
func (m *model) refresh() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(renderTranscript(m.view.Messages, m.tw, m.theme, m.width))
	if atBottom || m.typing {
		m.viewport.GotoBottom()
	}
}

func (m model) View() string {
	if !m.ready {
		return "loading..."
	}
	title := m.view.Title
	if title == "" {
		title = "parley"
	}
	header := m.theme.header.Render(title) + " " + m.theme.help.Render(m.user+" · "+m.status)

	thinking := ""
	if m.view.Thinking {
		thinking = m.spinner.View() + " " + m.theme.pending.Render("assistant is thinking")
	}

	notices := renderNotices(m.view.Notices, m.theme, noticeRows)
	notices += strings.Repeat("\n", noticeRows-min(noticeRows, lineCount(notices)))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.viewport.View(),
		thinking,
		notices,
		m.input.View(),
	)
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

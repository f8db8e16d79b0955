// Package tui renders a live view of the task list.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"tasksync/internal/channel"
	"tasksync/internal/output"
	"tasksync/internal/service"
)

// Session is what the view reads from and acts on. *session.Session
// satisfies it.
type Session interface {
	Snapshot() []service.Task
	Status() channel.Status
	Changes() <-chan struct{}
	SetStatus(ctx context.Context, id int64, status service.Status) (service.Task, error)
	Delete(ctx context.Context, id int64) error
	Refresh(ctx context.Context) error
	Reconnect() error
	Send(payload any) error
}

type (
	changedMsg struct{}
	statusMsg  struct{}
	pingMsg    struct{}
	opDoneMsg  struct {
		what string
		err  error
	}
)

// Model is the bubbletea model for the watch view.
type Model struct {
	ctx       context.Context
	s         Session
	statusSig <-chan struct{}
	pingEvery time.Duration

	tasks   []service.Task
	status  channel.Status
	cursor  int
	busy    bool
	flash   string
	lastErr string
	spin    spinner.Model
	width   int
}

// New creates the view. statusSig fires when the connectivity status may
// have changed; pingEvery <= 0 disables keepalive pings.
func New(ctx context.Context, s Session, statusSig <-chan struct{}, pingEvery time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pendingStyle
	return Model{
		ctx:       ctx,
		s:         s,
		statusSig: statusSig,
		pingEvery: pingEvery,
		tasks:     s.Snapshot(),
		status:    s.Status(),
		spin:      sp,
	}
}

func waitChanged(ch <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		<-ch
		return changedMsg{}
	}
}

func waitStatus(ch <-chan struct{}) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		<-ch
		return statusMsg{}
	}
}

func (m Model) schedulePing() tea.Cmd {
	if m.pingEvery <= 0 {
		return nil
	}
	return tea.Tick(m.pingEvery, func(time.Time) tea.Msg { return pingMsg{} })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spin.Tick,
		waitChanged(m.s.Changes()),
		waitStatus(m.statusSig),
		m.schedulePing(),
	)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case changedMsg:
		m.tasks = m.s.Snapshot()
		m.clampCursor()
		return m, waitChanged(m.s.Changes())

	case statusMsg:
		m.status = m.s.Status()
		return m, waitStatus(m.statusSig)

	case pingMsg:
		// Not connected is fine; the transport reconnects on its own.
		_ = m.s.Send(map[string]string{"type": "ping"})
		return m, m.schedulePing()

	case opDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s failed: %v", msg.what, msg.err)
			m.flash = ""
		} else {
			m.lastErr = ""
			m.flash = msg.what
		}
		// Optimistic changes land before the reply.
		m.tasks = m.s.Snapshot()
		m.clampCursor()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}
	case "r":
		if m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.op("refreshed", func(ctx context.Context) error { return m.s.Refresh(ctx) })
	case "c":
		if err := m.s.Reconnect(); err != nil {
			m.lastErr = fmt.Sprintf("reconnect failed: %v", err)
			return m, nil
		}
		m.lastErr = ""
		m.flash = "reconnecting"
		m.status = m.s.Status()
	case " ", "x", "enter":
		t, ok := m.selected()
		if !ok || m.busy {
			return m, nil
		}
		m.busy = true
		next := t.Status.Toggle()
		cmd := m.op(fmt.Sprintf("#%d %s", t.ID, next), func(ctx context.Context) error {
			_, err := m.s.SetStatus(ctx, t.ID, next)
			return err
		})
		return m, cmd
	case "d", "delete":
		t, ok := m.selected()
		if !ok || m.busy {
			return m, nil
		}
		m.busy = true
		return m, m.op(fmt.Sprintf("#%d deleted", t.ID), func(ctx context.Context) error {
			return m.s.Delete(ctx, t.ID)
		})
	}
	return m, nil
}

func (m Model) op(what string, f func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return opDoneMsg{what: what, err: f(ctx)}
	}
}

func (m Model) selected() (service.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return service.Task{}, false
	}
	return m.tasks[m.cursor], true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.tasks) {
		m.cursor = len(m.tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	done := 0
	for _, t := range m.tasks {
		if t.Status == service.StatusCompleted {
			done++
		}
	}
	fmt.Fprintf(&b, "%s   %s %d  %s %d   %s\n\n",
		titleStyle.Render("Tasks"),
		successStyle.Render("✔"), done,
		pendingStyle.Render("•"), len(m.tasks)-done,
		m.statusLine(),
	)

	if len(m.tasks) == 0 {
		b.WriteString(mutedStyle.Render("  no tasks") + "\n")
	}
	for i, t := range m.tasks {
		b.WriteString(m.renderTask(i, t))
		b.WriteByte('\n')
	}

	b.WriteByte('\n')
	switch {
	case m.lastErr != "":
		b.WriteString(errorStyle.Render(m.lastErr) + "\n")
	case m.busy:
		b.WriteString(m.spin.View() + " working\n")
	case m.flash != "":
		b.WriteString(mutedStyle.Render(m.flash) + "\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ move • space toggle • d delete • r refresh • c reconnect • q quit"))
	return b.String()
}

func (m Model) statusLine() string {
	switch m.status {
	case channel.StatusConnected:
		return successStyle.Render("● live")
	case channel.StatusConnecting:
		return m.spin.View() + pendingStyle.Render(" connecting")
	case channel.StatusUnavailable:
		return errorStyle.Render("real-time updates unavailable") + mutedStyle.Render(" (c to retry)")
	default:
		return mutedStyle.Render("○ offline")
	}
}

func (m Model) renderTask(i int, t service.Task) string {
	box := mutedStyle.Render(boxUnchecked)
	title := output.NormalizeTitle(t.Title)
	if t.Status == service.StatusCompleted {
		box = successStyle.Render(boxChecked)
		title = doneStyle.Render(title)
	}
	line := box + " " + title
	if !t.DueDate.IsZero() {
		line += "  " + mutedStyle.Render("due "+t.DueDate.String())
	}
	prefix := "  "
	if i == m.cursor {
		prefix = selectedStyle.Render(">") + " "
	}
	return prefix + line
}

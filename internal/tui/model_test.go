package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"tasksync/internal/channel"
	"tasksync/internal/service"
)

// fakeSession is a Session backed by a slice.
type fakeSession struct {
	tasks   []service.Task
	status  channel.Status
	changes chan struct{}
	sent    []any
	opErr   error
	calls   []string
}

func newFakeSession(tasks ...service.Task) *fakeSession {
	return &fakeSession{tasks: tasks, status: channel.StatusConnected, changes: make(chan struct{}, 1)}
}

func (f *fakeSession) Snapshot() []service.Task {
	out := make([]service.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}
func (f *fakeSession) Status() channel.Status   { return f.status }
func (f *fakeSession) Changes() <-chan struct{} { return f.changes }
func (f *fakeSession) Send(p any) error         { f.sent = append(f.sent, p); return nil }

func (f *fakeSession) SetStatus(ctx context.Context, id int64, st service.Status) (service.Task, error) {
	f.calls = append(f.calls, "status")
	if f.opErr != nil {
		return service.Task{}, f.opErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks[i].Status = st
			return f.tasks[i], nil
		}
	}
	return service.Task{}, service.ErrNotFound
}

func (f *fakeSession) Delete(ctx context.Context, id int64) error {
	f.calls = append(f.calls, "delete")
	if f.opErr != nil {
		return f.opErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return service.ErrNotFound
}

func (f *fakeSession) Refresh(ctx context.Context) error {
	f.calls = append(f.calls, "refresh")
	return f.opErr
}

func (f *fakeSession) Reconnect() error {
	f.calls = append(f.calls, "reconnect")
	if f.opErr != nil {
		return f.opErr
	}
	f.status = channel.StatusConnecting
	return nil
}

func key(s string) tea.KeyMsg {
	switch s {
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the resulting command, if any, feeding its
// message back into the model.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, cmd := m.Update(key(k))
	m = next.(Model)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			if _, ok := msg.(opDoneMsg); ok {
				next, _ = m.Update(msg)
				m = next.(Model)
			}
		}
	}
	return m
}

func sample() *fakeSession {
	return newFakeSession(
		service.Task{ID: 2, Title: "Water plants", Status: service.StatusPending},
		service.Task{ID: 1, Title: "Buy milk", Status: service.StatusCompleted},
	)
}

func TestView(t *testing.T) {
	m := New(context.Background(), sample(), nil, 0)
	v := m.View()
	for _, want := range []string{"Tasks", "Water plants", "Buy milk", "live", "q quit"} {
		if !strings.Contains(v, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, v)
		}
	}
}

func TestView_Unavailable(t *testing.T) {
	fs := sample()
	fs.status = channel.StatusUnavailable
	m := New(context.Background(), fs, nil, 0)
	if !strings.Contains(m.View(), "real-time updates unavailable") {
		t.Errorf("expected unavailable notice, got:\n%s", m.View())
	}
}

func TestReconnectKey(t *testing.T) {
	fs := sample()
	fs.status = channel.StatusUnavailable
	m := New(context.Background(), fs, nil, 0)

	m = press(t, m, "c")
	if len(fs.calls) != 1 || fs.calls[0] != "reconnect" {
		t.Fatalf("expected reconnect call, got %v", fs.calls)
	}
	if m.status != channel.StatusConnecting {
		t.Errorf("expected connecting, got %s", m.status)
	}
	if strings.Contains(m.View(), "unavailable") {
		t.Errorf("expected unavailable notice gone, got:\n%s", m.View())
	}
}

func TestToggleSelected(t *testing.T) {
	fs := sample()
	m := New(context.Background(), fs, nil, 0)

	m = press(t, m, " ")
	if fs.tasks[0].Status != service.StatusCompleted {
		t.Errorf("expected first task completed, got %s", fs.tasks[0].Status)
	}
	if m.tasks[0].Status != service.StatusCompleted {
		t.Errorf("expected view to refresh, got %s", m.tasks[0].Status)
	}

	m = press(t, m, "down")
	m = press(t, m, "x")
	if fs.tasks[1].Status != service.StatusPending {
		t.Errorf("expected second task pending, got %s", fs.tasks[1].Status)
	}
	if m.busy {
		t.Error("expected busy cleared after op")
	}
}

func TestDeleteClampsCursor(t *testing.T) {
	fs := sample()
	m := New(context.Background(), fs, nil, 0)
	m = press(t, m, "down")
	m = press(t, m, "d")
	if len(m.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(m.tasks))
	}
	if m.cursor != 0 {
		t.Errorf("expected cursor clamped to 0, got %d", m.cursor)
	}
}

func TestOpFailureShown(t *testing.T) {
	fs := sample()
	fs.opErr = errors.New("server returned 500")
	m := New(context.Background(), fs, nil, 0)
	m = press(t, m, "r")
	if !strings.Contains(m.View(), "refreshed failed: server returned 500") {
		t.Errorf("expected error in view, got:\n%s", m.View())
	}
}

func TestChangedMsgReloads(t *testing.T) {
	fs := sample()
	m := New(context.Background(), fs, nil, 0)
	fs.tasks = append([]service.Task{{ID: 3, Title: "New"}}, fs.tasks...)

	next, cmd := m.Update(changedMsg{})
	m = next.(Model)
	if len(m.tasks) != 3 || m.tasks[0].Title != "New" {
		t.Errorf("expected reload, got %v", m.tasks)
	}
	if cmd == nil {
		t.Error("expected to keep waiting for changes")
	}
}

func TestPingSends(t *testing.T) {
	fs := sample()
	m := New(context.Background(), fs, nil, 0)
	_, _ = m.Update(pingMsg{})
	if len(fs.sent) != 1 {
		t.Errorf("expected 1 ping, got %d", len(fs.sent))
	}
}

func TestQuit(t *testing.T) {
	m := New(context.Background(), sample(), nil, 0)
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

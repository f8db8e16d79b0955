// Package session ties the push channel, the event dispatcher and the
// task collection together for one client, and exposes the read and
// mutation surface the presentation layer works against.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tasksync/internal/channel"
	"tasksync/internal/dispatch"
	"tasksync/internal/reconcile"
	"tasksync/internal/service"
)

// ErrStopped is returned by operations on a stopped session.
var ErrStopped = errors.New("session stopped")

// Channel is the part of the transport a session drives.
// *channel.Transport satisfies it.
type Channel interface {
	Connect()
	Disconnect()
	Send(payload any) error
	Status() channel.Status
}

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Starting
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Session is the lifecycle controller for one client.
type Session struct {
	svc  service.Service
	ch   Channel
	disp *dispatch.Dispatcher
	rec  *reconcile.Reconciler
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	attached bool
	regs     []*dispatch.Registration
}

// New creates an idle session. ch should deliver frames to
// d.HandleFrame.
func New(svc service.Service, ch Channel, d *dispatch.Dispatcher, r *reconcile.Reconciler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Session{
		svc:  svc,
		ch:   ch,
		disp: d,
		rec:  r,
		log:  logger.With("component", "session"),
	}
}

// Start attaches the event handlers, opens the channel and loads the
// task list. The connection is established in the background; Start
// returns once the bulk fetch has resolved. A failed fetch leaves an
// empty, active session and is returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle {
		st := s.state
		s.mu.Unlock()
		if st == Stopped {
			return ErrStopped
		}
		return fmt.Errorf("session already %s", st)
	}
	s.state = Starting
	s.attached = true
	s.regs = []*dispatch.Registration{
		s.disp.Register(dispatch.KindCreated, s.onCreated),
		s.disp.Register(dispatch.KindUpdated, s.onUpdated),
		s.disp.Register(dispatch.KindDeleted, s.onDeleted),
	}
	s.mu.Unlock()

	s.ch.Connect()

	tasks, err := s.svc.ListTasks(ctx, "")
	if err != nil {
		s.log.Warn("initial fetch failed", "error", err)
		tasks = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stopped {
		return ErrStopped
	}
	s.rec.Initialize(tasks)
	s.state = Active
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	return nil
}

// Stop detaches the handlers and closes the channel. A frame being
// handled while Stop runs is discarded. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == Stopped {
		s.mu.Unlock()
		return
	}
	s.state = Stopped
	s.attached = false
	regs := s.regs
	s.regs = nil
	s.mu.Unlock()

	// Unregister waits for an in-flight handler, which needs s.mu.
	for _, r := range regs {
		r.Unregister()
	}
	s.ch.Disconnect()
	s.log.Debug("session stopped", "handlers", s.disp.Handlers())
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the task list, most recent first.
func (s *Session) Snapshot() []service.Task {
	return s.rec.Snapshot()
}

// Status returns the connectivity status of the push channel.
func (s *Session) Status() channel.Status {
	return s.ch.Status()
}

// Changes signals whenever the task list changes.
func (s *Session) Changes() <-chan struct{} {
	return s.rec.Changes()
}

// Send writes payload on the push channel.
func (s *Session) Send(payload any) error {
	if s.State() == Stopped {
		return ErrStopped
	}
	return s.ch.Send(payload)
}

// withAttached runs f under the session lock if the handlers are still
// attached.
func (s *Session) withAttached(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		s.log.Debug("discarding event after stop")
		return
	}
	f()
}

func (s *Session) onCreated(ev dispatch.Event) {
	s.withAttached(func() { s.rec.ApplyCreated(ev.Task) })
}

func (s *Session) onUpdated(ev dispatch.Event) {
	s.withAttached(func() { _ = s.rec.ApplyUpdated(ev.Task) })
}

func (s *Session) onDeleted(ev dispatch.Event) {
	s.withAttached(func() { s.rec.ApplyDeleted(ev.ID) })
}

func (s *Session) checkOpen() error {
	if s.State() == Stopped {
		return ErrStopped
	}
	return nil
}

// failed makes sure a collaborator error carries ErrOperationFailed.
func failed(op string, err error) error {
	if errors.Is(err, service.ErrOperationFailed) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", service.ErrOperationFailed, op, err)
}

// Create creates a task and adds it to the list. The matching push
// event, if it arrives too, replaces the same entry.
func (s *Session) Create(ctx context.Context, in service.TaskInput) (service.Task, error) {
	if err := s.checkOpen(); err != nil {
		return service.Task{}, err
	}
	t, err := s.svc.CreateTask(ctx, in)
	if err != nil {
		return service.Task{}, failed("create task", err)
	}
	s.withAttached(func() { s.rec.ApplyCreated(t) })
	return t, nil
}

// SetStatus changes a task's status. The list shows the new status right
// away; it is reverted if the service rejects the change.
func (s *Session) SetStatus(ctx context.Context, id int64, status service.Status) (service.Task, error) {
	if err := s.checkOpen(); err != nil {
		return service.Task{}, err
	}
	if !status.Valid() {
		return service.Task{}, fmt.Errorf("invalid status: %s", status)
	}

	var prev service.Status
	var localErr error
	s.withAttached(func() { prev, localErr = s.rec.ApplyLocalStatusChange(id, status) })
	if localErr != nil {
		return service.Task{}, localErr
	}

	t, err := s.svc.UpdateStatus(ctx, id, status)
	if err != nil {
		if prev != "" {
			s.withAttached(func() { _, _ = s.rec.ApplyLocalStatusChange(id, prev) })
		}
		return service.Task{}, failed("update task", err)
	}
	s.withAttached(func() {
		if err := s.rec.ApplyUpdated(t); err != nil {
			// Deleted by someone else in the meantime.
			s.log.Debug("status change for vanished task", "id", id)
		}
	})
	return t, nil
}

// Delete deletes a task and removes it from the list.
func (s *Session) Delete(ctx context.Context, id int64) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := s.svc.DeleteTask(ctx, id); err != nil {
		return failed("delete task", err)
	}
	s.withAttached(func() { s.rec.ApplyDeleted(id) })
	return nil
}

// Refresh refetches the whole list. Events pushed while the fetch runs
// are kept. On failure the list is unchanged.
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.withAttached(s.rec.BeginRefresh)
	tasks, err := s.svc.ListTasks(ctx, "")
	if err != nil {
		s.withAttached(s.rec.AbortRefresh)
		return failed("list tasks", err)
	}
	s.withAttached(func() { s.rec.Initialize(tasks) })
	return nil
}

// Reconnect asks the channel to connect again. After the channel has given
// up this restarts the backoff sequence; otherwise it does nothing.
func (s *Session) Reconnect() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.ch.Connect()
	return nil
}

// Package reconcile holds the in-memory task collection and merges bulk
// fetches and streamed change events into it.
//
// The collection is ordered most recent first and never holds two tasks
// with the same ID. Events that arrive before the first Initialize are
// journaled and replayed on top of the fetched list, so a push that races
// the bulk fetch is neither lost nor duplicated. A refetch bracketed by
// BeginRefresh and Initialize gets the same treatment: events keep
// applying while the fetch runs and are replayed on the fetched list.
package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tasksync/internal/service"
)

// ErrUnknownTask is reported when an event references an absent ID.
var ErrUnknownTask = errors.New("unknown task")

type opKind int

const (
	opCreated opKind = iota
	opUpdated
	opDeleted
	opStatus
)

type journalEntry struct {
	op     opKind
	task   service.Task
	id     int64
	status service.Status
}

// Reconciler owns the task collection. Readers get copies.
type Reconciler struct {
	log *slog.Logger

	mu          sync.Mutex
	tasks       []service.Task
	initialized bool
	refreshing  int
	journal     []journalEntry

	changes chan struct{}
}

// New creates an empty, uninitialized reconciler.
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reconciler{
		log:     logger.With("component", "reconcile"),
		tasks:   []service.Task{},
		changes: make(chan struct{}, 1),
	}
}

// Initialize replaces the whole collection. Duplicate IDs in tasks are
// dropped (first wins). Events journaled before the first call, or since
// a BeginRefresh, are replayed afterwards. Each call ends one
// outstanding refresh.
func (r *Reconciler) Initialize(tasks []service.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[int64]bool, len(tasks))
	next := make([]service.Task, 0, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			r.log.Warn("dropping duplicate task from fetch", "id", t.ID)
			continue
		}
		seen[t.ID] = true
		next = append(next, t)
	}
	r.tasks = next

	replay := !r.initialized || r.refreshing > 0
	r.initialized = true
	if r.refreshing > 0 {
		r.refreshing--
	}
	if replay {
		for _, e := range r.journal {
			r.replayLocked(e)
		}
	}
	if r.refreshing == 0 {
		// Overlapping refreshes share the journal until the last one ends.
		r.journal = nil
	}
	r.notify()
}

// BeginRefresh marks the start of a refetch. Until the matching
// Initialize (or AbortRefresh) events are applied as usual and also
// journaled, so the fetched list cannot drop them.
func (r *Reconciler) BeginRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshing++
}

// AbortRefresh ends a refresh whose fetch failed.
func (r *Reconciler) AbortRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.refreshing == 0 {
		return
	}
	r.refreshing--
	if r.refreshing == 0 && r.initialized {
		r.journal = nil
	}
}

// recordLocked journals e while the collection is not yet loaded or a
// refresh is running. It reports whether e should also apply now.
func (r *Reconciler) recordLocked(e journalEntry) bool {
	if !r.initialized || r.refreshing > 0 {
		r.journal = append(r.journal, e)
	}
	return r.initialized
}

// replayLocked applies a journaled event on top of a fresh fetch. Task
// events older than the fetched record are skipped: the fetch already
// reflects them.
func (r *Reconciler) replayLocked(e journalEntry) {
	if e.op == opCreated || e.op == opUpdated {
		if i := r.indexLocked(e.task.ID); i >= 0 && e.task.UpdatedAt.Before(r.tasks[i].UpdatedAt) {
			return
		}
	}
	switch e.op {
	case opCreated:
		r.createdLocked(e.task)
	case opUpdated:
		_ = r.updatedLocked(e.task)
	case opDeleted:
		r.deletedLocked(e.id)
	case opStatus:
		_, _ = r.statusLocked(e.id, e.status)
	}
}

// ApplyCreated inserts task at the front. If the ID is already present
// (a create that raced the bulk fetch) the entry is replaced in place.
func (r *Reconciler) ApplyCreated(task service.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recordLocked(journalEntry{op: opCreated, task: task}) {
		return
	}
	r.createdLocked(task)
	r.notify()
}

func (r *Reconciler) createdLocked(task service.Task) {
	if i := r.indexLocked(task.ID); i >= 0 {
		r.tasks[i] = task
		return
	}
	r.tasks = append(r.tasks, service.Task{})
	copy(r.tasks[1:], r.tasks)
	r.tasks[0] = task
}

// ApplyUpdated replaces the entry with task.ID, keeping its position.
// It returns ErrUnknownTask if there is no such entry.
func (r *Reconciler) ApplyUpdated(task service.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recordLocked(journalEntry{op: opUpdated, task: task}) {
		return nil
	}
	if err := r.updatedLocked(task); err != nil {
		return err
	}
	r.notify()
	return nil
}

func (r *Reconciler) updatedLocked(task service.Task) error {
	i := r.indexLocked(task.ID)
	if i < 0 {
		r.log.Warn("update for unknown task", "id", task.ID)
		return fmt.Errorf("%w: %d", ErrUnknownTask, task.ID)
	}
	r.tasks[i] = task
	return nil
}

// ApplyDeleted removes the entry with id. It reports whether anything was
// removed.
func (r *Reconciler) ApplyDeleted(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recordLocked(journalEntry{op: opDeleted, id: id}) {
		return false
	}
	if !r.deletedLocked(id) {
		return false
	}
	r.notify()
	return true
}

func (r *Reconciler) deletedLocked(id int64) bool {
	i := r.indexLocked(id)
	if i < 0 {
		r.log.Debug("delete for unknown task", "id", id)
		return false
	}
	r.tasks = append(r.tasks[:i], r.tasks[i+1:]...)
	return true
}

// ApplyLocalStatusChange sets the status of one entry and returns the
// previous status. Applying the server's record afterwards with
// ApplyUpdated converges on the same entry.
func (r *Reconciler) ApplyLocalStatusChange(id int64, status service.Status) (service.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recordLocked(journalEntry{op: opStatus, id: id, status: status}) {
		return "", nil
	}
	prev, err := r.statusLocked(id, status)
	if err != nil {
		return "", err
	}
	if prev != status {
		r.notify()
	}
	return prev, nil
}

func (r *Reconciler) statusLocked(id int64, status service.Status) (service.Status, error) {
	i := r.indexLocked(id)
	if i < 0 {
		r.log.Warn("status change for unknown task", "id", id)
		return "", fmt.Errorf("%w: %d", ErrUnknownTask, id)
	}
	prev := r.tasks[i].Status
	r.tasks[i].Status = status
	return prev, nil
}

func (r *Reconciler) indexLocked(id int64) int {
	for i := range r.tasks {
		if r.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Snapshot returns a copy of the collection.
func (r *Reconciler) Snapshot() []service.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]service.Task, len(r.tasks))
	copy(out, r.tasks)
	return out
}

func (r *Reconciler) get(id int64) (service.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i := r.indexLocked(id); i >= 0 {
		return r.tasks[i], true
	}
	return service.Task{}, false
}

func (r *Reconciler) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Changes signals after each mutation. Signals coalesce: a reader that
// falls behind sees one pending signal, then reads the latest Snapshot.
func (r *Reconciler) Changes() <-chan struct{} {
	return r.changes
}

func (r *Reconciler) notify() {
	select {
	case r.changes <- struct{}{}:
	default:
	}
}

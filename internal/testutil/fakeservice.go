// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tasksync/internal/service"
)

// FakeService is an in-memory implementation of service.Service for testing.
// Tasks are kept most recent first, like the real service returns them.
type FakeService struct {
	mu     sync.RWMutex
	tasks  []service.Task
	nextID int64
	now    func() time.Time

	// Error injection for testing
	ListTasksErr    error
	GetTaskErr      error
	CreateTaskErr   error
	UpdateStatusErr error
	DeleteTaskErr   error

	// OnCreate, if set, runs after a task is stored and before CreateTask
	// returns. Tests use it to push the matching event first.
	OnCreate func(service.Task)

	// OnList, if set, runs after ListTasks has built its result and before
	// it returns. Tests use it to push events that the result misses.
	OnList func()

	calls        map[string]int
	listStatuses []service.Status
}

// NewFakeService creates an empty FakeService.
func NewFakeService() *FakeService {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	var tick int64
	return &FakeService{
		nextID: 1,
		now: func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		},
		calls: make(map[string]int),
	}
}

// AddTask stores a pending task and returns it.
func (f *FakeService) AddTask(title string) service.Task {
	return f.AddTaskWith(service.Task{Title: title, Status: service.StatusPending})
}

// AddTaskWith stores t, assigning an ID if it has none.
func (f *FakeService) AddTaskWith(t service.Task) service.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == 0 {
		t.ID = f.nextID
	}
	if t.ID >= f.nextID {
		f.nextID = t.ID + 1
	}
	if t.Status == "" {
		t.Status = service.StatusPending
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = f.now()
		t.UpdatedAt = t.CreatedAt
	}
	f.tasks = append([]service.Task{t}, f.tasks...)
	return t
}

// Tasks returns a copy of the stored tasks.
func (f *FakeService) Tasks() []service.Task {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]service.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

// Calls returns how many times method was invoked.
func (f *FakeService) Calls(method string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.calls[method]
}

// ListStatuses returns the status filter of every ListTasks call.
func (f *FakeService) ListStatuses() []service.Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]service.Status, len(f.listStatuses))
	copy(out, f.listStatuses)
	return out
}

func (f *FakeService) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

func (f *FakeService) indexLocked(id int64) int {
	for i, t := range f.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func notFound(op string, id int64) error {
	return fmt.Errorf("%w: %s: %w: task %d", service.ErrOperationFailed, op, service.ErrNotFound, id)
}

// ListTasks implements service.Service.
func (f *FakeService) ListTasks(ctx context.Context, status service.Status) ([]service.Task, error) {
	f.record("ListTasks")
	f.mu.Lock()
	f.listStatuses = append(f.listStatuses, status)
	f.mu.Unlock()
	if f.ListTasksErr != nil {
		return nil, f.ListTasksErr
	}
	f.mu.RLock()
	result := []service.Task{}
	for _, t := range f.tasks {
		if status == "" || t.Status == status {
			result = append(result, t)
		}
	}
	hook := f.OnList
	f.mu.RUnlock()

	if hook != nil {
		hook()
	}
	return result, nil
}

// GetTask implements service.Service.
func (f *FakeService) GetTask(ctx context.Context, id int64) (service.Task, error) {
	f.record("GetTask")
	if f.GetTaskErr != nil {
		return service.Task{}, f.GetTaskErr
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if i := f.indexLocked(id); i >= 0 {
		return f.tasks[i], nil
	}
	return service.Task{}, notFound("get task", id)
}

// CreateTask implements service.Service.
func (f *FakeService) CreateTask(ctx context.Context, in service.TaskInput) (service.Task, error) {
	f.record("CreateTask")
	if f.CreateTaskErr != nil {
		return service.Task{}, f.CreateTaskErr
	}
	if err := in.Validate(); err != nil {
		return service.Task{}, fmt.Errorf("%w: create task: %v", service.ErrOperationFailed, err)
	}

	f.mu.Lock()
	now := f.now()
	t := service.Task{
		ID:          f.nextID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Status:      service.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.nextID++
	f.tasks = append([]service.Task{t}, f.tasks...)
	hook := f.OnCreate
	f.mu.Unlock()

	if hook != nil {
		hook(t)
	}
	return t, nil
}

// UpdateStatus implements service.Service.
func (f *FakeService) UpdateStatus(ctx context.Context, id int64, status service.Status) (service.Task, error) {
	f.record("UpdateStatus")
	if f.UpdateStatusErr != nil {
		return service.Task{}, f.UpdateStatusErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexLocked(id)
	if i < 0 {
		return service.Task{}, notFound("update task", id)
	}
	f.tasks[i].Status = status
	f.tasks[i].UpdatedAt = f.now()
	return f.tasks[i], nil
}

// DeleteTask implements service.Service.
func (f *FakeService) DeleteTask(ctx context.Context, id int64) error {
	f.record("DeleteTask")
	if f.DeleteTaskErr != nil {
		return f.DeleteTaskErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.indexLocked(id)
	if i < 0 {
		return notFound("delete task", id)
	}
	f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
	return nil
}

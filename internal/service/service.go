package service

import (
	"context"
	"errors"
)

// ErrOperationFailed is the generic condition every collaborator failure
// surfaces as. Callers show it to the user; nothing retries it.
var ErrOperationFailed = errors.New("operation failed")

// ErrNotFound is joined with ErrOperationFailed when the task does not exist.
var ErrNotFound = errors.New("not found")

// Service defines the interface for task backend operations.
// Commands and the sync session never talk HTTP directly.
type Service interface {
	// ListTasks returns tasks most recent first.
	// An empty status returns every task.
	ListTasks(ctx context.Context, status Status) ([]Task, error)

	// GetTask returns a single task by ID.
	GetTask(ctx context.Context, id int64) (Task, error)

	// CreateTask creates a task and returns the server's record.
	CreateTask(ctx context.Context, in TaskInput) (Task, error)

	// UpdateStatus changes a task's status and returns the server's record.
	UpdateStatus(ctx context.Context, id int64, status Status) (Task, error)

	// DeleteTask deletes a task.
	DeleteTask(ctx context.Context, id int64) error
}

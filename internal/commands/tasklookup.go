package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

// errOutOfRange is returned when a position is past the end of the list.
var errOutOfRange = errors.New("task number out of range")

// findTask resolves ref against the service. Positions count from the top
// of the unfiltered list, most recent first, as printed by list.
func findTask(ctx context.Context, svc service.Service, ref TaskRef) (service.Task, error) {
	if ref.ByID {
		return svc.GetTask(ctx, ref.ID)
	}
	if ref.Pos < 1 {
		return service.Task{}, fmt.Errorf("%w: %d", errOutOfRange, ref.Pos)
	}
	tasks, err := svc.ListTasks(ctx, "")
	if err != nil {
		return service.Task{}, err
	}
	if ref.Pos > len(tasks) {
		return service.Task{}, fmt.Errorf("%w: %d", errOutOfRange, ref.Pos)
	}
	return tasks[ref.Pos-1], nil
}

// parseAndFindTask parses args as a task reference and resolves it. On
// failure it reports the error and returns the exit code.
func parseAndFindTask(ctx context.Context, svc service.Service, args []string, errOut io.Writer) (service.Task, int) {
	ref, err := ParseTaskRef(args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return service.Task{}, exitcode.UserError
	}
	task, err := findTask(ctx, svc, ref)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			fmt.Fprintf(errOut, "error: task not found: %s\n", ref)
			return service.Task{}, exitcode.UserError
		}
		return service.Task{}, reportError(err, errOut)
	}
	return task, exitcode.Success
}

// reportError prints err and maps it to an exit code.
func reportError(err error, errOut io.Writer) int {
	switch {
	case errors.Is(err, errOutOfRange):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	case errors.Is(err, service.ErrNotFound):
		fmt.Fprintln(errOut, "error: task not found")
		return exitcode.UserError
	default:
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}
}

package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/service"
)

func init() {
	Register(&ListCmd{})
}

// ListCmd implements the list command.
// Handles both `tasksync` (no args) and `tasksync list`.
type ListCmd struct {
	status string
}

func (c *ListCmd) Name() string       { return "list" }
func (c *ListCmd) Aliases() []string  { return []string{"ls"} }
func (c *ListCmd) Synopsis() string   { return "List tasks" }
func (c *ListCmd) Usage() string      { return "tasksync list [--status pending|completed]" }
func (c *ListCmd) NeedsService() bool { return true }

func (c *ListCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.status, "status", "", "")
	fs.StringVar(&c.status, "s", "", "")
}

func (c *ListCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	var status service.Status
	if c.status != "" {
		var err error
		status, err = service.ParseStatus(c.status)
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
	}

	tasks, err := svc.ListTasks(ctx, status)
	if err != nil {
		return reportError(err, errOut)
	}

	// Numbers are positions in the unfiltered list so refs stay valid.
	positions, err := listPositions(ctx, svc, status, tasks)
	if err != nil {
		return reportError(err, errOut)
	}

	shown := 0
	for _, task := range tasks {
		pos, ok := positions[task.ID]
		if !ok {
			// Created between the two fetches.
			continue
		}
		output.FormatTask(out, pos, task)
		shown++
	}

	if shown == 0 && !cfg.Quiet {
		fmt.Fprintln(out, "no tasks found")
	}
	return exitcode.Success
}

// listPositions maps task IDs to their 1-based position in the full list.
// Without a filter, tasks already is the full list.
func listPositions(ctx context.Context, svc service.Service, status service.Status, tasks []service.Task) (map[int64]int, error) {
	all := tasks
	if status != "" && len(tasks) > 0 {
		var err error
		all, err = svc.ListTasks(ctx, "")
		if err != nil {
			return nil, err
		}
	}
	positions := make(map[int64]int, len(all))
	for i, t := range all {
		positions[t.ID] = i + 1
	}
	return positions, nil
}

package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

func init() {
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct {
	desc string
	due  string

	now func() time.Time
}

// SetNow sets the clock used for the default due date (for testing).
func (c *AddCmd) SetNow(now func() time.Time) {
	c.now = now
}

func (c *AddCmd) Name() string       { return "add" }
func (c *AddCmd) Aliases() []string  { return []string{"create"} }
func (c *AddCmd) Synopsis() string   { return "Create a task" }
func (c *AddCmd) Usage() string      { return "tasksync add [--desc <text>] [--due YYYY-MM-DD] <title...>" }
func (c *AddCmd) NeedsService() bool { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.desc, "desc", "", "")
	fs.StringVar(&c.desc, "d", "", "")
	fs.StringVar(&c.due, "due", "", "")
}

func (c *AddCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	title := strings.TrimSpace(strings.Join(args, " "))
	if title == "" {
		fmt.Fprintln(errOut, "error: title required")
		return exitcode.UserError
	}

	// The service requires a due date; default to today.
	var due service.Date
	if c.due != "" {
		var err error
		due, err = service.ParseDate(c.due)
		if err != nil {
			fmt.Fprintf(errOut, "error: %v\n", err)
			return exitcode.UserError
		}
	} else {
		now := time.Now
		if c.now != nil {
			now = c.now
		}
		due = service.DateOf(now())
	}

	in := service.TaskInput{Title: title, Description: c.desc, DueDate: due}
	if err := in.Validate(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}

	task, err := svc.CreateTask(ctx, in)
	if err != nil {
		return reportError(err, errOut)
	}

	if !cfg.Quiet {
		fmt.Fprintf(out, "created #%d\n", task.ID)
	}
	return exitcode.Success
}

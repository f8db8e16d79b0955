package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

func init() {
	Register(&HelpCmd{})
}

// HelpCmd implements the help command.
type HelpCmd struct{}

func (c *HelpCmd) Name() string       { return "help" }
func (c *HelpCmd) Aliases() []string  { return nil }
func (c *HelpCmd) Synopsis() string   { return "Print usage" }
func (c *HelpCmd) Usage() string      { return "tasksync help" }
func (c *HelpCmd) NeedsService() bool { return false }

func (c *HelpCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *HelpCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	fmt.Fprint(out, helpText)
	return exitcode.Success
}

const helpText = `Usage:
  tasksync                                           List all tasks
  tasksync list [common flags] [--status <status>]   List tasks, optionally only pending or completed
  tasksync add [common flags] [--desc <text>] [--due YYYY-MM-DD] <title...>
  tasksync done [common flags] <ref>
  tasksync undo [common flags] <ref>
  tasksync rm [common flags] <ref>
  tasksync show [common flags] <ref>
  tasksync watch [common flags] [--plain]            Follow the task list live
  tasksync config [common flags] [init]
  tasksync help
  tasksync version [--verbose]

Task references:
  <n>              Position as printed by list (1 is the most recent)
  #<id>            Server ID

Common flags:
  --config <dir>   Override config directory
  --quiet          Suppress informational output
  --debug          Print debug logs to stderr
`

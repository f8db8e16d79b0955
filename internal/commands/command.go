// Package commands holds the tasksync subcommands and the registry the CLI
// dispatcher looks them up in.
package commands

import (
	"context"
	"flag"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/service"
)

// Command is one tasksync subcommand (list, add, watch, ...).
type Command interface {
	Name() string
	Aliases() []string

	// Synopsis and Usage feed the help listing.
	Synopsis() string
	Usage() string

	// NeedsService reports whether Run gets a live todo service. When it
	// is false, Run receives a nil svc and a config that may have failed
	// validation.
	NeedsService() bool

	// RegisterFlags adds the command's flags to the shared flag set.
	RegisterFlags(fs *flag.FlagSet)

	// Run executes the command with the positional args left after flag
	// parsing and returns a process exit code from package exitcode.
	Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int
}

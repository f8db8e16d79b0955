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
	Register(&ConfigCmd{})
}

// ConfigCmd implements the config command.
//
//	tasksync config        print the effective settings
//	tasksync config init   write them to the config file
type ConfigCmd struct{}

func (c *ConfigCmd) Name() string       { return "config" }
func (c *ConfigCmd) Aliases() []string  { return nil }
func (c *ConfigCmd) Synopsis() string   { return "Show or initialize configuration" }
func (c *ConfigCmd) Usage() string      { return "tasksync config [init]" }
func (c *ConfigCmd) NeedsService() bool { return false }

func (c *ConfigCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *ConfigCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	switch {
	case len(args) == 0:
		return c.show(cfg, out, errOut)
	case len(args) == 1 && args[0] == "init":
		return c.writeFile(cfg, out, errOut)
	default:
		fmt.Fprintf(errOut, "error: unknown config action: %s\n", args[0])
		return exitcode.UserError
	}
}

func (c *ConfigCmd) show(cfg *config.Config, out, errOut io.Writer) int {
	// Reload so that a broken file is reported rather than skipped.
	if err := cfg.Load(); err != nil {
		fmt.Fprintf(errOut, "error: config error: %s\n", err)
		return exitcode.ConfigError
	}
	b, err := cfg.Marshal()
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.ConfigError
	}
	if !cfg.Quiet {
		src := cfg.Path()
		if !cfg.HasConfigFile() {
			src += " (not found, using defaults)"
		}
		fmt.Fprintf(out, "# %s\n", src)
	}
	out.Write(b)
	return exitcode.Success
}

func (c *ConfigCmd) writeFile(cfg *config.Config, out, errOut io.Writer) int {
	if err := cfg.WriteFile(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.ConfigError
	}
	if !cfg.Quiet {
		fmt.Fprintf(out, "wrote %s\n", cfg.Path())
	}
	return exitcode.Success
}

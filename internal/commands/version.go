package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime/debug"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

// Version is overridden at build time with
// -ldflags "-X tasksync/internal/commands.Version=...".
var Version = "0.1.0"

func init() {
	Register(&VersionCmd{})
}

// VersionCmd prints the version, and with --verbose the Go toolchain and
// dependency versions the binary was built with.
type VersionCmd struct {
	verbose bool

	buildInfo func() (*debug.BuildInfo, bool)
}

// SetBuildInfo replaces debug.ReadBuildInfo (for testing).
func (c *VersionCmd) SetBuildInfo(f func() (*debug.BuildInfo, bool)) {
	c.buildInfo = f
}

func (c *VersionCmd) Name() string       { return "version" }
func (c *VersionCmd) Aliases() []string  { return nil }
func (c *VersionCmd) Synopsis() string   { return "Print version" }
func (c *VersionCmd) Usage() string      { return "tasksync version [--verbose]" }
func (c *VersionCmd) NeedsService() bool { return false }

func (c *VersionCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.verbose, "verbose", false, "")
	fs.BoolVar(&c.verbose, "v", false, "")
}

func (c *VersionCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	fmt.Fprintf(out, "tasksync %s\n", Version)
	if !c.verbose {
		return exitcode.Success
	}

	read := c.buildInfo
	if read == nil {
		read = debug.ReadBuildInfo
	}
	info, ok := read()
	if !ok {
		return exitcode.Success
	}
	fmt.Fprintf(out, "go       %s\n", info.GoVersion)
	for _, dep := range info.Deps {
		fmt.Fprintf(out, "%-40s %s\n", dep.Path, dep.Version)
	}
	return exitcode.Success
}

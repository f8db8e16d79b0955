package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"tasksync/internal/channel"
	"tasksync/internal/config"
	"tasksync/internal/dispatch"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/reconcile"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/tui"
)

// PingInterval is how often watch pings the push channel.
const PingInterval = 30 * time.Second

func init() {
	Register(&WatchCmd{})
}

// WatchCmd implements the watch command.
type WatchCmd struct {
	plain bool

	pingEvery time.Duration
}

// SetPlain selects line mode (for testing).
func (c *WatchCmd) SetPlain(plain bool) {
	c.plain = plain
}

// SetPingInterval overrides PingInterval (for testing).
func (c *WatchCmd) SetPingInterval(d time.Duration) {
	c.pingEvery = d
}

func (c *WatchCmd) Name() string       { return "watch" }
func (c *WatchCmd) Aliases() []string  { return nil }
func (c *WatchCmd) Synopsis() string   { return "Follow the task list live" }
func (c *WatchCmd) Usage() string      { return "tasksync watch [--plain]" }
func (c *WatchCmd) NeedsService() bool { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.plain, "plain", false, "")
}

func (c *WatchCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	if len(args) > 0 {
		fmt.Fprintf(errOut, "error: unexpected argument: %s\n", args[0])
		return exitcode.UserError
	}

	logger := cfg.Log()
	statusSig := make(chan struct{}, 1)

	disp := dispatch.New(logger)
	rec := reconcile.New(logger)
	tr := channel.New(channel.Options{
		URL:         cfg.WSURL,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		OnFrame:     disp.HandleFrame,
		OnStatus: func(channel.Status) {
			select {
			case statusSig <- struct{}{}:
			default:
			}
		},
		Logger: logger,
	})
	s := session.New(svc, tr, disp, rec, logger)

	if err := s.Start(ctx); err != nil {
		// The view stays usable; r retries the fetch.
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
	}
	defer s.Stop()

	every := PingInterval
	if c.pingEvery > 0 {
		every = c.pingEvery
	}

	if c.plain {
		return runPlainWatch(ctx, s, statusSig, every, out)
	}

	p := tea.NewProgram(tui.New(ctx, s, statusSig, every), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}
	return exitcode.Success
}

// runPlainWatch prints the list once, then one line per change and per
// connectivity change until ctx is done.
func runPlainWatch(ctx context.Context, s *session.Session, statusSig <-chan struct{}, every time.Duration, out io.Writer) int {
	prev := s.Snapshot()
	for i, t := range prev {
		output.FormatTask(out, i+1, t)
	}

	ping := time.NewTicker(every)
	defer ping.Stop()

	lastStatus := channel.Status("")
	for {
		select {
		case <-ctx.Done():
			return exitcode.Success

		case <-s.Changes():
			next := s.Snapshot()
			for _, ch := range diffTasks(prev, next) {
				output.FormatEvent(out, ch.verb, ch.task)
			}
			prev = next

		case <-statusSig:
			if st := s.Status(); st != lastStatus {
				fmt.Fprintf(out, "-- %s\n", st)
				lastStatus = st
			}

		case <-ping.C:
			_ = s.Send(map[string]string{"type": "ping"})
		}
	}
}

type taskChange struct {
	verb string
	task service.Task
}

// diffTasks reports what changed between two snapshots: new tasks in
// list order, then modified ones, then removed ones.
func diffTasks(prev, next []service.Task) []taskChange {
	old := make(map[int64]service.Task, len(prev))
	for _, t := range prev {
		old[t.ID] = t
	}

	var created, updated, deleted []taskChange
	seen := make(map[int64]bool, len(next))
	for _, t := range next {
		seen[t.ID] = true
		was, ok := old[t.ID]
		switch {
		case !ok:
			created = append(created, taskChange{"created", t})
		case was != t:
			updated = append(updated, taskChange{"updated", t})
		}
	}
	for _, t := range prev {
		if !seen[t.ID] {
			deleted = append(deleted, taskChange{"deleted", t})
		}
	}

	out := append(created, updated...)
	return append(out, deleted...)
}

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/runner"
	"github.com/roach88/relq/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Input   string
	Session string
	Deltas  string // delta stream path; empty or "-" reads stdin
}

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Event    string `json:"event"` // "initial", "patched", "reexecuted", "error"
	QueryID  string `json:"query_id"`
	Envelope any    `json:"envelope,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <shape>",
		Short: "Keep a query result current from a delta stream",
		Long: `Subscribe to a query shape, then read deltas (JSON table-delta lists, one
after another) and apply them to the database. Every time the result
changes, by in-place patch or full re-execution, the new envelope is
printed as one JSON line.

Example:
  tail -f deltas.jsonl | relq watch --db ./app.db ./admins.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "user arguments as a JSON object")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session context as a JSON object")
	cmd.Flags().StringVar(&opts.Deltas, "deltas", "", "file to read deltas from (default stdin)")

	return cmd
}

func runWatch(opts *WatchOptions, arg string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    "json",
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	env, err := loadEnvironment(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	shape, err := readShape(arg, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	input, err := parseObject("input", opts.Input)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	session, err := parseObject("session", opts.Session)
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	var src io.Reader = cmd.InOrStdin()
	if opts.Deltas != "" && opts.Deltas != "-" {
		f, err := os.Open(opts.Deltas)
		if err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeNotFound, Message: err.Error()})
		}
		defer f.Close()
		src = f
	}

	st, err := env.openStore(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			env.logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			env.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	enc := json.NewEncoder(formatter.Writer)
	emit := func(ev WatchEvent) {
		if err := enc.Encode(ev); err != nil {
			env.logger.Error("write update", "error", err)
		}
	}

	r := newLiveRunner(env, st)
	sub, err := r.Subscribe(ctx, shape, input, session, func(u runner.Update) {
		emit(updateEvent(u))
	})
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	defer r.Unsubscribe(sub.ID)
	emit(WatchEvent{Event: "initial", QueryID: sub.ID, Envelope: sub.Envelope()})

	deltas := make(chan ir.Delta)
	go readDeltas(ctx, src, deltas, env.logger.Warn)

	err = r.Listen(ctx, deltas)
	if err != nil && !errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitFailure, err)
	}
	env.logger.Info("watch stopped", "query", sub.ID)
	return nil
}

func newLiveRunner(env *environment, st *store.Store) *runner.Runner {
	opts := append(env.runnerOptions(),
		runner.WithRowSource(st),
		runner.WithLocalStore(st.Local()),
		runner.WithTableWriter(st),
	)
	return runner.New(env.compiler(), st, opts...)
}

func updateEvent(u runner.Update) WatchEvent {
	switch {
	case u.Err != nil:
		return WatchEvent{Event: "error", QueryID: u.QueryID, Error: u.Err.Error()}
	case u.Reexecuted:
		return WatchEvent{Event: "reexecuted", QueryID: u.QueryID, Envelope: u.Envelope}
	default:
		return WatchEvent{Event: "patched", QueryID: u.QueryID, Envelope: u.Envelope}
	}
}

// readDeltas decodes consecutive JSON values from src and sends each as a
// delta. A value that is not a delta is reported and skipped. out is closed
// at end of input.
func readDeltas(ctx context.Context, src io.Reader, out chan<- ir.Delta, warn func(string, ...any)) {
	defer close(out)
	dec := json.NewDecoder(src)
	for n := 1; ; n++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if !errors.Is(err, io.EOF) {
				warn("delta stream unreadable", "delta", n, "error", err)
			}
			return
		}
		d, err := ir.ParseDelta(raw)
		if err != nil {
			warn("skipping delta", "delta", n, "error", err)
			continue
		}
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

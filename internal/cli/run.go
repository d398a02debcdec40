package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/runner"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Input   string // JSON object of $arg values
	Session string // JSON object of $session values
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <shape>",
		Short: "Execute a query shape and print its result",
		Long: `Compile a query shape, bind its arguments, run every fragment as one
atomic batch against the database, and print the result envelope.

Example:
  relq run --db ./app.db --input '{"role": "admin"}' ./admins.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "user arguments as a JSON object")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session context as a JSON object")

	return cmd
}

func runQuery(opts *RunOptions, arg string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
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

	st, err := env.openStore(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			env.logger.Error("error closing database", "error", closeErr)
		}
	}()

	r := runner.New(env.compiler(), st, env.runnerOptions()...)
	envelope, err := r.Query(cmd.Context(), shape, input, session)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(envelope)
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}

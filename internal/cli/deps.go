package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/queryir"
)

// DependencyReport lists what a delta must touch to affect a query.
type DependencyReport struct {
	Tables     []string            `json:"tables"`
	Where      map[string][]string `json:"where"`
	Structural map[string][]string `json:"structural"`
}

// NewDepsCommand creates the deps command.
func NewDepsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deps <shape>",
		Short: "Show the tables and fields a query depends on",
		Long: `Resolve a query shape and print the tables it reads, the fields its where
clauses filter on, and the sort and link key fields that shape its result.
A delta changing none of these never forces a re-execution.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runDeps(opts *RootOptions, arg string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	env, err := loadEnvironment(opts, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	shape, err := readShape(arg, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	resolved, err := queryir.Resolve(shape, env.graph)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}

	report := DependencyReport{
		Tables:     queryir.TablesTouched(resolved),
		Where:      queryir.Dependencies(resolved),
		Structural: queryir.StructuralDependencies(resolved),
	}

	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	w := formatter.Writer
	for _, table := range report.Tables {
		fmt.Fprintf(w, "%s\n", table)
		fmt.Fprintf(w, "  where:      %s\n", joinOrDash(report.Where[table]))
		fmt.Fprintf(w, "  structural: %s\n", joinOrDash(report.Structural[table]))
	}
	return nil
}

func joinOrDash(fields []string) string {
	if len(fields) == 0 {
		return "-"
	}
	return strings.Join(fields, ", ")
}

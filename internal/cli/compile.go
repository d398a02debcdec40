package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/querysql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompiledPlan is the JSON form of a compiled plan.
type CompiledPlan struct {
	Fingerprint string             `json:"fingerprint"`
	Tables      []string           `json:"tables"`
	UserArgs    []string           `json:"user_args"`
	SessionArgs []string           `json:"session_args"`
	Defaults    map[string]any     `json:"defaults"`
	Fragments   []CompiledFragment `json:"fragments"`
}

// CompiledFragment is one fragment of a CompiledPlan.
type CompiledFragment struct {
	ID      string   `json:"id"`
	SQL     string   `json:"sql"`
	Params  []string `json:"params"`
	Include bool     `json:"include"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <shape>",
		Short: "Compile a query shape to SQL fragments",
		Long: `Compile a query shape against the schema and print its fragments in
execution order. The shape is a JSON file, "-" for stdin, or inline JSON.

Nothing is executed; the database is not opened.

Example:
  relq compile --schema blog.cue '{"users": {"name": true, "posts": {"@limit": 3}}}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compiled plan as JSON to this file")

	return cmd
}

func runCompile(opts *CompileOptions, arg string, cmd *cobra.Command) error {
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

	plan, err := env.compiler().Compile(shape)
	if err != nil {
		return formatter.Fail(ExitFailure, err)
	}
	out := newCompiledPlan(plan)
	formatter.VerboseLog("Compiled %d fragment(s) over %v", len(out.Fragments), out.Tables)

	if opts.Output != "" {
		if err := writePlan(out, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
		}
	}

	if formatter.Format == "json" {
		return formatter.Success(out)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %s: %d fragment(s)\n\n", out.Fingerprint[:8], len(out.Fragments))
	for i, f := range out.Fragments {
		marker := ""
		if f.Include {
			marker = " [envelope]"
		}
		fmt.Fprintf(w, "-- %d. %s%s\n", i+1, f.ID, marker)
		if len(f.Params) > 0 {
			fmt.Fprintf(w, "-- params: %v\n", f.Params)
		}
		fmt.Fprintf(w, "%s;\n\n", f.SQL)
	}
	if opts.Output != "" {
		fmt.Fprintf(w, "Wrote plan to %s\n", opts.Output)
	}
	return nil
}

func newCompiledPlan(plan *querysql.Plan) CompiledPlan {
	out := CompiledPlan{
		Fingerprint: plan.Fingerprint,
		Tables:      plan.Tables(),
		UserArgs:    nonNil(plan.UserArgs),
		SessionArgs: nonNil(plan.SessionArgs),
		Defaults:    map[string]any(plan.Defaults),
		Fragments:   make([]CompiledFragment, len(plan.Fragments)),
	}
	if out.Defaults == nil {
		out.Defaults = map[string]any{}
	}
	for i, f := range plan.Fragments {
		out.Fragments[i] = CompiledFragment{
			ID:      f.ID,
			SQL:     f.SQL,
			Params:  nonNil(f.Params),
			Include: f.Include,
		}
	}
	return out
}

func writePlan(plan CompiledPlan, filename string) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

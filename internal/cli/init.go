package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/config"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write relq.toml and create the schema's tables",
		Long: `Write a default relq.toml unless one exists, then create the configured
schema's tables in the database. --db and --schema are recorded in a new
relq.toml as absolute paths.

Example:
  relq init --schema ./blog.cue --db ./app.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}

	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	path := opts.Config
	if path == "" {
		path = config.FileName
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := config.Default()
		if opts.Database != "" {
			cfg.Database = absPath(opts.Database)
		}
		if opts.Schema != "" {
			cfg.Schema = absPath(opts.Schema)
		}
		if err := cfg.Write(path); err != nil {
			return formatter.Fail(ExitCommandError, &LoadError{Code: ErrCodeWriteFailed, Message: err.Error()})
		}
		formatter.VerboseLog("Wrote %s", path)
	}

	rootWithConfig := *opts
	rootWithConfig.Config = path
	env, err := loadEnvironment(&rootWithConfig, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	st, err := env.openStore(cmd.Context())
	if err != nil {
		return formatter.Fail(ExitCommandError, err)
	}
	if err := st.Close(); err != nil {
		return formatter.Fail(ExitCommandError, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(map[string]any{
			"config":   path,
			"database": env.cfg.Database,
			"tables":   len(env.graph.Tables()),
		})
	}
	fmt.Fprintf(formatter.Writer, "✓ Initialized %s with %d table(s) (config %s)\n", env.cfg.Database, len(env.graph.Tables()), path)
	return nil
}

func absPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}

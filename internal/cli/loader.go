package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/roach88/relq/internal/config"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/runner"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// LoadError represents an error loading configuration, schema or input.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Error codes for load failures. Pipeline failures report their own codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeConfig      = "E002" // Config file unreadable or invalid
	ErrCodeSchema      = "E003" // Schema file unreadable or invalid
	ErrCodeShape       = "E004" // Query shape unreadable
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeDatabase    = "E006" // Database could not be opened
	ErrCodeWriteFailed = "E007" // File write error
	ErrCodeInput       = "E008" // --input / --session is not a JSON object
)

// environment is what query commands share: configuration, logger and the
// resolved schema.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	graph  *schema.Graph
}

// loadConfig reads the configuration and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.Config != "" {
		cfg, err = config.LoadFrom(opts.Config)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Schema != "" {
		cfg.Schema = opts.Schema
	}
	return cfg, nil
}

// loadEnvironment loads configuration and schema. Logs go to logw.
func loadEnvironment(opts *RootOptions, logw io.Writer) (*environment, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, opts.Verbose, logw)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
	}

	if _, err := os.Stat(cfg.Schema); err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("schema file not found: %s", cfg.Schema)}
	}
	s, err := schema.ReadFile(cfg.Schema)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}
	if cfg.MaxDepth > 0 {
		s.MaxDepth = cfg.MaxDepth
	}
	g, err := schema.Resolve(s)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSchema, Message: err.Error()}
	}
	logger.Debug("schema loaded", "path", cfg.Schema, "tables", len(g.Tables()), "max_depth", g.MaxDepth())

	return &environment{cfg: cfg, logger: logger, graph: g}, nil
}

func newLogger(cfg *config.Config, verbose bool, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	}
	return slog.New(slog.NewTextHandler(w, hopts)), nil
}

func (e *environment) compiler() *querysql.Compiler {
	return querysql.NewCompiler(e.graph, querysql.WithLogger(e.logger))
}

// openStore opens the configured database and makes sure the schema's
// tables exist.
func (e *environment) openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(e.cfg.Database)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("open %s: %v", e.cfg.Database, err)}
	}
	if err := st.CreateTables(ctx, e.graph); err != nil {
		st.Close()
		return nil, &LoadError{Code: ErrCodeDatabase, Message: fmt.Sprintf("create tables: %v", err)}
	}
	e.logger.Debug("database ready", "path", e.cfg.Database)
	return st, nil
}

// runnerOptions maps configuration onto runner options.
func (e *environment) runnerOptions() []runner.Option {
	return []runner.Option{
		runner.WithSessionArgs(e.cfg.Query.SessionArgs...),
		runner.WithAllowUnbound(e.cfg.Query.AllowUnbound),
		runner.WithParallelism(e.cfg.Query.Parallelism),
		runner.WithLogger(e.logger),
	}
}

// readShape reads a query shape from a file, from stdin when arg is "-",
// or inline when arg starts with "{".
func readShape(arg string, stdin io.Reader) (*queryir.Shape, error) {
	var (
		data []byte
		err  error
	)
	switch {
	case arg == "-":
		data, err = io.ReadAll(stdin)
	case strings.HasPrefix(strings.TrimSpace(arg), "{"):
		data = []byte(arg)
	default:
		data, err = os.ReadFile(arg)
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeShape, Message: fmt.Sprintf("read shape: %v", err)}
	}
	return queryir.ParseShape(data)
}

// parseObject decodes a JSON object flag value. Empty means no values.
func parseObject(flag, value string) (map[string]any, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(value)))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, &LoadError{Code: ErrCodeInput, Message: fmt.Sprintf("--%s must be a JSON object: %v", flag, err)}
	}
	return m, nil
}

// Package runner drives a query through the whole pipeline: compile, bind,
// batch, execute, reassemble. It also keeps live subscriptions current as
// deltas arrive.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/bind"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/result"
	"github.com/roach88/relq/internal/schema"
)

// Executor runs a statement batch atomically, answering one ResultSet per
// statement. Implemented by *store.Store.
type Executor interface {
	ExecBatch(ctx context.Context, stmts []ir.Statement) ([]ir.ResultSet, error)
}

// RowSource reads full rows by primary key. Implemented by *store.Store.
type RowSource interface {
	SelectRows(ctx context.Context, g *schema.Graph, table string, ids []string) ([]ir.Row, error)
}

// Runner executes compiled queries against an Executor.
type Runner struct {
	compiler     *querysql.Compiler
	exec         Executor
	rows         RowSource
	local        LocalStore
	tables       TableWriter
	sessionArgs  []string
	allowUnbound bool
	parallelism  int
	engineOpts   []engine.Option
	logger       *slog.Logger

	live *live
}

// Option configures a Runner.
type Option func(*Runner)

// WithSessionArgs sets which $session names may be bound from the session
// context. Session values under other names are ignored.
func WithSessionArgs(names ...string) Option {
	return func(r *Runner) {
		r.sessionArgs = append([]string(nil), names...)
	}
}

// WithAllowUnbound leaves placeholders without a value unbound instead of
// failing with MissingParam. The engine binds them as NULL.
func WithAllowUnbound(allow bool) Option {
	return func(r *Runner) {
		r.allowUnbound = allow
	}
}

// WithRowSource sets where subscriptions read the observed values of the
// rows in a fresh result.
func WithRowSource(s RowSource) Option {
	return func(r *Runner) {
		r.rows = s
	}
}

// WithLocalStore mirrors ingested deltas into a local row store.
func WithLocalStore(l LocalStore) Option {
	return func(r *Runner) {
		r.local = l
	}
}

// WithTableWriter applies ingested deltas to the queryable tables.
func WithTableWriter(w TableWriter) Option {
	return func(r *Runner) {
		r.tables = w
	}
}

// WithParallelism bounds how many subscriptions are evaluated
// concurrently per delta. Zero or less means unbounded.
func WithParallelism(n int) Option {
	return func(r *Runner) {
		r.parallelism = n
	}
}

// WithEngineOptions passes options to the decision engine behind
// subscriptions, applied after the runner's own.
func WithEngineOptions(opts ...engine.Option) Option {
	return func(r *Runner) {
		r.engineOpts = append(r.engineOpts, opts...)
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// New creates a Runner.
func New(c *querysql.Compiler, exec Executor, opts ...Option) *Runner {
	r := &Runner{
		compiler: c,
		exec:     exec,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.live = newLive(r)
	return r
}

// Compiler returns the compiler queries run through.
func (r *Runner) Compiler() *querysql.Compiler {
	return r.compiler
}

// Query runs a shape once and returns its envelope.
func (r *Runner) Query(ctx context.Context, s *queryir.Shape, input, session map[string]any) (result.Envelope, error) {
	plan, err := r.compiler.Compile(s)
	if err != nil {
		return nil, err
	}
	args, err := r.Bind(plan, input, session)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, plan, args)
}

// Bind resolves the arguments of plan from user input and session context.
func (r *Runner) Bind(plan *querysql.Plan, input, session map[string]any) (ir.ArgMap, error) {
	return bind.Bind(input, session, r.sessionArgs, plan.Defaults)
}

// Execute batches a compiled plan with bound args, runs it as one atomic
// batch and reassembles the envelope.
func (r *Runner) Execute(ctx context.Context, plan *querysql.Plan, args ir.ArgMap) (result.Envelope, error) {
	var opts []bind.BatchOption
	if r.allowUnbound {
		opts = append(opts, bind.AllowUnbound())
	}
	stmts, err := bind.Batch(plan.Fragments, args, opts...)
	if err != nil {
		return nil, err
	}

	results, err := r.exec.ExecBatch(ctx, stmts)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", shortFP(plan), err)
	}

	env, err := result.Reassemble(plan.Fragments, results)
	if err != nil {
		return nil, fmt.Errorf("reassemble %s: %w", shortFP(plan), err)
	}
	r.logger.Debug("query executed", "plan", shortFP(plan), "fragments", len(plan.Fragments))
	return env, nil
}

func shortFP(plan *querysql.Plan) string {
	if len(plan.Fingerprint) < 8 {
		return plan.Fingerprint
	}
	return plan.Fingerprint[:8]
}

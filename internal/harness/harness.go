package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/runner"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// QueryID is the id every scenario subscription gets.
const QueryID = "q1"

// Harness is the scenario execution environment: a fresh database, a
// runner wired for live queries and a deterministic logical clock.
type Harness struct {
	store  *store.Store
	graph  *schema.Graph
	runner *runner.Runner
	clock  *engine.Clock
	logger *slog.Logger
}

// Run executes a scenario and returns the result. The returned error
// reports a broken scenario (unreadable schema, failing seed); a query
// that behaves unexpectedly is a failing Result instead.
//
// Execution flow:
//  1. Create a fresh in-memory database with the schema's tables
//  2. Insert the seed rows
//  3. Compile and subscribe to the query
//  4. Ingest each step's delta and check its expect clause
//  5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	g, err := schema.LoadFile(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if err := st.CreateTables(ctx, g); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		store: st,
		graph: g,
		clock: engine.NewClock(),
		runner: runner.New(querysql.NewCompiler(g, querysql.WithLogger(logger)), st,
			runner.WithSessionArgs(scenario.SessionArgs...),
			runner.WithRowSource(st),
			runner.WithLocalStore(st.Local()),
			runner.WithTableWriter(st),
			runner.WithLogger(logger),
			runner.WithEngineOptions(engine.WithIDGenerator(engine.NewFixedGenerator(QueryID))),
		),
		logger: logger,
	}

	if err := h.seed(ctx, scenario.Seed); err != nil {
		return nil, err
	}

	result := NewResult()
	sub, ok := h.subscribe(ctx, scenario.Query, result)
	if ok {
		defer h.runner.Unsubscribe(sub.ID)
		if err := h.executeSteps(ctx, sub, scenario.Steps, result); err != nil {
			return nil, err
		}
	}

	actx := &AssertionContext{Store: st, Graph: g, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed inserts rows table by table in name order.
func (h *Harness) seed(ctx context.Context, seed map[string][]map[string]any) error {
	tables := make([]string, 0, len(seed))
	for t := range seed {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	for _, table := range tables {
		rows := make([]ir.Row, len(seed[table]))
		for i, r := range seed[table] {
			rows[i] = ir.Row(r)
		}
		if err := h.store.InsertRows(ctx, h.graph, table, rows); err != nil {
			return fmt.Errorf("seed %s: %w", table, err)
		}
		if _, err := h.store.Local().PutMany(ctx, table, rows); err != nil {
			return fmt.Errorf("seed %s: %w", table, err)
		}
	}
	return nil
}

// subscribe compiles and subscribes to the query, recording the compiled
// SQL and the initial result. It reports false when the query failed, as
// expected or not.
func (h *Harness) subscribe(ctx context.Context, q QuerySpec, result *Result) (*runner.Subscription, bool) {
	sub, err := h.subscribeShape(ctx, q, result)
	if err != nil {
		result.ErrorCode = string(ir.CodeOf(err))
		switch {
		case q.ExpectError == "":
			result.AddError(fmt.Sprintf("query failed: %v", err))
		case result.ErrorCode != q.ExpectError:
			result.AddError(fmt.Sprintf("query error: expected %s, got %v", q.ExpectError, err))
		}
		return nil, false
	}
	if q.ExpectError != "" {
		result.AddError(fmt.Sprintf("query error: expected %s, query succeeded", q.ExpectError))
	}

	result.Trace = append(result.Trace, TraceEvent{
		Type:     "subscribe",
		Seq:      h.clock.Next(),
		Tables:   sub.Plan.Tables(),
		Envelope: sub.Envelope(),
	})
	return sub, true
}

func (h *Harness) subscribeShape(ctx context.Context, q QuerySpec, result *Result) (*runner.Subscription, error) {
	shape, err := queryir.ParseShapeMap(q.Shape)
	if err != nil {
		return nil, err
	}

	plan, err := h.runner.Compiler().Compile(shape)
	if err != nil {
		return nil, err
	}
	result.Fingerprint = plan.Fingerprint
	for _, f := range plan.Fragments {
		result.SQL = append(result.SQL, fmt.Sprintf("-- %s\n%s;", f.ID, f.SQL))
	}

	return h.runner.Subscribe(ctx, shape, q.Input, q.Session, nil)
}

// executeSteps ingests each step's delta and checks its expect clause.
func (h *Harness) executeSteps(ctx context.Context, sub *runner.Subscription, steps []Step, result *Result) error {
	for i, step := range steps {
		d := step.AsDelta()
		outcomes, err := h.runner.Ingest(ctx, d)
		if err != nil {
			return fmt.Errorf("steps[%d]: ingest: %w", i, err)
		}

		var o engine.Outcome
		for _, candidate := range outcomes {
			if candidate.QueryID == sub.ID {
				o = candidate
			}
		}

		ev := TraceEvent{
			Type:     "delta",
			Seq:      h.clock.Next(),
			Tables:   d.Tables(),
			Decision: o.Decision.String(),
			Reason:   o.Reason,
			Patched:  o.Patched,
			Ignored:  o.Ignored,
			Skipped:  len(o.Malformed),
			Envelope: sub.Envelope(),
		}
		result.Trace = append(result.Trace, ev)

		if step.Expect != nil {
			for _, msg := range checkStep(ev, step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}
	return nil
}

func checkStep(ev TraceEvent, want *StepExpect) []string {
	var errs []string
	if want.Decision != "" && ev.Decision != want.Decision {
		errs = append(errs, fmt.Sprintf("decision: expected %s, got %s (reason %q)", want.Decision, ev.Decision, ev.Reason))
	}
	if want.Reason != "" && !strings.HasPrefix(ev.Reason, want.Reason) {
		errs = append(errs, fmt.Sprintf("reason: expected %q, got %q", want.Reason, ev.Reason))
	}
	checkCount := func(name string, want *int, got int) {
		if want != nil && *want != got {
			errs = append(errs, fmt.Sprintf("%s: expected %d, got %d", name, *want, got))
		}
	}
	checkCount("patched", want.Patched, ev.Patched)
	checkCount("ignored", want.Ignored, ev.Ignored)
	checkCount("skipped", want.Skipped, ev.Skipped)
	if want.Envelope != nil {
		if diff := envelopeDiff(want.Envelope, ev.Envelope); diff != "" {
			errs = append(errs, "envelope mismatch (-want +got):\n"+diff)
		}
	}
	return errs
}

package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/result"
	"github.com/roach88/relq/internal/schema"
)

// LocalStore keeps the latest version of every delta row, honoring
// updatedAt order. Implemented by *store.LocalStore.
type LocalStore interface {
	Get(ctx context.Context, table, id string) (ir.Row, bool, error)
	PutMany(ctx context.Context, table string, rows []ir.Row) (int, error)
	Delete(ctx context.Context, table, id string) error
}

// TableWriter applies row changes to the tables queries read. Implemented
// by *store.Store.
type TableWriter interface {
	InsertRows(ctx context.Context, g *schema.Graph, table string, rows []ir.Row) error
	DeleteRow(ctx context.Context, g *schema.Graph, table string, id any) error
}

// Update is delivered to a subscriber whenever its result changes.
type Update struct {
	QueryID  string
	Envelope result.Envelope
	// Reexecuted is false when the envelope was patched in place.
	Reexecuted bool
	// Err is set when re-execution failed; Envelope is nil then.
	Err error
}

// Subscription is a live query kept current by Ingest.
type Subscription struct {
	ID   string
	Plan *querysql.Plan

	args   ir.ArgMap
	query  *engine.LiveQuery
	notify func(Update)
}

// Envelope returns a copy of the current result.
func (s *Subscription) Envelope() result.Envelope {
	return s.query.Envelope()
}

type live struct {
	r      *Runner
	engine *engine.Engine

	mu   sync.RWMutex
	subs map[string]*Subscription
}

func newLive(r *Runner) *live {
	opts := append([]engine.Option{
		engine.WithLogger(r.logger),
		engine.WithParallelism(r.parallelism),
	}, r.engineOpts...)
	return &live{
		r:      r,
		engine: engine.New(opts...),
		subs:   make(map[string]*Subscription),
	}
}

// Engine returns the decision engine behind subscriptions.
func (r *Runner) Engine() *engine.Engine {
	return r.live.engine
}

// Subscribe runs a shape and keeps its result current. notify, if not nil,
// is called on the ingesting goroutine after every change to the result;
// the initial result is available from Subscription.Envelope.
func (r *Runner) Subscribe(ctx context.Context, s *queryir.Shape, input, session map[string]any, notify func(Update)) (*Subscription, error) {
	plan, err := r.compiler.Compile(s)
	if err != nil {
		return nil, err
	}
	args, err := r.Bind(plan, input, session)
	if err != nil {
		return nil, err
	}

	q := r.live.engine.Register(plan.Resolved)
	sub := &Subscription{ID: q.ID, Plan: plan, args: args, query: q, notify: notify}

	r.live.mu.Lock()
	r.live.subs[sub.ID] = sub
	r.live.mu.Unlock()

	if err := r.refresh(ctx, sub); err != nil {
		r.Unsubscribe(sub.ID)
		return nil, err
	}
	r.logger.Info("subscribed", "query", sub.ID, "tables", q.TablesTouched)
	return sub, nil
}

// Unsubscribe drops a subscription. Returns false for an unknown id.
func (r *Runner) Unsubscribe(id string) bool {
	r.live.mu.Lock()
	delete(r.live.subs, id)
	r.live.mu.Unlock()
	return r.live.engine.Unregister(id)
}

// refresh re-executes a subscription and installs the result with the
// observed values of every row in it.
func (r *Runner) refresh(ctx context.Context, sub *Subscription) error {
	env, err := r.Execute(ctx, sub.Plan, sub.args)
	if err != nil {
		return err
	}

	var rows map[string][]ir.Row
	if r.rows != nil {
		rows = make(map[string][]ir.Row)
		for table, ids := range engine.EnvelopeIDs(sub.Plan.Resolved, env) {
			got, err := r.rows.SelectRows(ctx, r.compiler.Graph(), table, ids)
			if err != nil {
				return fmt.Errorf("observe %s: %w", table, err)
			}
			rows[table] = got
		}
	}
	return r.live.engine.Refresh(sub.ID, env, rows)
}

// Ingest applies a delta: rows go to the local store and the queryable
// tables, then every subscription is decided and re-executed or patched.
// Deltas must be ingested in commit order, one at a time.
func (r *Runner) Ingest(ctx context.Context, d ir.Delta) ([]engine.Outcome, error) {
	if err := r.write(ctx, d); err != nil {
		return nil, err
	}

	outcomes, err := r.live.engine.Apply(ctx, d)
	if err != nil {
		return nil, err
	}
	r.handle(ctx, outcomes)
	return outcomes, nil
}

// Listen ingests deltas from a channel until it closes or ctx is done.
// A failed delta is logged and skipped.
func (r *Runner) Listen(ctx context.Context, deltas <-chan ir.Delta) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				return nil
			}
			if _, err := r.Ingest(ctx, d); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Error("delta failed", "tables", d.Tables(), "error", err)
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, outcomes []engine.Outcome) {
	for _, o := range outcomes {
		r.live.mu.RLock()
		sub, ok := r.live.subs[o.QueryID]
		r.live.mu.RUnlock()
		if !ok {
			continue
		}

		switch {
		case o.Decision == engine.ReExecuteFull:
			r.logger.Debug("re-executing", "query", o.QueryID, "reason", o.Reason, "table", o.Table, "row", o.RowID)
			if err := r.refresh(ctx, sub); err != nil {
				if engine.IsUnknownQuery(err) {
					continue
				}
				r.logger.Error("re-execution failed", "query", o.QueryID, "error", err)
				sub.deliver(Update{QueryID: o.QueryID, Reexecuted: true, Err: err})
				continue
			}
			sub.deliver(Update{QueryID: o.QueryID, Envelope: sub.Envelope(), Reexecuted: true})
		case o.Patched > 0:
			sub.deliver(Update{QueryID: o.QueryID, Envelope: sub.Envelope()})
		}
	}
}

func (s *Subscription) deliver(u Update) {
	if s.notify != nil {
		s.notify(u)
	}
}

// write mirrors a delta into the local store and the queryable tables.
// With a local store, only the winning version of each row (by updatedAt)
// reaches the tables.
func (r *Runner) write(ctx context.Context, d ir.Delta) error {
	if r.local == nil && r.tables == nil {
		return nil
	}
	g := r.compiler.Graph()

	for _, td := range d {
		tid, known := g.TableByName(td.Table)

		rows := validRows(td.Changed)
		if r.local != nil && len(rows) > 0 {
			if _, err := r.local.PutMany(ctx, td.Table, rows); err != nil {
				return err
			}
			winners := make([]ir.Row, 0, len(rows))
			seen := make(map[string]bool, len(rows))
			for _, row := range rows {
				id, _ := row.ID()
				if seen[id] {
					continue
				}
				seen[id] = true
				stored, ok, err := r.local.Get(ctx, td.Table, id)
				if err != nil {
					return err
				}
				if ok {
					winners = append(winners, stored)
				}
			}
			rows = winners
		}

		if r.tables != nil && known && len(rows) > 0 {
			if err := r.tables.InsertRows(ctx, g, td.Table, projectRows(g.Table(tid), rows)); err != nil {
				return err
			}
		}

		for _, raw := range td.Removed {
			id, ok := ir.NormalizeID(raw)
			if !ok {
				continue
			}
			if r.local != nil {
				if err := r.local.Delete(ctx, td.Table, id); err != nil {
					return err
				}
			}
			if r.tables != nil && known {
				if err := r.tables.DeleteRow(ctx, g, td.Table, id); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// validRows drops rows without a usable id or updatedAt. The engine
// reports them; the stores never see them.
func validRows(rows []ir.Row) []ir.Row {
	out := make([]ir.Row, 0, len(rows))
	for _, row := range rows {
		_, okID := row.ID()
		_, okTS := row.UpdatedAt()
		if okID && okTS {
			out = append(out, row)
		}
	}
	return out
}

// projectRows keeps only the fields the table declares.
func projectRows(t *schema.ResolvedTable, rows []ir.Row) []ir.Row {
	out := make([]ir.Row, len(rows))
	for i, row := range rows {
		p := make(ir.Row, len(row))
		for k, v := range row {
			if t.HasField(k) {
				p[k] = v
			}
		}
		out[i] = p
	}
	return out
}

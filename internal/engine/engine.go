package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/result"
)

// Handler receives the outcomes of one delta processed by Run, in
// registration order. It runs on the Run goroutine, so a handler that
// re-executes queries and calls Refresh sees deltas strictly in order.
type Handler func(ctx context.Context, d ir.Delta, outcomes []Outcome)

// Engine is the live query registry and delta loop.
//
// Thread-safety model:
//   - Register, Unregister, Get, Refresh, Enqueue: safe from any goroutine
//   - Apply: safe from any goroutine; calls are serialized
//   - Run: must be called from exactly one goroutine
type Engine struct {
	clock       *Clock
	ids         IDGenerator
	logger      *slog.Logger
	handler     Handler
	parallelism int

	mu      sync.RWMutex
	queries map[string]*LiveQuery
	nextSeq int64

	applyMu sync.Mutex
	queue   *deltaQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the arrival clock. Default: a new Clock at 0.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets how live query ids are generated.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithHandler sets the callback Run invokes after each delta.
func WithHandler(h Handler) Option {
	return func(e *Engine) {
		e.handler = h
	}
}

// WithParallelism bounds how many queries evaluate one delta at once.
// n <= 0 means unbounded.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		e.parallelism = n
	}
}

// New creates an Engine with no registered queries.
func New(opts ...Option) *Engine {
	e := &Engine{
		clock:   NewClock(),
		ids:     UUIDv7Generator{},
		logger:  slog.Default(),
		queries: make(map[string]*LiveQuery),
		queue:   newDeltaQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register starts tracking a resolved shape and returns its LiveQuery.
// Until Refresh installs a first result, every changed row on a tracked
// table answers ReExecuteFull.
func (e *Engine) Register(r *queryir.Resolved) *LiveQuery {
	q := NewLiveQuery(e.ids.Generate(), r)

	e.mu.Lock()
	e.nextSeq++
	q.seq = e.nextSeq
	e.queries[q.ID] = q
	e.mu.Unlock()

	e.logger.Debug("registered live query", "query", q.ID, "tables", q.TablesTouched)
	return q
}

// Unregister stops tracking a query. An evaluation already in flight for
// it is discarded. Returns false for an unknown id.
func (e *Engine) Unregister(id string) bool {
	e.mu.Lock()
	q, ok := e.queries[id]
	delete(e.queries, id)
	e.mu.Unlock()

	if !ok {
		return false
	}
	q.markRemoved()
	e.logger.Debug("unregistered live query", "query", id)
	return true
}

// Get returns a registered query.
func (e *Engine) Get(id string) (*LiveQuery, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	q, ok := e.queries[id]
	return q, ok
}

// Len returns the number of registered queries.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.queries)
}

// Refresh installs a freshly executed result for a query: the envelope
// becomes the cached result, its ids become the snapshot, and rows supply
// the observed field values of those ids. Clears the stale flag.
func (e *Engine) Refresh(id string, env result.Envelope, rows map[string][]ir.Row) error {
	q, ok := e.Get(id)
	if !ok {
		return &QueryError{QueryID: id, Err: ErrUnknownQuery}
	}
	if !q.refresh(env, rows, e.clock.Next()) {
		return &QueryError{QueryID: id, Err: ErrUnknownQuery}
	}
	return nil
}

// Apply evaluates one delta against every registered query, in parallel,
// and returns their outcomes in registration order. Queries unregistered
// during evaluation are left out.
//
// If ctx is cancelled before a query was evaluated, that query is marked
// stale (it missed a delta) and Apply returns the context error.
func (e *Engine) Apply(ctx context.Context, d ir.Delta) ([]Outcome, error) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	arrival := e.clock.Next()
	queries := e.registered()

	outcomes := make([]Outcome, len(queries))
	kept := make([]bool, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	if e.parallelism > 0 {
		g.SetLimit(e.parallelism)
	}
	for i, q := range queries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				q.markStale()
				return err
			}
			outcomes[i], kept[i] = q.apply(d, arrival, e.logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]Outcome, 0, len(queries))
	reexec := 0
	for i, o := range outcomes {
		if !kept[i] {
			continue
		}
		if o.Decision == ReExecuteFull {
			reexec++
		}
		out = append(out, o)
	}
	e.logger.Debug("applied delta", "arrival", arrival, "tables", d.Tables(), "queries", len(out), "reexecute", reexec)
	return out, nil
}

// registered returns the live queries in registration order.
func (e *Engine) registered() []*LiveQuery {
	e.mu.RLock()
	qs := make([]*LiveQuery, 0, len(e.queries))
	for _, q := range e.queries {
		qs = append(qs, q)
	}
	e.mu.RUnlock()

	sort.Slice(qs, func(i, j int) bool { return qs[i].seq < qs[j].seq })
	return qs
}

// Enqueue submits a delta to the Run loop. Returns false once the engine
// is stopped.
func (e *Engine) Enqueue(d ir.Delta) bool {
	return e.queue.Enqueue(d)
}

// QueueLen returns the number of deltas waiting for Run.
func (e *Engine) QueueLen() int {
	return e.queue.Len()
}

// Run applies queued deltas in FIFO order until ctx is cancelled or Stop
// is called and the queue drains.
//
// A failed delta is logged and the loop continues; the affected queries
// are already marked stale.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		if d, ok := e.queue.TryDequeue(); ok {
			outcomes, err := e.Apply(ctx, d)
			if err != nil {
				if ctx.Err() != nil {
					e.logger.Info("engine stopping: context cancelled")
					e.queue.Close()
					return ctx.Err()
				}
				e.logger.Error("delta failed", "tables", d.Tables(), "error", err)
				continue
			}
			if e.handler != nil {
				e.handler(ctx, d, outcomes)
			}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Close; a stale signal from an
			// already-consumed delta just loops back to TryDequeue.
			if e.queue.isClosed() && e.queue.Len() == 0 {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns after applying what was queued.
func (e *Engine) Stop() {
	e.queue.Close()
}

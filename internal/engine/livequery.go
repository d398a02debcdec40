package engine

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/result"
)

// Decision is the verdict for one live query and one delta.
type Decision int

const (
	// NoReExecute means the cached result is still valid, possibly after an
	// in-place patch.
	NoReExecute Decision = iota
	// ReExecuteFull means the query must be run again.
	ReExecuteFull
)

func (d Decision) String() string {
	switch d {
	case NoReExecute:
		return "NoReExecute"
	case ReExecuteFull:
		return "ReExecuteFull"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Reasons reported on an Outcome.
const (
	ReasonUntracked  = "no tracked table"
	ReasonUnseenRow  = "unseen row"
	ReasonRemoved    = "known row removed"
	ReasonDependency = "dependency field changed"
	ReasonStale      = "awaiting refresh"
)

// Outcome reports what one delta did to one live query.
type Outcome struct {
	QueryID  string
	Decision Decision
	// Reason names the rule that decided. Empty when the delta was absorbed
	// into the snapshot.
	Reason string
	// Table and RowID locate the row that triggered a re-execution.
	Table string
	RowID string
	// Patched counts envelope fields rewritten in place.
	Patched int
	// Ignored counts rows older than the snapshot.
	Ignored int
	// Malformed lists rows that were skipped.
	Malformed []*ir.Error
}

type entry struct {
	// values is nil when only the id is known.
	values    ir.Row
	updatedAt int64
	arrival   int64
}

// LiveQuery is a registered query plus everything needed to decide cheaply
// whether a delta affects it.
type LiveQuery struct {
	ID       string
	Resolved *queryir.Resolved

	// TablesTouched lists every table the shape reads.
	TablesTouched []string
	// WhereFieldDependencies maps a table to the fields its where clauses
	// read.
	WhereFieldDependencies map[string][]string
	// StructuralFieldDependencies maps a table to its sort fields and link
	// key columns.
	StructuralFieldDependencies map[string][]string

	seq    int64
	tables map[string]bool
	deps   map[string][]string

	mu       sync.Mutex
	known    map[string]map[string]entry
	envelope result.Envelope
	stale    bool
	removed  bool
}

// NewLiveQuery derives the dependency sets of a resolved shape. The
// snapshot starts empty, so any changed row on a tracked table triggers a
// re-execution until Refresh installs a result.
func NewLiveQuery(id string, r *queryir.Resolved) *LiveQuery {
	q := &LiveQuery{
		ID:                          id,
		Resolved:                    r,
		TablesTouched:               queryir.TablesTouched(r),
		WhereFieldDependencies:      queryir.Dependencies(r),
		StructuralFieldDependencies: queryir.StructuralDependencies(r),
		tables:                      make(map[string]bool),
		deps:                        make(map[string][]string),
		known:                       make(map[string]map[string]entry),
	}
	for _, t := range q.TablesTouched {
		q.tables[t] = true
	}
	for t, fields := range q.WhereFieldDependencies {
		q.deps[t] = append(q.deps[t], fields...)
	}
	for t, fields := range q.StructuralFieldDependencies {
		q.deps[t] = append(q.deps[t], fields...)
	}
	for t := range q.deps {
		sort.Strings(q.deps[t])
		q.deps[t] = compactStrings(q.deps[t])
	}
	return q
}

// Envelope returns a copy of the cached result, or nil before the first
// Refresh.
func (q *LiveQuery) Envelope() result.Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.envelope == nil {
		return nil
	}
	return q.envelope.Clone()
}

// Stale reports whether a re-execution was requested and not yet answered
// by Refresh.
func (q *LiveQuery) Stale() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stale
}

// Known returns the sorted ids in the snapshot for table.
func (q *LiveQuery) Known(table string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.known[table]))
	for id := range q.known[table] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decide evaluates d against the current snapshot without changing it.
func (q *LiveQuery) Decide(d ir.Delta) Outcome {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evaluate(d, math.MaxInt64).outcome
}

// apply decides and updates the snapshot atomically. It returns false when
// the query was unregistered, in which case nothing changed.
func (q *LiveQuery) apply(d ir.Delta, arrival int64, logger *slog.Logger) (Outcome, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.removed {
		return Outcome{}, false
	}

	ev := q.evaluate(d, arrival)
	for _, e := range ev.outcome.Malformed {
		logger.Warn("skipping malformed delta row", "query", q.ID, "table", e.Table, "error", e.Message)
	}

	for table, byID := range ev.pending {
		snap := q.snapshot(table)
		for id, en := range byID {
			if en.values == nil {
				delete(snap, id)
				continue
			}
			snap[id] = en
		}
	}

	if ev.outcome.Decision == ReExecuteFull {
		q.stale = true
		return ev.outcome, true
	}
	if q.envelope != nil {
		ev.outcome.Patched = patchEnvelope(q.Resolved, q.envelope, ev.changed)
	}
	return ev.outcome, true
}

// refresh replaces the cached result and the snapshot. Every id present
// in env becomes known; rows supply the last observed values.
func (q *LiveQuery) refresh(env result.Envelope, rows map[string][]ir.Row, arrival int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.removed {
		return false
	}

	q.known = make(map[string]map[string]entry)
	for table, ids := range EnvelopeIDs(q.Resolved, env) {
		snap := q.snapshot(table)
		for _, id := range ids {
			snap[id] = entry{arrival: arrival}
		}
	}
	for table, tableRows := range rows {
		snap := q.snapshot(table)
		for _, row := range tableRows {
			id, ok := row.ID()
			if !ok {
				continue
			}
			ts, _ := row.UpdatedAt()
			snap[id] = entry{values: copyRow(row), updatedAt: ts, arrival: arrival}
		}
	}
	q.envelope = env.Clone()
	q.stale = false
	return true
}

func (q *LiveQuery) markStale() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.removed {
		q.stale = true
	}
}

func (q *LiveQuery) markRemoved() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = true
}

func (q *LiveQuery) snapshot(table string) map[string]entry {
	snap, ok := q.known[table]
	if !ok {
		snap = make(map[string]entry)
		q.known[table] = snap
	}
	return snap
}

type evaluation struct {
	outcome Outcome
	// pending holds snapshot writes; an entry with nil values is a removal.
	pending map[string]map[string]entry
	// changed holds rows of known ids to patch into the envelope.
	changed map[string]map[string]ir.Row
}

// evaluate must be called with q.mu held.
func (q *LiveQuery) evaluate(d ir.Delta, arrival int64) evaluation {
	ev := evaluation{
		outcome: Outcome{QueryID: q.ID, Decision: NoReExecute},
		pending: make(map[string]map[string]entry),
		changed: make(map[string]map[string]ir.Row),
	}
	trigger := func(reason, table, id string) {
		if ev.outcome.Decision == ReExecuteFull {
			return
		}
		ev.outcome.Decision = ReExecuteFull
		ev.outcome.Reason = reason
		ev.outcome.Table = table
		ev.outcome.RowID = id
	}

	touched := false
	for _, td := range d {
		if !q.tables[td.Table] {
			continue
		}
		touched = true

		lookup := func(id string) (entry, bool) {
			if en, ok := ev.pending[td.Table][id]; ok {
				return en, en.values != nil
			}
			en, ok := q.known[td.Table][id]
			return en, ok
		}
		stage := func(id string, en entry) {
			byID, ok := ev.pending[td.Table]
			if !ok {
				byID = make(map[string]entry)
				ev.pending[td.Table] = byID
			}
			byID[id] = en
		}

		for i, row := range td.Changed {
			id, okID := row.ID()
			ts, okTS := row.UpdatedAt()
			if !okID || !okTS {
				ev.outcome.Malformed = append(ev.outcome.Malformed, malformedRow(td.Table, i, okID))
				continue
			}

			prev, known := lookup(id)
			if !known {
				trigger(ReasonUnseenRow, td.Table, id)
				continue
			}
			if ts < prev.updatedAt || (ts == prev.updatedAt && arrival < prev.arrival) {
				ev.outcome.Ignored++
				continue
			}
			if field, ok := q.dependencyChanged(td.Table, prev.values, row); ok {
				trigger(ReasonDependency+": "+field, td.Table, id)
			}

			merged := mergeRow(prev.values, row)
			stage(id, entry{values: merged, updatedAt: ts, arrival: arrival})
			byID, ok := ev.changed[td.Table]
			if !ok {
				byID = make(map[string]ir.Row)
				ev.changed[td.Table] = byID
			}
			byID[id] = merged
		}

		for _, raw := range td.Removed {
			id, ok := ir.NormalizeID(raw)
			if !ok {
				ev.outcome.Malformed = append(ev.outcome.Malformed, &ir.Error{
					Code:    ir.CodeMalformedDelta,
					Message: fmt.Sprintf("removed id %v is not usable", raw),
					Table:   td.Table,
				})
				continue
			}
			if _, known := lookup(id); !known {
				continue
			}
			trigger(ReasonRemoved, td.Table, id)
			stage(id, entry{})
			delete(ev.changed[td.Table], id)
		}
	}

	if !touched {
		ev.outcome.Reason = ReasonUntracked
		return ev
	}
	if q.stale {
		trigger(ReasonStale, "", "")
	}
	return ev
}

// dependencyChanged reports the first dependency field whose value in row
// differs from prev. A field the row does not carry is unchanged; a field
// with no prior value cannot be proven unchanged.
func (q *LiveQuery) dependencyChanged(table string, prev, row ir.Row) (string, bool) {
	for _, field := range q.deps[table] {
		next, carried := row[field]
		if !carried {
			continue
		}
		old, had := prev[field]
		if !had || !ir.Equal(old, next) {
			return field, true
		}
	}
	return "", false
}

func malformedRow(table string, index int, hasID bool) *ir.Error {
	missing := "updatedAt"
	if !hasID {
		missing = "id"
	}
	return &ir.Error{
		Code:    ir.CodeMalformedDelta,
		Message: fmt.Sprintf("changed row %d has no usable %s", index, missing),
		Table:   table,
	}
}

func mergeRow(prev, next ir.Row) ir.Row {
	out := make(ir.Row, len(prev)+len(next))
	for k, v := range prev {
		out[k] = v
	}
	for k, v := range next {
		out[k] = v
	}
	return out
}

func copyRow(r ir.Row) ir.Row {
	return mergeRow(nil, r)
}

func compactStrings(s []string) []string {
	if len(s) < 2 {
		return s
	}
	out := s[:1]
	for _, v := range s[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// Package engine decides, per live query, whether a delta of row changes
// requires re-running the query.
//
// A LiveQuery remembers which tables its shape reads, which fields its
// where clauses and structure depend on, and a snapshot of every row it
// has seen (table -> id -> values). Deciding is cheap and local:
//
//  1. A delta touching none of the query's tables -> NoReExecute.
//  2. A changed row whose id is not in the snapshot -> ReExecuteFull.
//  3. A known row whose dependency field changed -> ReExecuteFull.
//  4. Otherwise -> NoReExecute, and the cached envelope is patched in place.
//
// The engine never evaluates a predicate locally. Unseen rows always cause
// a re-run.
//
// Ordering:
// Deltas must be applied in commit order. Engine.Enqueue plus Engine.Run
// give a single-consumer FIFO loop; Engine.Apply serializes callers that
// bypass the queue. Each delta is stamped by a logical Clock so equal
// updatedAt values resolve to the latest arrival.
//
// Concurrency:
// One delta is evaluated against all registered queries in parallel. Each
// LiveQuery guards its snapshot with its own mutex, so the decision and the
// snapshot update happen atomically for that query.
package engine

// Package store provides the SQLite side of query execution.
//
// It plays two roles:
//   - Execution engine: ExecBatch runs a compiled query's statements in
//     one transaction, so every fragment reads the same snapshot and the
//     temp tables fragments create vanish when the batch ends.
//   - Local row store: LocalStore keeps the latest snapshot of each
//     delta row by (table, id), ordered by updatedAt.
//
// # Critical Patterns
//
// Atomic batches:
//   - A failing statement aborts the whole batch with an EngineError
//     naming the fragment; nothing is retried
//
// updatedAt ordering:
//   - A write older than the stored row is ignored
//   - Equal updatedAt: the later write wins
//   - Range reads order by updated_at ASC, id ASC COLLATE BINARY
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

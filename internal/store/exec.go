package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/ir"
)

// ExecBatch runs statements in order inside one transaction and returns one
// ResultSet per statement. Include statements are queried; the others are
// executed and yield an empty ResultSet.
//
// The transaction is always rolled back: the batch only reads, and temp
// tables created by fragments disappear with it. Any statement failure
// aborts the batch with an EngineError naming the fragment.
func (s *Store) ExecBatch(ctx context.Context, stmts []ir.Statement) ([]ir.ResultSet, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &ir.Error{Code: ir.CodeEngine, Message: "begin batch", Err: err}
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("batch rollback failed", "error", rbErr)
		}
	}()

	results := make([]ir.ResultSet, 0, len(stmts))
	for _, stmt := range stmts {
		args := make([]any, len(stmt.Args))
		for i, a := range stmt.Args {
			args[i] = sql.Named(a.Name, a.Value)
		}

		if !stmt.Include {
			if _, err := tx.ExecContext(ctx, stmt.SQL, args...); err != nil {
				return nil, engineErr(stmt, err)
			}
			results = append(results, ir.ResultSet{})
			continue
		}

		rs, err := queryResultSet(ctx, tx, stmt.SQL, args)
		if err != nil {
			return nil, engineErr(stmt, err)
		}
		results = append(results, rs)
	}

	slog.Debug("executed batch", "statements", len(stmts))
	return results, nil
}

func engineErr(stmt ir.Statement, err error) *ir.Error {
	return &ir.Error{
		Code:     ir.CodeEngine,
		Message:  "statement failed",
		Fragment: stmt.FragmentID,
		Err:      err,
	}
}

func queryResultSet(ctx context.Context, tx *sql.Tx, query string, args []any) (ir.ResultSet, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return ir.ResultSet{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return ir.ResultSet{}, fmt.Errorf("columns: %w", err)
	}

	rs := ir.ResultSet{Columns: cols, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return ir.ResultSet{}, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = values[i]
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ir.ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	return rs, nil
}

package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/relq/internal/ir"
)

// LocalStore keeps the latest snapshot of each delta row by (table, id).
type LocalStore struct {
	db *sql.DB
}

// Local returns the local row store backed by s.
func (s *Store) Local() *LocalStore {
	return &LocalStore{db: s.db}
}

// Get returns the stored row, or false if there is none.
func (l *LocalStore) Get(ctx context.Context, table, id string) (ir.Row, bool, error) {
	var data string
	err := l.db.QueryRowContext(ctx, `
		SELECT data FROM local_rows
		WHERE table_name = ? AND id = ?
	`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	row, err := decodeRow(data)
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return row, true, nil
}

// PutMany upserts rows in one transaction and returns how many were
// written. A row older than the stored one (lower updatedAt) is ignored; on
// equal updatedAt the later write wins. Rows without a usable id or
// updatedAt are skipped and logged.
func (l *LocalStore) PutMany(ctx context.Context, table string, rows []ir.Row) (int, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("put rows: %w", err)
	}
	defer tx.Rollback()

	written := 0
	for i, row := range rows {
		id, okID := row.ID()
		ts, okTS := row.UpdatedAt()
		if !okID || !okTS {
			slog.Warn("skipping malformed row", "table", table, "index", i, "has_id", okID, "has_updated_at", okTS)
			continue
		}
		data, err := ir.MarshalCanonical(row)
		if err != nil {
			return 0, fmt.Errorf("put %s/%s: %w", table, id, err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO local_rows (table_name, id, updated_at, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(table_name, id) DO UPDATE
			SET updated_at = excluded.updated_at, data = excluded.data
			WHERE excluded.updated_at >= local_rows.updated_at
		`, table, id, ts, string(data))
		if err != nil {
			return 0, fmt.Errorf("put %s/%s: %w", table, id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("put %s/%s: %w", table, id, err)
		}
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("put rows: %w", err)
	}
	return written, nil
}

// Delete removes a row. Deleting a missing row is not an error.
func (l *LocalStore) Delete(ctx context.Context, table, id string) error {
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM local_rows WHERE table_name = ? AND id = ?
	`, table, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

// Range returns rows of table with updatedAt >= since, oldest first.
// limit <= 0 means no limit.
func (l *LocalStore) Range(ctx context.Context, table string, since int64, limit int) ([]ir.Row, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT data FROM local_rows
		WHERE table_name = ? AND updated_at >= ?
		ORDER BY updated_at ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, table, since, limit)
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", table, err)
	}
	defer rows.Close()

	out := []ir.Row{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("range %s: %w", table, err)
		}
		row, err := decodeRow(data)
		if err != nil {
			return nil, fmt.Errorf("range %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("range %s: %w", table, err)
	}
	return out, nil
}

func decodeRow(data string) (ir.Row, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var row ir.Row
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

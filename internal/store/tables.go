package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
)

var columnTypes = map[schema.FieldType]string{
	schema.TypeText:    "TEXT",
	schema.TypeInteger: "INTEGER",
	schema.TypeReal:    "REAL",
	schema.TypeBoolean: "INTEGER",
	schema.TypeJSON:    "TEXT",
}

// CreateTables creates one table per graph table, with its declared
// indices. Existing tables are left alone.
func (s *Store) CreateTables(ctx context.Context, g *schema.Graph) error {
	for _, t := range g.Tables() {
		cols := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			col := quoteIdent(f.Name) + " " + columnTypes[f.Type]
			if f.Name == t.PrimaryKey {
				col += " PRIMARY KEY"
			}
			cols[i] = col
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(t.Name), strings.Join(cols, ", "))
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}

		for _, idx := range t.Indices() {
			fields := make([]string, len(idx.Fields))
			for i, f := range idx.Fields {
				fields[i] = quoteIdent(f)
			}
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			name := idx.Name
			if name == "" {
				name = t.Name + "_" + strings.Join(idx.Fields, "_")
			}
			ddl := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
				unique, quoteIdent(name), quoteIdent(t.Name), strings.Join(fields, ", "))
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("create index %s: %w", name, err)
			}
		}
	}
	return nil
}

// InsertRows upserts rows into an application table. Each row writes only
// the columns it carries; an existing row keeps its other columns. Keys
// that are not fields of the table are an error. Objects and arrays are
// stored as JSON text.
func (s *Store) InsertRows(ctx context.Context, g *schema.Graph, table string, rows []ir.Row) error {
	tid, ok := g.TableByName(table)
	if !ok {
		return ir.Errorf(ir.CodeUnknownRelation, "unknown table %q", table)
	}
	t := g.Table(tid)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			if !t.HasField(k) {
				return &ir.Error{Code: ir.CodeUnknownField, Message: fmt.Sprintf("unknown field %s.%s", table, k), Table: table}
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		cols := make([]string, len(keys))
		marks := make([]string, len(keys))
		args := make([]any, len(keys))
		var sets []string
		for i, k := range keys {
			cols[i] = quoteIdent(k)
			marks[i] = "?"
			v, err := columnValue(row[k])
			if err != nil {
				return fmt.Errorf("insert %s.%s: %w", table, k, err)
			}
			args[i] = v
			if k != t.PrimaryKey {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", cols[i], cols[i]))
			}
		}
		onConflict := "DO NOTHING"
		if len(sets) > 0 {
			onConflict = "DO UPDATE SET " + strings.Join(sets, ", ")
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) %s",
			quoteIdent(table), strings.Join(cols, ", "), strings.Join(marks, ", "),
			quoteIdent(t.PrimaryKey), onConflict)
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func columnValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		return f, err
	default:
		return v, nil
	}
}

// DeleteRow deletes one row of an application table by primary key.
func (s *Store) DeleteRow(ctx context.Context, g *schema.Graph, table string, id any) error {
	tid, ok := g.TableByName(table)
	if !ok {
		return ir.Errorf(ir.CodeUnknownRelation, "unknown table %q", table)
	}
	t := g.Table(tid)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(t.Name), quoteIdent(t.PrimaryKey))
	if _, err := s.db.ExecContext(ctx, stmt, id); err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return nil
}

// SelectRows reads full rows of an application table by primary key, in
// primary key order. Booleans come back as bool and JSON fields decoded.
// Unknown ids are skipped.
func (s *Store) SelectRows(ctx context.Context, g *schema.Graph, table string, ids []string) ([]ir.Row, error) {
	tid, ok := g.TableByName(table)
	if !ok {
		return nil, ir.Errorf(ir.CodeUnknownRelation, "unknown table %q", table)
	}
	t := g.Table(tid)
	if len(ids) == 0 {
		return []ir.Row{}, nil
	}

	idList, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = quoteIdent(f.Name)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (SELECT value FROM json_each(?)) ORDER BY %s",
		strings.Join(cols, ", "), quoteIdent(t.Name), quoteIdent(t.PrimaryKey), quoteIdent(t.PrimaryKey))

	rows, err := s.db.QueryContext(ctx, query, string(idList))
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	out := []ir.Row{}
	for rows.Next() {
		values := make([]any, len(t.Fields))
		ptrs := make([]any, len(values))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select from %s: %w", table, err)
		}
		row := make(ir.Row, len(t.Fields))
		for i, f := range t.Fields {
			row[f.Name] = rowValue(f, values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	return out, nil
}

// rowValue converts a scanned column to the value a delta would carry.
func rowValue(f schema.Field, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch f.Type {
	case schema.TypeBoolean:
		if n, ok := v.(int64); ok {
			return n != 0
		}
	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

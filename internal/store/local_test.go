package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
)

func TestLocalStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	l := createTestStore(t).Local()

	n, err := l.PutMany(ctx, "users", []ir.Row{
		{"id": "u1", "updatedAt": 10, "name": "Ada"},
		{"id": "u2", "updatedAt": 11, "name": "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, ok, err := l.Get(ctx, "users", "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ir.Row{"id": "u1", "updatedAt": json.Number("10"), "name": "Ada"}, row)

	_, ok, err = l.Get(ctx, "posts", "u1")
	require.NoError(t, err)
	assert.False(t, ok, "rows are scoped by table")

	require.NoError(t, l.Delete(ctx, "users", "u1"))
	require.NoError(t, l.Delete(ctx, "users", "u1"))
	_, ok, err = l.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStore_UpdatedAtOrdering(t *testing.T) {
	ctx := context.Background()
	l := createTestStore(t).Local()

	_, err := l.PutMany(ctx, "users", []ir.Row{{"id": "u1", "updatedAt": 20, "name": "v20"}})
	require.NoError(t, err)

	// older write is ignored
	n, err := l.PutMany(ctx, "users", []ir.Row{{"id": "u1", "updatedAt": 19, "name": "v19"}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	row, _, err := l.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "v20", row["name"])

	// equal updatedAt: later write wins
	n, err = l.PutMany(ctx, "users", []ir.Row{{"id": "u1", "updatedAt": 20, "name": "v20b"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	row, _, err = l.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "v20b", row["name"])

	// RFC 3339 timestamps are milliseconds too
	n, err = l.PutMany(ctx, "users", []ir.Row{{"id": "u1", "updatedAt": "1970-01-01T00:00:00.021Z", "name": "v21"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStore_SkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	l := createTestStore(t).Local()

	n, err := l.PutMany(ctx, "users", []ir.Row{
		{"name": "no id", "updatedAt": 1},
		{"id": "u1", "name": "no updatedAt"},
		{"id": "u2", "updatedAt": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStore_Range(t *testing.T) {
	ctx := context.Background()
	l := createTestStore(t).Local()

	_, err := l.PutMany(ctx, "posts", []ir.Row{
		{"id": "p3", "updatedAt": 30},
		{"id": "p1", "updatedAt": 10},
		{"id": "p2b", "updatedAt": 20},
		{"id": "p2a", "updatedAt": 20},
	})
	require.NoError(t, err)

	ids := func(rows []ir.Row) []string {
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i], _ = r.ID()
		}
		return out
	}

	all, err := l.Range(ctx, "posts", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2a", "p2b", "p3"}, ids(all))

	since, err := l.Range(ctx, "posts", 20, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2a", "p2b"}, ids(since))

	none, err := l.Range(ctx, "users", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

package runner

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

type fixture struct {
	runner *Runner
	store  *store.Store
	graph  *schema.Graph
}

func loadBlog(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.LoadFile(filepath.Join("..", "schema", "testdata", "blog.yaml"))
	require.NoError(t, err)
	return g
}

// newFixture opens a fresh database with the blog tables.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	g := loadBlog(t)
	s, err := store.Open(filepath.Join(t.TempDir(), "relq.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateTables(context.Background(), g))
	return &fixture{
		runner: New(querysql.NewCompiler(g), s, opts...),
		store:  s,
		graph:  g,
	}
}

// liveFixture wires the store as row source, local store and table writer.
func liveFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.runner = New(querysql.NewCompiler(f.graph), f.store,
		WithRowSource(f.store),
		WithLocalStore(f.store.Local()),
		WithTableWriter(f.store),
	)
	return f
}

func (f *fixture) seed(t *testing.T, table string, rows ...ir.Row) {
	t.Helper()
	require.NoError(t, f.store.InsertRows(context.Background(), f.graph, table, rows))
}

// seedBlog inserts two users, four posts and one account.
func (f *fixture) seedBlog(t *testing.T) {
	t.Helper()
	f.seed(t, "users",
		ir.Row{"id": "u1", "name": "Ada", "role": "admin", "updatedAt": 1},
		ir.Row{"id": "u2", "name": "Bob", "role": "user", "updatedAt": 1},
	)
	f.seed(t, "posts",
		ir.Row{"id": "p1", "authorId": "u1", "title": "first", "published": true, "createdAt": 1, "updatedAt": 1},
		ir.Row{"id": "p2", "authorId": "u1", "title": "draft", "published": false, "createdAt": 2, "updatedAt": 1},
		ir.Row{"id": "p3", "authorId": "u1", "title": "latest", "published": true, "createdAt": 3, "updatedAt": 1},
		ir.Row{"id": "p4", "authorId": "u2", "title": "hello", "published": true, "createdAt": 1, "updatedAt": 1},
	)
	f.seed(t, "accounts", ir.Row{"id": "a1", "userId": "u1", "plan": "pro", "updatedAt": 1})
}

// testingT is satisfied by *testing.T and *rapid.T.
type testingT interface {
	require.TestingT
	Helper()
}

func mustShape(t testingT, shape string) *queryir.Shape {
	t.Helper()
	s, err := queryir.ParseShape([]byte(shape))
	require.NoError(t, err)
	return s
}

func objects(t testingT, v any) []map[string]any {
	t.Helper()
	arr, ok := v.([]any)
	require.True(t, ok, "expected array, got %T", v)
	out := make([]map[string]any, len(arr))
	for i, el := range arr {
		obj, ok := el.(map[string]any)
		require.True(t, ok, "expected object, got %T", el)
		out[i] = obj
	}
	return out
}

func ids(t testingT, v any) []string {
	t.Helper()
	objs := objects(t, v)
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i], _ = ir.NormalizeID(o["id"])
	}
	return out
}

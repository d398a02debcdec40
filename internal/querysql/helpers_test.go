package querysql

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
)

func testGraph(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.Resolve(&schema.Schema{
		MaxDepth: 4,
		Tables: map[string]*schema.Table{
			"users": {
				Fields: []schema.Field{{Name: "id"}, {Name: "name"}, {Name: "role"}, {Name: "updatedAt", Type: schema.TypeInteger}},
				Links: map[string]schema.LinkInfo{
					"posts":    {Kind: schema.OneToMany, FromField: "id", ToTable: "posts", ToColumn: "authorId"},
					"accounts": {Kind: schema.OneToMany, FromField: "id", ToTable: "accounts", ToColumn: "userId"},
				},
			},
			"posts": {
				Fields: []schema.Field{
					{Name: "id"}, {Name: "authorId"}, {Name: "title"},
					{Name: "published", Type: schema.TypeBoolean},
					{Name: "createdAt", Type: schema.TypeInteger},
					{Name: "meta", Type: schema.TypeJSON},
				},
				Links: map[string]schema.LinkInfo{
					"author": {Kind: schema.ManyToOne, FromField: "authorId", ToTable: "users", ToColumn: "id"},
				},
			},
			"accounts": {
				Fields: []schema.Field{{Name: "id"}, {Name: "userId"}, {Name: "plan"}},
			},
		},
	})
	require.NoError(t, err)
	return g
}

func mustCompile(t testing.TB, shape string) *Plan {
	t.Helper()
	plan, err := NewCompiler(testGraph(t)).CompileJSON([]byte(shape))
	require.NoError(t, err)
	return plan
}

// renderPlan prints a plan for golden comparison, with the fingerprint
// prefix of temp table names masked.
func renderPlan(p *Plan) string {
	var sb strings.Builder
	for _, f := range p.Fragments {
		fmt.Fprintf(&sb, "-- %s include=%t params=%s\n%s\n\n", f.ID, f.Include, strings.Join(f.Params, ","), f.SQL)
	}
	defaults, err := ir.MarshalCanonical(p.Defaults)
	if err != nil {
		defaults = []byte(err.Error())
	}
	fmt.Fprintf(&sb, "-- defaults %s\n", defaults)
	return strings.ReplaceAll(sb.String(), p.Fingerprint[:8], "FP")
}

func mustJSON(t interface{ Fatalf(string, ...any) }, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

package queryir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/schema"
)

func blogGraph(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.Resolve(&schema.Schema{
		MaxDepth: 3,
		Tables: map[string]*schema.Table{
			"users": {
				Fields: []schema.Field{{Name: "id"}, {Name: "name"}, {Name: "email"}, {Name: "role"}, {Name: "age", Type: schema.TypeInteger}, {Name: "updatedAt", Type: schema.TypeInteger}},
				Links: map[string]schema.LinkInfo{
					"posts":    {Kind: schema.OneToMany, FromField: "id", ToTable: "posts", ToColumn: "authorId"},
					"accounts": {Kind: schema.OneToMany, FromField: "id", ToTable: "accounts", ToColumn: "userId"},
				},
			},
			"posts": {
				Fields: []schema.Field{{Name: "id"}, {Name: "authorId"}, {Name: "title"}, {Name: "status"}, {Name: "createdAt", Type: schema.TypeInteger}},
				Links: map[string]schema.LinkInfo{
					"author":   {Kind: schema.ManyToOne, FromField: "authorId", ToTable: "users", ToColumn: "id"},
					"comments": {Kind: schema.OneToMany, FromField: "id", ToTable: "comments", ToColumn: "postId"},
				},
			},
			"comments": {
				Fields: []schema.Field{{Name: "id"}, {Name: "postId"}, {Name: "body"}},
			},
			"accounts": {
				Fields: []schema.Field{{Name: "id"}, {Name: "userId"}, {Name: "plan"}},
			},
		},
	})
	require.NoError(t, err)
	return g
}

func mustResolve(t testing.TB, shape string) *Resolved {
	t.Helper()
	s, err := ParseShape([]byte(shape))
	require.NoError(t, err)
	r, err := Resolve(s, blogGraph(t))
	require.NoError(t, err)
	return r
}

// Package testutil provides shared fixtures for tests: a blog schema graph,
// shape resolution, and delta builders.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

// BlogSchema returns the schema behind BlogGraph:
//
//	users    (id, name, email, role, updatedAt)  posts -> posts.authorId, accounts -> accounts.userId
//	posts    (id, authorId, title, published, createdAt, updatedAt)  author -> users.id
//	accounts (id, userId, plan, updatedAt)
func BlogSchema() *schema.Schema {
	return &schema.Schema{
		MaxDepth: 4,
		Tables: map[string]*schema.Table{
			"users": {
				Fields: []schema.Field{
					{Name: "id"}, {Name: "name"}, {Name: "email"}, {Name: "role"},
					{Name: "updatedAt", Type: schema.TypeInteger},
				},
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
					{Name: "updatedAt", Type: schema.TypeInteger},
				},
				Links: map[string]schema.LinkInfo{
					"author": {Kind: schema.ManyToOne, FromField: "authorId", ToTable: "users", ToColumn: "id"},
				},
			},
			"accounts": {
				Fields: []schema.Field{
					{Name: "id"}, {Name: "userId"}, {Name: "plan"},
					{Name: "updatedAt", Type: schema.TypeInteger},
				},
			},
		},
	}
}

// BlogGraph resolves BlogSchema.
func BlogGraph(t testing.TB) *schema.Graph {
	t.Helper()
	g, err := schema.Resolve(BlogSchema())
	require.NoError(t, err)
	return g
}

// Resolve parses a JSON shape and resolves it against g.
func Resolve(t testing.TB, g *schema.Graph, shape string) *queryir.Resolved {
	t.Helper()
	s, err := queryir.ParseShape([]byte(shape))
	require.NoError(t, err)
	r, err := queryir.Resolve(s, g)
	require.NoError(t, err)
	return r
}

// Changed builds a delta upserting rows into one table.
func Changed(table string, rows ...ir.Row) ir.Delta {
	return ir.Delta{{Table: table, Changed: rows}}
}

// Removed builds a delta removing ids from one table.
func Removed(table string, ids ...any) ir.Delta {
	return ir.Delta{{Table: table, Removed: ids}}
}

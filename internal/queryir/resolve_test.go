package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
)

func TestResolve_NodesInPreorder(t *testing.T) {
	r := mustResolve(t, `{
		"users": {"name": true, "posts": {"title": true, "comments": true}, "accounts": {}},
		"comments": {"body": true}
	}`)

	paths := make([]string, len(r.Nodes))
	for i, n := range r.Nodes {
		assert.Equal(t, i, n.Index)
		paths[i] = n.Path
	}
	assert.Equal(t, []string{
		"comments",
		"users",
		"users.accounts",
		"users.posts",
		"users.posts.comments",
	}, paths)

	require.Len(t, r.Roots, 2)
	users := r.Roots[1]
	assert.True(t, users.IsRoot())
	assert.Equal(t, 0, users.Depth)
	assert.Equal(t, []string{"id", "name"}, users.Fields)

	posts := users.Children[1]
	assert.Equal(t, "posts", posts.TableName)
	assert.Equal(t, 1, posts.Depth)
	assert.Same(t, users, posts.Parent)
	edge := posts.Edge(r.Graph)
	assert.Equal(t, schema.OneToMany, edge.Kind)
	assert.Equal(t, "authorId", edge.ToColumn)

	// "comments": true on a link selects the relation with every field
	comments := posts.Children[0]
	assert.Equal(t, "users.posts.comments", comments.Path)
	assert.Equal(t, []string{"id", "body", "postId"}, comments.Fields)

	accounts := users.Children[0]
	assert.Equal(t, []string{"id", "plan", "userId"}, accounts.Fields)
}

func TestResolve_SelfReferentialRelations(t *testing.T) {
	r := mustResolve(t, `{"posts": {"author": {"posts": {"author": {"name": true}}}}}`)
	require.Len(t, r.Nodes, 4)
	assert.Equal(t, "posts.author.posts.author", r.Nodes[3].Path)
	assert.Equal(t, 3, r.Nodes[3].Depth)
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name  string
		shape string
		code  error
		path  string
	}{
		{"unknown table", `{"orders": true}`, ir.ErrUnknownRelation, "orders"},
		{"unknown relation", `{"users": {"friends": {}}}`, ir.ErrUnknownRelation, "users.friends"},
		{"unknown field", `{"users": {"nickname": true}}`, ir.ErrUnknownField, "users.nickname"},
		{"unknown where field", `{"users": {"@where": {"$or": [{"role": "a"}, {"rank": 1}]}}}`, ir.ErrUnknownField, "users.rank"},
		{"unknown sort field", `{"users": {"@sort": {"field": "rank"}}}`, ir.ErrUnknownField, "users.rank"},
		{"nested unknown field", `{"users": {"posts": {"body": true}}}`, ir.ErrUnknownField, "users.posts.body"},
		{"field used as relation", `{"users": {"name": {}}}`, ir.ErrInvalidShape, "users.name"},
		{"null ordering", `{"users": {"@where": {"age": {"$gt": null}}}}`, ir.ErrInvalidShape, "users.@where"},
		{"too deep", `{"posts": {"author": {"posts": {"author": {"posts": {}}}}}}`, ir.ErrDepthExceeded, "posts.author.posts.author.posts"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := ParseShape([]byte(tt.shape))
			require.NoError(t, err)
			_, err = Resolve(s, blogGraph(t))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.code)
			var irErr *ir.Error
			require.ErrorAs(t, err, &irErr)
			assert.Equal(t, tt.path, irErr.Path)
		})
	}
}

func TestResolve_EmptyQuery(t *testing.T) {
	g := blogGraph(t)

	_, err := Resolve(&Shape{}, g)
	assert.ErrorIs(t, err, ir.ErrEmptyQuery)

	s, err := ParseShape([]byte(`{"users": false}`))
	require.NoError(t, err)
	_, err = Resolve(s, g)
	assert.ErrorIs(t, err, ir.ErrEmptyQuery)
	assert.True(t, ir.IsCompileError(err))
}

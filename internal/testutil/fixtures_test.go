package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlogGraph(t *testing.T) {
	g := BlogGraph(t)
	tid, ok := g.TableByName("posts")
	assert.True(t, ok)
	_, ok = g.Table(tid).Link("author")
	assert.True(t, ok)
}

func TestResolve(t *testing.T) {
	r := Resolve(t, BlogGraph(t), `{"users": {"name": true, "posts": {"title": true}}}`)
	assert.Len(t, r.Nodes, 2)
	assert.Equal(t, "users.posts", r.Nodes[1].Path)
}

func TestDeltaBuilders(t *testing.T) {
	d := Changed("users", map[string]any{"id": "u1", "updatedAt": 1})
	assert.Equal(t, []string{"users"}, d.Tables())

	d = Removed("posts", "p1", 2)
	assert.Equal(t, []any{"p1", 2}, d[0].Removed)
}

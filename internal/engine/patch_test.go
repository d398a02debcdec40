package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/result"
	"github.com/roach88/relq/internal/testutil"
)

func nestedEnvelope() result.Envelope {
	return result.Envelope{"users": []any{
		map[string]any{
			"id":   "u1",
			"name": "Ada",
			"posts": []any{
				map[string]any{"id": "p1", "title": "one", "published": false, "author": map[string]any{"id": "u1", "name": "Ada"}},
				map[string]any{"id": "p2", "title": "two", "published": true, "author": map[string]any{"id": "u1", "name": "Ada"}},
			},
			"accounts": []any{},
		},
		map[string]any{"id": json.Number("2"), "name": "Bob", "posts": []any{}, "accounts": []any{}},
	}}
}

const nestedShape = `{"users": {
	"name": true,
	"accounts": {"plan": true},
	"posts": {"title": true, "published": true, "author": {"name": true}}
}}`

func TestEnvelopeIDs(t *testing.T) {
	r := testutil.Resolve(t, testutil.BlogGraph(t), nestedShape)
	ids := EnvelopeIDs(r, nestedEnvelope())
	assert.Equal(t, map[string][]string{
		"users": {"2", "u1"},
		"posts": {"p1", "p2"},
	}, ids)
}

func TestPatchEnvelope(t *testing.T) {
	r := testutil.Resolve(t, testutil.BlogGraph(t), nestedShape)
	env := nestedEnvelope()

	n := patchEnvelope(r, env, map[string]map[string]ir.Row{
		"users": {"u1": {"id": "u1", "name": "Ada L.", "email": "not selected"}},
		"posts": {"p1": {"id": "p1", "published": json.Number("1"), "title": "one"}},
	})

	// users.name plus the nested author copies, and published on p1
	assert.Equal(t, 4, n)
	users := env["users"].([]any)
	u1 := users[0].(map[string]any)
	assert.Equal(t, "Ada L.", u1["name"])
	assert.NotContains(t, u1, "email")

	posts := u1["posts"].([]any)
	p1 := posts[0].(map[string]any)
	assert.Equal(t, true, p1["published"])
	assert.Equal(t, "one", p1["title"])
	assert.Equal(t, "Ada L.", p1["author"].(map[string]any)["name"])
	assert.Equal(t, "Ada L.", posts[1].(map[string]any)["author"].(map[string]any)["name"])

	assert.Equal(t, "Bob", users[1].(map[string]any)["name"])
}

func TestPatchEnvelope_NoRows(t *testing.T) {
	r := testutil.Resolve(t, testutil.BlogGraph(t), nestedShape)
	env := nestedEnvelope()
	assert.Equal(t, 0, patchEnvelope(r, env, nil))
	assert.Equal(t, nestedEnvelope(), env)
}

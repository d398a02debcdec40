package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/ir"
)

const minimalScenario = `
name: minimal
description: "one query"
schema: blog.yaml
query:
  shape: {users: {name: true}}
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)
	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "blog.yaml", s.Schema, "ParseScenario leaves the schema path as written")
	assert.Contains(t, s.Query.Shape, "users")
	assert.Empty(t, s.Steps)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "description: d\nschema: s\nquery: {shape: {users: {}}}", "name is required"},
		{"missing description", "name: n\nschema: s\nquery: {shape: {users: {}}}", "description is required"},
		{"missing schema", "name: n\ndescription: d\nquery: {shape: {users: {}}}", "schema is required"},
		{"missing shape", "name: n\ndescription: d\nschema: s\nquery: {}", "query.shape is required"},
		{"unknown key", minimalScenario + "extra: 1\n", "failed to parse YAML"},
		{"empty delta", minimalScenario + "steps:\n  - delta: []\n", "steps[0]: delta is required"},
		{"delta without table", minimalScenario + "steps:\n  - delta: [{changed: [{id: u1}]}]\n", "steps[0].delta[0]: table is required"},
		{"bad decision", minimalScenario + "steps:\n  - delta: [{table: users}]\n    expect: {decision: Maybe}\n", `unknown decision "Maybe"`},
		{
			"expect_error with steps",
			"name: n\ndescription: d\nschema: s\nquery: {shape: {users: {}}, expect_error: UNKNOWN_FIELD}\nsteps:\n  - delta: [{table: users}]\n",
			"a failing query cannot have steps",
		},
		{"assertion without type", minimalScenario + "assertions:\n  - {count: 1}\n", "assertions[0]: type is required"},
		{"unknown assertion", minimalScenario + "assertions:\n  - {type: vibes}\n", `unknown assertion type "vibes"`},
		{"envelope without expect", minimalScenario + "assertions:\n  - {type: envelope}\n", "expect is required for envelope"},
		{"trace_order without decisions", minimalScenario + "assertions:\n  - {type: trace_order}\n", "decisions list is required"},
		{"trace_count without decision", minimalScenario + "assertions:\n  - {type: trace_count, count: 1}\n", "decision is required"},
		{"final_state without table", minimalScenario + "assertions:\n  - {type: final_state, expect: {a: 1}}\n", "table is required for final_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_ResolvesSchemaPath(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/admins_live.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "../../../schema/testdata/blog.yaml"), s.Schema)
	_, err = os.Stat(s.Schema)
	require.NoError(t, err)
}

func TestLoadScenario_Errors(t *testing.T) {
	_, err := LoadScenario("testdata/scenarios/nope.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")

	dir := t.TempDir()
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))
	_, err = LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema file not found")
}

func TestStep_AsDelta(t *testing.T) {
	step := Step{Delta: []TableDeltaSpec{
		{Table: "users", Changed: []map[string]any{{"id": "u1", "updatedAt": 2}}},
		{Table: "posts", Removed: []any{"p1"}},
	}}
	d := step.AsDelta()
	require.Len(t, d, 2)
	assert.Equal(t, []string{"users", "posts"}, d.Tables())
	assert.Equal(t, ir.Row{"id": "u1", "updatedAt": 2}, d[0].Changed[0])
	assert.Equal(t, []any{"p1"}, d[1].Removed)
}

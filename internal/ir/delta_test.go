package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowID(t *testing.T) {
	tests := []struct {
		name string
		id   any
		want string
		ok   bool
	}{
		{"string", "u1", "u1", true},
		{"empty string", "", "", false},
		{"json number", json.Number("12"), "12", true},
		{"fractional json number", json.Number("1.5"), "", false},
		{"int", 7, "7", true},
		{"integral float", 7.0, "7", true},
		{"fractional float", 7.5, "", false},
		{"bool", true, "", false},
		{"missing", nil, "", false},
		{"object", map[string]any{"x": 1}, "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Row{FieldID: tc.id}.ID()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRowUpdatedAt(t *testing.T) {
	ts, ok := Row{FieldUpdatedAt: json.Number("1700000000000")}.UpdatedAt()
	require.True(t, ok)
	assert.Equal(t, int64(1700000000000), ts)

	ts, ok = Row{FieldUpdatedAt: "2024-01-02T03:04:05.006Z"}.UpdatedAt()
	require.True(t, ok)
	assert.Equal(t, int64(1704164645006), ts)

	_, ok = Row{FieldUpdatedAt: "yesterday"}.UpdatedAt()
	assert.False(t, ok)

	_, ok = Row{}.UpdatedAt()
	assert.False(t, ok)
}

func TestParseDelta(t *testing.T) {
	d, err := ParseDelta([]byte(`[
		{"table":"users","changed":[{"id":"u1","updatedAt":10,"role":"admin"}],"removed":[]},
		{"table":"posts","changed":[],"removed":["p9", 12]},
		{"table":"users","changed":[],"removed":[]}
	]`))
	require.NoError(t, err)
	require.Len(t, d, 3)

	assert.Equal(t, []string{"users", "posts"}, d.Tables())
	assert.Equal(t, json.Number("10"), d[0].Changed[0][FieldUpdatedAt])
	assert.Equal(t, []any{"p9", json.Number("12")}, d[1].Removed)

	_, err = ParseDelta([]byte(`{"table":"users"}`))
	assert.ErrorIs(t, err, ErrMalformedDelta)
}

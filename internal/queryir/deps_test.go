package queryir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/roach88/relq/internal/ir"
)

func TestExtractWhereFields(t *testing.T) {
	s, err := ParseShape([]byte(`{"users": {"@where": {"$and": [{"role": "admin"}, {"status": "active"}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"role", "status"}, ExtractWhereFields(s.Roots[0].Where))
}

func TestExtractWhereFields_NestedAndDeduplicated(t *testing.T) {
	s, err := ParseShape([]byte(`{"users": {"@where": {
		"$or": [
			{"age": {"$gte": 18, "$lt": 65}},
			{"$and": [{"role": {"$in": ["admin"]}}, {"$or": [{"email": null}, {"age": 0}]}]}
		]
	}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"age", "email", "role"}, ExtractWhereFields(s.Roots[0].Where))
}

func TestExtractWhereFields_Nil(t *testing.T) {
	assert.Empty(t, ExtractWhereFields(nil))
}

func TestDependencies(t *testing.T) {
	r := mustResolve(t, `{
		"users": {
			"@where": {"role": "admin"},
			"@sort": [{"field": "name"}],
			"posts": {
				"@where": {"status": "published"},
				"@sort": [{"field": "createdAt", "direction": "desc"}],
				"author": {"@where": {"age": {"$gt": 30}}}
			}
		}
	}`)

	assert.Equal(t, []string{"posts", "users"}, TablesTouched(r))
	assert.Equal(t, map[string][]string{
		"users": {"age", "role"},
		"posts": {"status"},
	}, Dependencies(r))
	assert.Equal(t, map[string][]string{
		"users": {"id", "name"},
		"posts": {"authorId", "createdAt"},
	}, StructuralDependencies(r))
}

func genPredicate(depth int) *rapid.Generator[Predicate] {
	fields := []string{"age", "email", "name", "role", "updatedAt"}
	ops := []Op{OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn}
	return rapid.Custom(func(t *rapid.T) Predicate {
		if depth == 0 || rapid.Bool().Draw(t, "leaf") {
			op := rapid.SampledFrom(ops).Draw(t, "op")
			var value any = rapid.Int64Range(-5, 5).Draw(t, "value")
			if op == OpIn {
				value = []any{value, rapid.StringMatching(`[a-z]{0,4}`).Draw(t, "item")}
			}
			return &Compare{
				Field:   rapid.SampledFrom(fields).Draw(t, "field"),
				Op:      op,
				Operand: Literal{Value: value},
			}
		}
		n := rapid.IntRange(0, 3).Draw(t, "n")
		preds := make([]Predicate, n)
		for i := range preds {
			preds[i] = genPredicate(depth-1).Draw(t, "sub")
		}
		if rapid.Bool().Draw(t, "or") {
			return &Or{Predicates: preds}
		}
		return &And{Predicates: preds}
	})
}

func TestExtractWhereFields_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := genPredicate(3).Draw(t, "where")
		fields := ExtractWhereFields(p)

		// sorted and unique
		for i := 1; i < len(fields); i++ {
			if fields[i-1] >= fields[i] {
				t.Fatalf("fields not sorted/unique: %v", fields)
			}
		}

		// wrapping in either combinator does not change the set
		if got := ExtractWhereFields(&And{Predicates: []Predicate{p}}); !equalStrings(got, fields) {
			t.Fatalf("and-wrapped: %v != %v", got, fields)
		}
		if got := ExtractWhereFields(&Or{Predicates: []Predicate{p, p}}); !equalStrings(got, fields) {
			t.Fatalf("or-wrapped: %v != %v", got, fields)
		}

		// the wire form parses back to the same predicate
		parsed, err := parseWhere("@where", wirePredicate(p))
		if err != nil {
			t.Fatalf("reparse: %v", err)
		}
		if !ir.Equal(wirePredicate(parsed), wirePredicate(p)) {
			t.Fatalf("wire form changed on reparse")
		}
		if got := ExtractWhereFields(parsed); !equalStrings(got, fields) {
			t.Fatalf("reparsed: %v != %v", got, fields)
		}
	})
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

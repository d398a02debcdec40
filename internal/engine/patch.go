package engine

import (
	"encoding/json"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/result"
	"github.com/roach88/relq/internal/schema"
)

// EnvelopeIDs walks env along the resolved shape and returns, per table,
// the sorted distinct primary keys of every object in it.
func EnvelopeIDs(r *queryir.Resolved, env result.Envelope) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, root := range r.Roots {
		walkObjects(root, env[root.Key], func(n *queryir.ResolvedNode, obj map[string]any) {
			pk := r.Graph.Table(n.Table).PrimaryKey
			id, ok := ir.NormalizeID(obj[pk])
			if !ok {
				return
			}
			set, ok := sets[n.TableName]
			if !ok {
				set = make(map[string]struct{})
				sets[n.TableName] = set
			}
			set[id] = struct{}{}
		})
	}
	out := make(map[string][]string, len(sets))
	for table, set := range sets {
		out[table] = ir.SortedKeys(set)
	}
	return out
}

// patchEnvelope rewrites, in place, the selected non-key fields of every
// object whose row appears in rows (table -> id -> row). It returns the
// number of fields that changed.
func patchEnvelope(r *queryir.Resolved, env result.Envelope, rows map[string]map[string]ir.Row) int {
	if len(rows) == 0 {
		return 0
	}
	patched := 0
	for _, root := range r.Roots {
		walkObjects(root, env[root.Key], func(n *queryir.ResolvedNode, obj map[string]any) {
			byID, ok := rows[n.TableName]
			if !ok {
				return
			}
			table := r.Graph.Table(n.Table)
			id, ok := ir.NormalizeID(obj[table.PrimaryKey])
			if !ok {
				return
			}
			row, ok := byID[id]
			if !ok {
				return
			}
			for _, name := range n.Fields {
				if name == table.PrimaryKey {
					continue
				}
				v, ok := row[name]
				if !ok {
					continue
				}
				field, _ := table.Field(name)
				v = envelopeValue(field, v)
				if cur, had := obj[name]; had && ir.Equal(cur, v) {
					continue
				}
				obj[name] = v
				patched++
			}
		})
	}
	return patched
}

// walkObjects calls fn for every object of node n found in v, then
// descends into the object's relation keys.
func walkObjects(n *queryir.ResolvedNode, v any, fn func(*queryir.ResolvedNode, map[string]any)) {
	switch val := v.(type) {
	case []any:
		for _, el := range val {
			walkObjects(n, el, fn)
		}
	case map[string]any:
		fn(n, val)
		for _, c := range n.Children {
			walkObjects(c, val[c.Key], fn)
		}
	}
}

// envelopeValue converts a delta value to the form reassembly decodes the
// same field to.
func envelopeValue(f schema.Field, v any) any {
	switch f.Type {
	case schema.TypeBoolean:
		switch b := v.(type) {
		case json.Number:
			n, err := b.Float64()
			if err == nil {
				return n != 0
			}
		case int:
			return b != 0
		case int64:
			return b != 0
		case float64:
			return b != 0
		}
	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return decoded
			}
		}
	}
	return v
}

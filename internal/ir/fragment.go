package ir

import "sort"

// Fragment is one compiled SQL statement within a query's execution batch.
//
// Params lists the placeholder names the statement references, in order of
// first appearance. Include marks fragments that contribute a top-level key
// to the result envelope; the others are intermediate plumbing whose result
// sets are empty.
type Fragment struct {
	ID      string   `json:"id"`
	SQL     string   `json:"sql"`
	Params  []string `json:"params"`
	Include bool     `json:"include"`
}

// ArgMap maps placeholder names to bindable scalar values.
type ArgMap map[string]any

// Keys returns the map keys in sorted order.
func (m ArgMap) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the map. A nil map clones to an empty one.
func (m ArgMap) Clone() ArgMap {
	out := make(ArgMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NamedArg is a single bound placeholder.
type NamedArg struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Statement is a fragment with its arguments projected and ready to bind.
type Statement struct {
	FragmentID string     `json:"fragment_id"`
	SQL        string     `json:"sql"`
	Args       []NamedArg `json:"args"`
	Include    bool       `json:"include"`
}

// ResultSet is the answer to one Statement. Result sets are returned 1:1
// aligned with the statement batch.
type ResultSet struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

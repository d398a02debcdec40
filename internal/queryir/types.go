package queryir

import (
	"fmt"
	"strings"
)

// Shape is a parsed query shape: one Node per top-level table, sorted by key.
type Shape struct {
	Roots []*Node
}

// Node is one level of a shape.
//
// For a root, Key is a table name; for a nested node, Key is a link name on
// the parent's table.
type Node struct {
	Key       string
	Fields    []string  // selected scalar fields, sorted; empty = all
	Relations []*Node   // nested relations, sorted by Key
	Where     Predicate // nil = no filter
	Sort      []SortKey
	Limit     *int
}

// Relation returns the nested node with the given key.
func (n *Node) Relation(key string) (*Node, bool) {
	for _, r := range n.Relations {
		if r.Key == key {
			return r, true
		}
	}
	return nil, false
}

// Direction is a sort direction.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// String returns the SQL keyword.
func (d Direction) String() string {
	if d == Desc {
		return "DESC"
	}
	return "ASC"
}

// ParseDirection matches "asc" or "desc" case-insensitively. Empty means asc.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return Asc, fmt.Errorf("unknown sort direction %q", s)
	}
}

// SortKey orders a node's rows by one field.
type SortKey struct {
	Field     string
	Direction Direction
}

// Op is a comparison operator.
type Op string

const (
	OpEq  Op = "$eq"
	OpNe  Op = "$ne"
	OpGt  Op = "$gt"
	OpGte Op = "$gte"
	OpLt  Op = "$lt"
	OpLte Op = "$lte"
	OpIn  Op = "$in"
)

// Valid reports whether op is a known operator.
func (op Op) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn:
		return true
	}
	return false
}

// Predicate represents a filter condition.
//
// This is a sealed interface - only types in this package implement it.
//
// Predicate types:
//   - Compare: field <op> operand
//   - And: all predicates must be true (empty = always true)
//   - Or: at least one predicate must be true (empty = always false)
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Compare represents a single field comparison.
//
// Semantics:
//
//	<field> <op> <operand>
//
// A plain leaf {"role": "admin"} is Compare{Field: "role", Op: OpEq,
// Operand: Literal{Value: "admin"}}. Comparing to a literal null with $eq or
// $ne tests for NULL. $in takes an array.
type Compare struct {
	Field   string
	Op      Op
	Operand Operand
}

func (*Compare) predicateNode() {}

// And represents a conjunction of predicates.
//
// A leaf object naming several fields, {"role": "admin", "active": true},
// parses to an And of one Compare per field.
type And struct {
	Predicates []Predicate
}

func (*And) predicateNode() {}

// Or represents a disjunction of predicates.
type Or struct {
	Predicates []Predicate
}

func (*Or) predicateNode() {}

// Operand is the right-hand side of a Compare.
//
// This is a sealed interface - only types in this package implement it.
type Operand interface {
	operandNode() // Marker method - seals interface to this package
}

// Literal is a constant value: string, int64, float64, bool, nil, or for
// $in a []any of those.
type Literal struct {
	Value any
}

func (Literal) operandNode() {}

// ArgRef references a user input argument by name. Default applies when the
// caller supplies no value.
type ArgRef struct {
	Name       string
	Default    any
	HasDefault bool
}

func (ArgRef) operandNode() {}

// SessionRef references a session context value by name.
type SessionRef struct {
	Name string
}

func (SessionRef) operandNode() {}

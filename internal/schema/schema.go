// Package schema holds the static table, field and relation metadata that
// query shapes are validated against.
//
// A Schema is the declarative form as loaded from CUE or YAML. Resolve turns
// it into a Graph: an arena of tables and integer-indexed link edges built in
// a single validation pass. Every later stage works with TableID and LinkID
// values, so a name that resolved once cannot fail to resolve downstream.
package schema

import (
	"fmt"
	"strings"
)

// DefaultPrimaryKey is the primary key column when a table declares none.
const DefaultPrimaryKey = "id"

// DefaultMaxDepth bounds relation nesting when the schema declares no limit.
const DefaultMaxDepth = 8

// LinkKind is the cardinality of a relation.
type LinkKind int

const (
	// ManyToOne links resolve to a single parent object or null.
	ManyToOne LinkKind = iota + 1
	// OneToMany links resolve to an array of child objects.
	OneToMany
	// OneToOne links resolve to a single object or null.
	OneToOne
)

// String returns the wire name of the kind.
func (k LinkKind) String() string {
	switch k {
	case ManyToOne:
		return "many_to_one"
	case OneToMany:
		return "one_to_many"
	case OneToOne:
		return "one_to_one"
	default:
		return fmt.Sprintf("LinkKind(%d)", int(k))
	}
}

// ToOne reports whether the link resolves to at most one row.
func (k LinkKind) ToOne() bool {
	return k == ManyToOne || k == OneToOne
}

// ParseLinkKind parses a wire name. Accepts snake_case and CamelCase forms.
func ParseLinkKind(s string) (LinkKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "manytoone":
		return ManyToOne, nil
	case "onetomany":
		return OneToMany, nil
	case "onetoone":
		return OneToOne, nil
	default:
		return 0, fmt.Errorf("unknown link kind %q", s)
	}
}

// FieldType is the storage type of a scalar field.
type FieldType string

const (
	TypeText    FieldType = "text"
	TypeInteger FieldType = "integer"
	TypeReal    FieldType = "real"
	TypeBoolean FieldType = "boolean"
	TypeJSON    FieldType = "json"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case TypeText, TypeInteger, TypeReal, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Field is a scalar column.
type Field struct {
	Name string    `yaml:"name"`
	Type FieldType `yaml:"type"`
}

// LinkInfo describes a relation from one table to another. The related rows
// are those of ToTable whose ToColumn equals this table's FromField.
type LinkInfo struct {
	Kind      LinkKind
	FromField string
	ToTable   string
	ToColumn  string
}

// Index is a declared secondary index.
type Index struct {
	Name   string   `yaml:"name" json:"name"`
	Fields []string `yaml:"fields" json:"fields"`
	Unique bool     `yaml:"unique" json:"unique,omitempty"`
}

// Table is one table's metadata.
type Table struct {
	Name       string
	PrimaryKey string
	Fields     []Field
	Links      map[string]LinkInfo
	Indices    []Index
}

// Schema is the full declarative schema.
type Schema struct {
	Tables   map[string]*Table
	MaxDepth int
}

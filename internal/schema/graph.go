package schema

import (
	"fmt"
	"sort"

	"github.com/roach88/relq/internal/ir"
)

// TableID indexes a table in a Graph.
type TableID int

// LinkID indexes a link edge in a Graph.
type LinkID int

// NoLink marks the absence of a link (top-level nodes).
const NoLink LinkID = -1

// ResolvedTable is a table in the Graph arena.
type ResolvedTable struct {
	ID         TableID
	Name       string
	PrimaryKey string

	// Fields lists scalar fields with the primary key first, the rest sorted
	// by name.
	Fields []Field

	fieldIdx map[string]int
	links    map[string]LinkID
	indices  []Index
}

// Field looks up a scalar field by name.
func (t *ResolvedTable) Field(name string) (Field, bool) {
	i, ok := t.fieldIdx[name]
	if !ok {
		return Field{}, false
	}
	return t.Fields[i], true
}

// HasField reports whether the table has the named scalar field.
func (t *ResolvedTable) HasField(name string) bool {
	_, ok := t.fieldIdx[name]
	return ok
}

// FieldNames returns scalar field names in arena order.
func (t *ResolvedTable) FieldNames() []string {
	names := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		names[i] = f.Name
	}
	return names
}

// Link looks up a link by relation name.
func (t *ResolvedTable) Link(name string) (LinkID, bool) {
	id, ok := t.links[name]
	return id, ok
}

// LinkNames returns the table's relation names, sorted.
func (t *ResolvedTable) LinkNames() []string {
	names := make([]string, 0, len(t.links))
	for n := range t.links {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Indices returns the declared secondary indices.
func (t *ResolvedTable) Indices() []Index {
	return t.indices
}

// Edge is a resolved link.
type Edge struct {
	ID        LinkID
	Name      string
	Kind      LinkKind
	From      TableID
	FromField string
	To        TableID
	ToColumn  string
}

// Graph is the resolved, index-addressed schema.
type Graph struct {
	tables   []*ResolvedTable
	byName   map[string]TableID
	edges    []Edge
	maxDepth int
}

// Table returns the table with the given id. Panics on an id that did not
// come from this graph.
func (g *Graph) Table(id TableID) *ResolvedTable {
	return g.tables[id]
}

// TableByName looks up a table id by name.
func (g *Graph) TableByName(name string) (TableID, bool) {
	id, ok := g.byName[name]
	return id, ok
}

// Edge returns the link edge with the given id.
func (g *Graph) Edge(id LinkID) Edge {
	return g.edges[id]
}

// Tables returns all tables in id order (sorted by name).
func (g *Graph) Tables() []*ResolvedTable {
	return g.tables
}

// MaxDepth is the maximum relation nesting depth a query shape may use.
func (g *Graph) MaxDepth() int {
	return g.maxDepth
}

// Resolve validates a Schema and builds its Graph in one pass. Every link's
// FromField and ToColumn must name a scalar field (or primary key) of the
// respective table, and ToTable must exist.
func Resolve(s *Schema) (*Graph, error) {
	if s == nil || len(s.Tables) == 0 {
		return nil, ir.Errorf(ir.CodeInvalidSchema, "schema declares no tables")
	}

	g := &Graph{
		byName:   make(map[string]TableID, len(s.Tables)),
		maxDepth: s.MaxDepth,
	}
	if g.maxDepth <= 0 {
		g.maxDepth = DefaultMaxDepth
	}

	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	// Pass 1: tables and fields.
	for _, name := range names {
		t := s.Tables[name]
		rt, err := resolveTable(name, t)
		if err != nil {
			return nil, err
		}
		rt.ID = TableID(len(g.tables))
		g.byName[name] = rt.ID
		g.tables = append(g.tables, rt)
	}

	// Pass 2: links, now that every table has an id.
	for _, name := range names {
		t := s.Tables[name]
		from := g.tables[g.byName[name]]
		linkNames := make([]string, 0, len(t.Links))
		for ln := range t.Links {
			linkNames = append(linkNames, ln)
		}
		sort.Strings(linkNames)

		for _, ln := range linkNames {
			li := t.Links[ln]
			if from.HasField(ln) {
				return nil, schemaErr(name, "link %q shadows a field of the same name", ln)
			}
			if li.Kind == 0 {
				return nil, schemaErr(name, "link %q has no kind", ln)
			}
			if !from.HasField(li.FromField) {
				return nil, schemaErr(name, "link %q: from field %q does not exist", ln, li.FromField)
			}
			toID, ok := g.byName[li.ToTable]
			if !ok {
				return nil, schemaErr(name, "link %q: target table %q does not exist", ln, li.ToTable)
			}
			if !g.tables[toID].HasField(li.ToColumn) {
				return nil, schemaErr(name, "link %q: target column %s.%s does not exist", ln, li.ToTable, li.ToColumn)
			}
			edge := Edge{
				ID:        LinkID(len(g.edges)),
				Name:      ln,
				Kind:      li.Kind,
				From:      from.ID,
				FromField: li.FromField,
				To:        toID,
				ToColumn:  li.ToColumn,
			}
			g.edges = append(g.edges, edge)
			from.links[ln] = edge.ID
		}

		for _, idx := range from.indices {
			for _, f := range idx.Fields {
				if !from.HasField(f) {
					return nil, schemaErr(name, "index %q: field %q does not exist", idx.Name, f)
				}
			}
		}
	}

	return g, nil
}

func resolveTable(name string, t *Table) (*ResolvedTable, error) {
	if t == nil {
		return nil, schemaErr(name, "table definition is empty")
	}
	pk := t.PrimaryKey
	if pk == "" {
		pk = DefaultPrimaryKey
	}

	rt := &ResolvedTable{
		Name:       name,
		PrimaryKey: pk,
		fieldIdx:   make(map[string]int, len(t.Fields)+1),
		links:      make(map[string]LinkID, len(t.Links)),
		indices:    t.Indices,
	}

	fields := make([]Field, 0, len(t.Fields)+1)
	var pkField *Field
	for _, f := range t.Fields {
		if f.Name == "" {
			return nil, schemaErr(name, "field with empty name")
		}
		if f.Type == "" {
			f.Type = TypeText
		}
		if !f.Type.Valid() {
			return nil, schemaErr(name, "field %q has unknown type %q", f.Name, f.Type)
		}
		if f.Name == pk {
			pkField = &f
			continue
		}
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	if pkField == nil {
		pkField = &Field{Name: pk, Type: TypeText}
	}
	rt.Fields = append([]Field{*pkField}, fields...)

	for i, f := range rt.Fields {
		if _, dup := rt.fieldIdx[f.Name]; dup {
			return nil, schemaErr(name, "duplicate field %q", f.Name)
		}
		rt.fieldIdx[f.Name] = i
	}
	return rt, nil
}

func schemaErr(table, format string, args ...any) *ir.Error {
	return &ir.Error{
		Code:    ir.CodeInvalidSchema,
		Message: fmt.Sprintf(format, args...),
		Table:   table,
	}
}

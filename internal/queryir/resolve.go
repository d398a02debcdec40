package queryir

import (
	"fmt"
	"sort"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
)

// Resolved is a shape validated against a schema graph.
type Resolved struct {
	Graph *schema.Graph
	Roots []*ResolvedNode
	// Nodes lists every node in preorder; ResolvedNode.Index is the position
	// in this slice.
	Nodes []*ResolvedNode
}

// ResolvedNode is a Node with every name bound to the graph.
type ResolvedNode struct {
	Index int
	Key   string
	// Path is the dotted key path from the root, e.g. "users.posts".
	Path  string
	Table schema.TableID
	// TableName is kept for error messages and dependency maps.
	TableName string
	// Link is the edge from Parent's table, or schema.NoLink for roots.
	Link   schema.LinkID
	Parent *ResolvedNode
	// Fields are the output scalar fields: primary key first, then the
	// selection in table order.
	Fields   []string
	Where    Predicate
	Sort     []SortKey
	Limit    *int
	Children []*ResolvedNode
	// Depth is 0 for roots.
	Depth int
}

// IsRoot reports whether n is a top-level node.
func (n *ResolvedNode) IsRoot() bool {
	return n.Link == schema.NoLink
}

// Edge returns the link edge n was reached through. Only valid for nested
// nodes.
func (n *ResolvedNode) Edge(g *schema.Graph) schema.Edge {
	return g.Edge(n.Link)
}

// Resolve validates a shape against the graph.
//
// Errors:
//   - EmptyQuery when the shape has no top-level table
//   - UnknownRelation for an unknown top-level table or link
//   - UnknownField for an unknown field in a selection, where clause or sort
//   - DepthExceeded when relations nest deeper than the graph allows
//   - InvalidShape when a scalar field is selected with an object
func Resolve(s *Shape, g *schema.Graph) (*Resolved, error) {
	if s == nil || len(s.Roots) == 0 {
		return nil, ir.Errorf(ir.CodeEmptyQuery, "query selects no tables")
	}

	r := &resolver{graph: g, out: &Resolved{Graph: g}}
	for _, root := range s.Roots {
		tid, ok := g.TableByName(root.Key)
		if !ok {
			return nil, &ir.Error{
				Code:    ir.CodeUnknownRelation,
				Message: fmt.Sprintf("unknown table %q", root.Key),
				Path:    root.Key,
				Table:   root.Key,
			}
		}
		rn, err := r.resolveNode(root, nil, tid, schema.NoLink)
		if err != nil {
			return nil, err
		}
		r.out.Roots = append(r.out.Roots, rn)
	}
	return r.out, nil
}

// resolver accumulates nodes during traversal.
type resolver struct {
	graph *schema.Graph
	out   *Resolved
}

func (r *resolver) resolveNode(n *Node, parent *ResolvedNode, tid schema.TableID, link schema.LinkID) (*ResolvedNode, error) {
	table := r.graph.Table(tid)
	rn := &ResolvedNode{
		Index:     len(r.out.Nodes),
		Key:       n.Key,
		Path:      n.Key,
		Table:     tid,
		TableName: table.Name,
		Link:      link,
		Parent:    parent,
		Limit:     n.Limit,
	}
	if parent != nil {
		rn.Path = parent.Path + "." + n.Key
		rn.Depth = parent.Depth + 1
	}
	if rn.Depth > r.graph.MaxDepth() {
		return nil, &ir.Error{
			Code:    ir.CodeDepthExceeded,
			Message: fmt.Sprintf("relation depth %d exceeds maximum %d", rn.Depth, r.graph.MaxDepth()),
			Path:    rn.Path,
			Table:   table.Name,
		}
	}
	r.out.Nodes = append(r.out.Nodes, rn)

	// A field flagged true that names a link selects that relation whole.
	relations := append([]*Node(nil), n.Relations...)
	selected := make(map[string]bool, len(n.Fields))
	for _, f := range n.Fields {
		if table.HasField(f) {
			selected[f] = true
			continue
		}
		if _, ok := table.Link(f); ok {
			relations = append(relations, &Node{Key: f})
			continue
		}
		return nil, fieldErr(rn, f, "select")
	}

	for _, f := range table.FieldNames() {
		if len(selected) == 0 || selected[f] || f == table.PrimaryKey {
			rn.Fields = append(rn.Fields, f)
		}
	}

	if n.Where != nil {
		if err := r.checkPredicate(rn, table, n.Where); err != nil {
			return nil, err
		}
		rn.Where = n.Where
	}

	for _, sk := range n.Sort {
		if !table.HasField(sk.Field) {
			return nil, fieldErr(rn, sk.Field, "sort by")
		}
	}
	rn.Sort = n.Sort

	sort.Slice(relations, func(i, j int) bool { return relations[i].Key < relations[j].Key })
	for i, child := range relations {
		if i > 0 && relations[i-1].Key == child.Key {
			return nil, &ir.Error{
				Code:    ir.CodeInvalidShape,
				Message: fmt.Sprintf("relation %q selected twice", child.Key),
				Path:    rn.Path + "." + child.Key,
			}
		}
		lid, ok := table.Link(child.Key)
		if !ok {
			if table.HasField(child.Key) {
				return nil, &ir.Error{
					Code:    ir.CodeInvalidShape,
					Message: fmt.Sprintf("%q is a scalar field of %s, not a relation", child.Key, table.Name),
					Path:    rn.Path + "." + child.Key,
					Table:   table.Name,
				}
			}
			return nil, &ir.Error{
				Code:    ir.CodeUnknownRelation,
				Message: fmt.Sprintf("table %s has no relation %q", table.Name, child.Key),
				Path:    rn.Path + "." + child.Key,
				Table:   table.Name,
			}
		}
		cn, err := r.resolveNode(child, rn, r.graph.Edge(lid).To, lid)
		if err != nil {
			return nil, err
		}
		rn.Children = append(rn.Children, cn)
	}
	return rn, nil
}

func (r *resolver) checkPredicate(rn *ResolvedNode, table *schema.ResolvedTable, p Predicate) error {
	switch pred := p.(type) {
	case *Compare:
		if !table.HasField(pred.Field) {
			return fieldErr(rn, pred.Field, "filter on")
		}
		if lit, ok := pred.Operand.(Literal); ok {
			if _, isList := lit.Value.([]any); isList != (pred.Op == OpIn) {
				return &ir.Error{Code: ir.CodeInvalidShape, Message: fmt.Sprintf("%s on %s: only $in takes an array", pred.Op, pred.Field), Path: rn.Path + "." + KeyWhere}
			}
			if lit.Value == nil && pred.Op != OpEq && pred.Op != OpNe {
				return &ir.Error{Code: ir.CodeInvalidShape, Message: fmt.Sprintf("%s on %s: null is only comparable with $eq or $ne", pred.Op, pred.Field), Path: rn.Path + "." + KeyWhere}
			}
		}
	case *And:
		for _, sub := range pred.Predicates {
			if err := r.checkPredicate(rn, table, sub); err != nil {
				return err
			}
		}
	case *Or:
		for _, sub := range pred.Predicates {
			if err := r.checkPredicate(rn, table, sub); err != nil {
				return err
			}
		}
	default:
		return ir.Errorf(ir.CodeInvalidShape, "unsupported predicate type: %T", p)
	}
	return nil
}

func fieldErr(rn *ResolvedNode, field, verb string) *ir.Error {
	return &ir.Error{
		Code:    ir.CodeUnknownField,
		Message: fmt.Sprintf("cannot %s unknown field %s.%s", verb, rn.TableName, field),
		Path:    rn.Path + "." + field,
		Table:   rn.TableName,
	}
}

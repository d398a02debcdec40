package querysql

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
	"github.com/roach88/relq/internal/schema"
)

// Placeholder namespaces. User and session arguments can never collide
// with each other or with compiler literals.
const (
	PrefixLiteral = "lit_"
	PrefixInput   = "in_"
	PrefixSession = "sess_"
)

// Internal column names. Envelope columns starting with "__" are ignored by
// result reassembly.
const (
	colKey    = "k"
	colValue  = "v"
	colRowNum = "__rn"
	colRows   = "__rows"
)

// Plan is a compiled query: fragments in execution order plus everything
// the binder needs.
type Plan struct {
	// Fingerprint is the content hash of the normalized shape.
	Fingerprint string

	// Fragments run in order inside one atomic batch. The last fragment
	// always has Include set.
	Fragments []ir.Fragment

	// Defaults holds literal values and $arg defaults by placeholder name.
	Defaults ir.ArgMap

	// UserArgs and SessionArgs are the sorted $arg and $session names the
	// plan references, without namespace prefix.
	UserArgs    []string
	SessionArgs []string

	Resolved *queryir.Resolved
}

// Tables returns the sorted names of every table the plan reads.
func (p *Plan) Tables() []string {
	return queryir.TablesTouched(p.Resolved)
}

// Params returns the sorted union of all fragment params.
func (p *Plan) Params() []string {
	set := make(map[string]struct{})
	for _, f := range p.Fragments {
		for _, name := range f.Params {
			set[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Compiler compiles query shapes against one schema graph into SQLite
// statements.
//
// Every relation level is materialized on its own: a node's rows are
// filtered, sorted and limited against its own table and correlated to its
// parent with IN (SELECT ...) over the parent's row set, so no intermediate
// result is a join product. Nested levels are then folded into JSON one row
// per parent key and LEFT JOINed 1:1 into their parent.
//
// Compiler is safe for concurrent use.
type Compiler struct {
	graph  *schema.Graph
	logger *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithLogger sets the logger for debug output. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		c.logger = l
	}
}

// NewCompiler creates a Compiler for the given graph.
func NewCompiler(g *schema.Graph, opts ...Option) *Compiler {
	c := &Compiler{graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Graph returns the schema graph the compiler resolves against.
func (c *Compiler) Graph() *schema.Graph {
	return c.graph
}

// CompileJSON parses and compiles a shape in wire form.
func (c *Compiler) CompileJSON(data []byte) (*Plan, error) {
	s, err := queryir.ParseShape(data)
	if err != nil {
		return nil, err
	}
	return c.Compile(s)
}

// Compile resolves the shape and builds its fragment plan. Compilation is
// pure: the same shape always yields an identical plan.
//
// All name and shape errors are reported before any fragment is built.
func (c *Compiler) Compile(s *queryir.Shape) (*Plan, error) {
	resolved, err := queryir.Resolve(s, c.graph)
	if err != nil {
		return nil, err
	}

	fp, err := ir.Fingerprint(ir.DomainShape, s.Wire())
	if err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}

	b := &builder{
		graph:    c.graph,
		resolved: resolved,
		prefix:   "_" + fp[:8] + "_",
		defaults: make(ir.ArgMap),
		userArgs: make(map[string]struct{}),
		sessArgs: make(map[string]struct{}),
	}

	ordered, err := TopoSort(b.steps())
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Fingerprint: fp,
		Defaults:    b.defaults,
		Resolved:    resolved,
	}
	for _, step := range ordered {
		frag, err := b.fragment(step)
		if err != nil {
			return nil, err
		}
		plan.Fragments = append(plan.Fragments, frag)
	}
	plan.UserArgs = sortedSet(b.userArgs)
	plan.SessionArgs = sortedSet(b.sessArgs)

	c.logger.Debug("compiled query",
		"fingerprint", fp[:12],
		"nodes", len(resolved.Nodes),
		"fragments", len(plan.Fragments),
		"params", len(plan.Params()),
	)
	return plan, nil
}

// builder carries per-compilation state.
type builder struct {
	graph    *schema.Graph
	resolved *queryir.Resolved
	prefix   string

	literals int
	defaults ir.ArgMap
	userArgs map[string]struct{}
	sessArgs map[string]struct{}
}

func stepID(n *queryir.ResolvedNode, kind StepKind) string {
	return n.Path + "#" + kind.String()
}

// steps lists every fragment step with the steps it reads:
// rows read the parent's rows, an aggregate reads its own rows and its
// children's aggregates, and an envelope reads the root's rows and its
// children's aggregates.
func (b *builder) steps() []Step {
	var steps []Step
	for _, n := range b.resolved.Nodes {
		rows := Step{ID: stepID(n, StepRows), Kind: StepRows, Node: n.Index, Depth: n.Depth}
		if n.Parent != nil {
			rows.After = []string{stepID(n.Parent, StepRows)}
		}
		steps = append(steps, rows)

		after := []string{rows.ID}
		for _, c := range n.Children {
			after = append(after, stepID(c, StepAggregate))
		}
		kind := StepAggregate
		if n.IsRoot() {
			kind = StepEnvelope
		}
		steps = append(steps, Step{ID: stepID(n, kind), Kind: kind, Node: n.Index, Depth: n.Depth, After: after})
	}
	return steps
}

func (b *builder) fragment(step Step) (ir.Fragment, error) {
	n := b.resolved.Nodes[step.Node]
	switch step.Kind {
	case StepRows:
		sql, params, err := b.rowsSQL(n)
		if err != nil {
			return ir.Fragment{}, err
		}
		return ir.Fragment{ID: step.ID, SQL: sql, Params: params}, nil
	case StepAggregate:
		return ir.Fragment{ID: step.ID, SQL: b.aggregateSQL(n)}, nil
	case StepEnvelope:
		return ir.Fragment{ID: step.ID, SQL: b.envelopeSQL(n), Include: true}, nil
	default:
		return ir.Fragment{}, ir.Errorf(ir.CodeEngine, "unknown step kind %v", step.Kind)
	}
}

func (b *builder) rowsTable(n *queryir.ResolvedNode) string {
	return quoteIdent(fmt.Sprintf("%sr%d", b.prefix, n.Index))
}

func (b *builder) aggTable(n *queryir.ResolvedNode) string {
	return quoteIdent(fmt.Sprintf("%sa%d", b.prefix, n.Index))
}

func aggAlias(n *queryir.ResolvedNode) string {
	return fmt.Sprintf("a%d", n.Index)
}

// storedColumns are the columns a node's row set keeps: output fields, sort
// fields, the column it correlates to its parent on, and the columns its
// children correlate against.
func (b *builder) storedColumns(n *queryir.ResolvedNode) []string {
	seen := make(map[string]bool)
	var cols []string
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, f := range n.Fields {
		add(f)
	}
	for _, sk := range n.Sort {
		add(sk.Field)
	}
	if !n.IsRoot() {
		add(n.Edge(b.graph).ToColumn)
	}
	for _, c := range n.Children {
		add(c.Edge(b.graph).FromField)
	}
	return cols
}

// orderTerms renders the node's sort keys plus the primary key tiebreaker.
func (b *builder) orderTerms(n *queryir.ResolvedNode, alias string) string {
	pk := b.graph.Table(n.Table).PrimaryKey
	terms := make([]string, 0, len(n.Sort)+1)
	hasPK := false
	for _, sk := range n.Sort {
		terms = append(terms, fmt.Sprintf("%s.%s %s", alias, quoteIdent(sk.Field), sk.Direction))
		if sk.Field == pk {
			hasPK = true
		}
	}
	if !hasPK {
		terms = append(terms, fmt.Sprintf("%s.%s ASC", alias, quoteIdent(pk)))
	}
	return strings.Join(terms, ", ")
}

func (b *builder) rowsSQL(n *queryir.ResolvedNode) (string, []string, error) {
	table := b.graph.Table(n.Table)
	cols := b.storedColumns(n)

	var where []string
	var correlate string
	if !n.IsRoot() {
		edge := n.Edge(b.graph)
		correlate = "t." + quoteIdent(edge.ToColumn)
		where = append(where, fmt.Sprintf("%s IN (SELECT %s FROM %s)",
			correlate, quoteIdent(edge.FromField), b.rowsTable(n.Parent)))
	}

	ps := &paramSet{}
	if n.Where != nil {
		pred, err := b.predicateSQL(n.Where, "t", ps)
		if err != nil {
			return "", nil, err
		}
		where = append(where, pred)
	}

	selectList := make([]string, len(cols))
	for i, c := range cols {
		selectList[i] = "t." + quoteIdent(c)
	}

	var sb strings.Builder
	sb.WriteString("CREATE TEMP TABLE ")
	sb.WriteString(b.rowsTable(n))
	sb.WriteString(" AS SELECT ")

	limit, windowed := b.perParentLimit(n)
	if windowed {
		bare := make([]string, len(cols))
		for i, c := range cols {
			bare[i] = quoteIdent(c)
		}
		sb.WriteString(strings.Join(bare, ", "))
		sb.WriteString(" FROM (SELECT ")
		sb.WriteString(strings.Join(selectList, ", "))
		fmt.Fprintf(&sb, ", ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS %s",
			correlate, b.orderTerms(n, "t"), quoteIdent(colRowNum))
	} else {
		sb.WriteString(strings.Join(selectList, ", "))
	}

	fmt.Fprintf(&sb, " FROM %s AS t", quoteIdent(table.Name))
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}

	if windowed {
		fmt.Fprintf(&sb, ") WHERE %s <= %d", quoteIdent(colRowNum), limit)
	} else if n.Limit != nil {
		fmt.Fprintf(&sb, " ORDER BY %s LIMIT %d", b.orderTerms(n, "t"), *n.Limit)
	}

	return sb.String(), ps.names, nil
}

// perParentLimit reports whether a nested node's rows must be limited per
// parent key, and to how many rows. To-one relations keep one row per key.
func (b *builder) perParentLimit(n *queryir.ResolvedNode) (int, bool) {
	if n.IsRoot() {
		return 0, false
	}
	toOne := n.Edge(b.graph).Kind.ToOne()
	switch {
	case n.Limit != nil && toOne:
		return min(*n.Limit, 1), true
	case n.Limit != nil:
		return *n.Limit, true
	case toOne:
		return 1, true
	}
	return 0, false
}

// objectSQL renders json_object(...) over a node's row set alias "r", with
// one key per output field and one per child relation.
func (b *builder) objectSQL(n *queryir.ResolvedNode) string {
	table := b.graph.Table(n.Table)
	args := make([]string, 0, 2*(len(n.Fields)+len(n.Children)))
	for _, name := range n.Fields {
		f, _ := table.Field(name)
		args = append(args, quoteString(name), fieldValueSQL("r", f))
	}
	for _, c := range n.Children {
		alias := aggAlias(c)
		value := fmt.Sprintf("json(%s.%s)", alias, quoteIdent(colValue))
		if !c.Edge(b.graph).Kind.ToOne() {
			value = fmt.Sprintf("json(COALESCE(%s.%s, '[]'))", alias, quoteIdent(colValue))
		}
		args = append(args, quoteString(c.Key), value)
	}
	return "json_object(" + strings.Join(args, ", ") + ")"
}

func fieldValueSQL(alias string, f schema.Field) string {
	col := alias + "." + quoteIdent(f.Name)
	switch f.Type {
	case schema.TypeBoolean:
		return fmt.Sprintf("json(CASE WHEN %s IS NULL THEN 'null' WHEN %s THEN 'true' ELSE 'false' END)", col, col)
	case schema.TypeJSON:
		return "json(" + col + ")"
	default:
		return col
	}
}

// childJoins renders the LEFT JOINs from a node's row set to its children's
// aggregates. Each child aggregate has one row per key, so the joins never
// multiply rows.
func (b *builder) childJoins(n *queryir.ResolvedNode) string {
	var sb strings.Builder
	for _, c := range n.Children {
		alias := aggAlias(c)
		fmt.Fprintf(&sb, " LEFT JOIN %s AS %s ON %s.%s = r.%s",
			b.aggTable(c), alias, alias, quoteIdent(colKey), quoteIdent(c.Edge(b.graph).FromField))
	}
	return sb.String()
}

func (b *builder) aggregateSQL(n *queryir.ResolvedNode) string {
	edge := n.Edge(b.graph)
	key := "r." + quoteIdent(edge.ToColumn)

	var value, groupBy string
	if edge.Kind.ToOne() {
		value = b.objectSQL(n)
	} else {
		value = fmt.Sprintf("json_group_array(%s ORDER BY %s)", b.objectSQL(n), b.orderTerms(n, "r"))
		groupBy = " GROUP BY " + key
	}

	return fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s AS %s, %s AS %s FROM %s AS r%s%s",
		b.aggTable(n), key, quoteIdent(colKey), value, quoteIdent(colValue),
		b.rowsTable(n), b.childJoins(n), groupBy)
}

func (b *builder) envelopeSQL(n *queryir.ResolvedNode) string {
	return fmt.Sprintf("SELECT json_group_array(%s ORDER BY %s) AS %s, count(*) AS %s FROM %s AS r%s",
		b.objectSQL(n), b.orderTerms(n, "r"), quoteIdent(n.Key), quoteIdent(colRows),
		b.rowsTable(n), b.childJoins(n))
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

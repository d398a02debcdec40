package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/queryir"
)

// paramSet records the placeholders one fragment declares, in order of
// first use.
type paramSet struct {
	names []string
	seen  map[string]bool
}

func (p *paramSet) add(name string) string {
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	if !p.seen[name] {
		p.seen[name] = true
		p.names = append(p.names, name)
	}
	return ":" + name
}

var comparisonSQL = map[queryir.Op]string{
	queryir.OpEq:  "=",
	queryir.OpNe:  "<>",
	queryir.OpGt:  ">",
	queryir.OpGte: ">=",
	queryir.OpLt:  "<",
	queryir.OpLte: "<=",
}

// predicateSQL compiles a predicate against table alias.
// CRITICAL: values are never interpolated; every operand is a placeholder.
func (b *builder) predicateSQL(p queryir.Predicate, alias string, ps *paramSet) (string, error) {
	switch pred := p.(type) {
	case *queryir.Compare:
		return b.compareSQL(pred, alias, ps)
	case *queryir.And:
		return b.combineSQL(pred.Predicates, " AND ", "1 = 1", alias, ps)
	case *queryir.Or:
		return b.combineSQL(pred.Predicates, " OR ", "1 = 0", alias, ps)
	default:
		return "", ir.Errorf(ir.CodeInvalidShape, "unsupported predicate type: %T", p)
	}
}

// combineSQL joins sub-predicates. An empty And is true, an empty Or false.
func (b *builder) combineSQL(preds []queryir.Predicate, sep, empty, alias string, ps *paramSet) (string, error) {
	if len(preds) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(preds))
	for _, sub := range preds {
		s, err := b.predicateSQL(sub, alias, ps)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (b *builder) compareSQL(c *queryir.Compare, alias string, ps *paramSet) (string, error) {
	col := alias + "." + quoteIdent(c.Field)

	if lit, ok := c.Operand.(queryir.Literal); ok && lit.Value == nil {
		switch c.Op {
		case queryir.OpEq:
			return col + " IS NULL", nil
		case queryir.OpNe:
			return col + " IS NOT NULL", nil
		}
	}

	placeholder := ps.add(b.operandParam(c.Operand))
	if c.Op == queryir.OpIn {
		return fmt.Sprintf("%s IN (SELECT value FROM json_each(%s))", col, placeholder), nil
	}
	op, ok := comparisonSQL[c.Op]
	if !ok {
		return "", ir.Errorf(ir.CodeInvalidShape, "unknown operator %q", c.Op)
	}
	return fmt.Sprintf("%s %s %s", col, op, placeholder), nil
}

// operandParam returns the placeholder name for an operand, recording
// literal values and argument defaults.
func (b *builder) operandParam(o queryir.Operand) string {
	switch op := o.(type) {
	case queryir.ArgRef:
		name := PrefixInput + op.Name
		b.userArgs[op.Name] = struct{}{}
		if _, set := b.defaults[name]; !set && op.HasDefault {
			b.defaults[name] = op.Default
		}
		return name
	case queryir.SessionRef:
		b.sessArgs[op.Name] = struct{}{}
		return PrefixSession + op.Name
	case queryir.Literal:
		name := fmt.Sprintf("%s%d", PrefixLiteral, b.literals)
		b.literals++
		b.defaults[name] = op.Value
		return name
	}
	panic(fmt.Sprintf("querysql: unknown operand type %T", o))
}

// quoteIdent quotes an SQL identifier, doubling embedded quotes.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// quoteString renders an SQL string literal. Only used for JSON object keys
// taken from the schema.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

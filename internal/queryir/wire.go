package queryir

// Wire renders the shape back to its JSON wire form. The result is
// normalized: fields and relations appear in sorted order, sort directions
// are lower case, and multi-field leaves are explicit $and lists. Two shapes
// with equal Wire values compile to the same plan.
func (s *Shape) Wire() map[string]any {
	out := make(map[string]any, len(s.Roots))
	for _, n := range s.Roots {
		out[n.Key] = n.wire()
	}
	return out
}

func (n *Node) wire() map[string]any {
	out := make(map[string]any, len(n.Fields)+len(n.Relations)+3)
	for _, f := range n.Fields {
		out[f] = true
	}
	for _, r := range n.Relations {
		out[r.Key] = r.wire()
	}
	if n.Where != nil {
		out[KeyWhere] = wirePredicate(n.Where)
	}
	if len(n.Sort) > 0 {
		keys := make([]any, len(n.Sort))
		for i, sk := range n.Sort {
			dir := "asc"
			if sk.Direction == Desc {
				dir = "desc"
			}
			keys[i] = map[string]any{"field": sk.Field, "direction": dir}
		}
		out[KeySort] = keys
	}
	if n.Limit != nil {
		out[KeyLimit] = int64(*n.Limit)
	}
	return out
}

func wirePredicate(p Predicate) map[string]any {
	switch pred := p.(type) {
	case *Compare:
		return map[string]any{pred.Field: map[string]any{string(pred.Op): wireOperand(pred.Operand)}}
	case *And:
		return map[string]any{"$and": wirePredicates(pred.Predicates)}
	case *Or:
		return map[string]any{"$or": wirePredicates(pred.Predicates)}
	}
	return nil
}

func wirePredicates(preds []Predicate) []any {
	out := make([]any, len(preds))
	for i, p := range preds {
		out[i] = wirePredicate(p)
	}
	return out
}

func wireOperand(o Operand) any {
	switch op := o.(type) {
	case Literal:
		return op.Value
	case ArgRef:
		m := map[string]any{"$arg": op.Name}
		if op.HasDefault {
			m["default"] = op.Default
		}
		return m
	case SessionRef:
		return map[string]any{"$session": op.Name}
	}
	return nil
}

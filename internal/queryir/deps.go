package queryir

import "sort"

// ExtractWhereFields returns the sorted set of field names a where clause
// references, recursing through And and Or. Every Compare contributes its
// field once regardless of operator.
func ExtractWhereFields(p Predicate) []string {
	set := make(map[string]struct{})
	collectWhereFields(p, set)
	return setToSorted(set)
}

func collectWhereFields(p Predicate, set map[string]struct{}) {
	switch pred := p.(type) {
	case *Compare:
		set[pred.Field] = struct{}{}
	case *And:
		for _, sub := range pred.Predicates {
			collectWhereFields(sub, set)
		}
	case *Or:
		for _, sub := range pred.Predicates {
			collectWhereFields(sub, set)
		}
	}
}

// TablesTouched returns the sorted names of every table the shape reads.
func TablesTouched(r *Resolved) []string {
	set := make(map[string]struct{})
	for _, n := range r.Nodes {
		set[n.TableName] = struct{}{}
	}
	return setToSorted(set)
}

// Dependencies maps each table to the fields referenced by where clauses on
// any node reading that table.
func Dependencies(r *Resolved) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, n := range r.Nodes {
		if n.Where == nil {
			continue
		}
		collectWhereFields(n.Where, ensureSet(sets, n.TableName))
	}
	return flatten(sets)
}

// StructuralDependencies maps each table to the fields that decide which
// rows a node holds or in what order, apart from its where clause: sort
// fields, the column a nested node correlates on, and the parent columns
// that child links read.
func StructuralDependencies(r *Resolved) map[string][]string {
	sets := make(map[string]map[string]struct{})
	for _, n := range r.Nodes {
		set := ensureSet(sets, n.TableName)
		for _, sk := range n.Sort {
			set[sk.Field] = struct{}{}
		}
		if !n.IsRoot() {
			set[n.Edge(r.Graph).ToColumn] = struct{}{}
		}
		for _, c := range n.Children {
			set[c.Edge(r.Graph).FromField] = struct{}{}
		}
	}
	return flatten(sets)
}

func ensureSet(sets map[string]map[string]struct{}, table string) map[string]struct{} {
	set, ok := sets[table]
	if !ok {
		set = make(map[string]struct{})
		sets[table] = set
	}
	return set
}

func flatten(sets map[string]map[string]struct{}) map[string][]string {
	out := make(map[string][]string, len(sets))
	for table, set := range sets {
		if len(set) == 0 {
			continue
		}
		out[table] = setToSorted(set)
	}
	return out
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

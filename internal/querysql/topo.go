package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/ir"
)

// StepKind is the kind of work a fragment does.
type StepKind int

const (
	// StepRows materializes one node's own rows.
	StepRows StepKind = iota
	// StepAggregate folds one nested node's rows into JSON per parent key.
	StepAggregate
	// StepEnvelope emits one top-level key of the result document.
	StepEnvelope
)

// String returns the fragment id suffix for the kind.
func (k StepKind) String() string {
	switch k {
	case StepRows:
		return "rows"
	case StepAggregate:
		return "agg"
	case StepEnvelope:
		return "envelope"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// Step is one node of the fragment dependency graph.
type Step struct {
	ID    string
	Kind  StepKind
	Node  int // preorder index of the shape node
	Depth int
	// After lists the ids of steps whose output this step reads.
	After []string
}

// TopoSort orders steps so every step follows all steps it reads (Kahn's
// algorithm). Among ready steps, row sets go first, then aggregates deepest
// first, then envelopes; ties break on preorder index. The result is fully
// determined by the input set.
//
// A dependency cycle or a reference to an unknown step is an internal
// error.
func TopoSort(steps []Step) ([]Step, error) {
	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, ir.Errorf(ir.CodeEngine, "duplicate step %q", s.ID)
		}
		byID[s.ID] = i
	}

	indegree := make([]int, len(steps))
	dependents := make([][]int, len(steps))
	for i, s := range steps {
		for _, dep := range s.After {
			j, ok := byID[dep]
			if !ok {
				return nil, ir.Errorf(ir.CodeEngine, "step %q depends on unknown step %q", s.ID, dep)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var ready []int
	for i := range steps {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]Step, 0, len(steps))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool {
			return stepLess(steps[ready[a]], steps[ready[b]])
		})
		next := ready[0]
		ready = ready[1:]
		out = append(out, steps[next])
		for _, d := range dependents[next] {
			indegree[d]--
			if indegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	if len(out) != len(steps) {
		var stuck []string
		for i, s := range steps {
			if indegree[i] > 0 {
				stuck = append(stuck, s.ID)
			}
		}
		return nil, ir.Errorf(ir.CodeEngine, "fragment dependency cycle among %s", strings.Join(stuck, ", "))
	}
	return out, nil
}

func stepLess(a, b Step) bool {
	if a.Kind != b.Kind {
		return a.Kind < b.Kind
	}
	if a.Kind == StepAggregate && a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	return a.Node < b.Node
}

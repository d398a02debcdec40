package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/roach88/relq/internal/ir"
	"github.com/roach88/relq/internal/schema"
	"github.com/roach88/relq/internal/store"
)

// validIdentifier matches valid SQL identifiers (table/column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == "delta" {
				fmt.Fprintf(&buf, "  [%d] %v %s %q\n", i, event.Tables, event.Decision, event.Reason)
			}
		}
	}

	return buf.String()
}

func deltaEvents(trace []TraceEvent) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Type == "delta" {
			out = append(out, ev)
		}
	}
	return out
}

// assertEnvelope checks the final result.
func assertEnvelope(r *Result, assertion Assertion) error {
	if diff := envelopeDiff(assertion.Expect, r.Envelope()); diff != "" {
		return &AssertionError{
			Type:     AssertEnvelope,
			Expected: "final envelope to match",
			Actual:   "diff (-want +got):\n" + diff,
		}
	}
	return nil
}

// assertTraceContains checks that some delta step decided the given
// decision (and reason prefix, if set).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, ev := range deltaEvents(trace) {
		if ev.Decision == assertion.Decision && strings.HasPrefix(ev.Reason, assertion.Reason) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("a step deciding %s with reason %q", assertion.Decision, assertion.Reason),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks the exact decision sequence of the delta steps.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	var got []string
	for _, ev := range deltaEvents(trace) {
		got = append(got, ev.Decision)
	}
	if !cmp.Equal(got, assertion.Decisions) {
		return &AssertionError{
			Type:     AssertTraceOrder,
			Expected: fmt.Sprintf("decisions %v", assertion.Decisions),
			Actual:   fmt.Sprintf("decisions %v", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertTraceCount checks how many delta steps decided the given decision.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range deltaEvents(trace) {
		if ev.Decision == assertion.Decision {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d step(s) deciding %s", assertion.Count, assertion.Decision),
			Actual:   fmt.Sprintf("%d step(s)", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of the table matches the
// where clause and that it carries the expected field values (subset
// match). Values are read back with their schema types.
func assertFinalState(ctx context.Context, st *store.Store, g *schema.Graph, assertion Assertion) error {
	tid, ok := g.TableByName(assertion.Table)
	if !ok {
		return fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}
	t := g.Table(tid)

	whereSQL, whereArgs, err := buildWhereClause(t, assertion.Where)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`SELECT "%s" FROM "%s"`, t.PrimaryKey, t.Name)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.Query(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	var ids []string
	for rows.Next() {
		var id any
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan row: %w", err)
		}
		if b, ok := id.([]byte); ok {
			id = string(b)
		}
		if s, ok := ir.NormalizeID(id); ok {
			ids = append(ids, s)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	whereDesc := formatWhereClause(assertion.Where)
	switch len(ids) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	found, err := st.SelectRows(ctx, g, t.Name, ids)
	if err != nil {
		return err
	}
	if len(found) != 1 {
		return fmt.Errorf("final_state: row %s vanished", ids[0])
	}
	actual := found[0]

	for _, key := range ir.SortedKeys(assertion.Expect) {
		expected := assertion.Expect[key]
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in row: %v", key, actual),
			}
		}
		if !ir.Equal(expected, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected, expected),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are
// sorted for determinism and must be fields of the table.
func buildWhereClause(t *schema.ResolvedTable, where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := ir.SortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) || !t.HasField(key) {
			return "", nil, fmt.Errorf("invalid column %q in where clause for table %s", key, t.Name)
		}
		clauses = append(clauses, fmt.Sprintf(`"%s" = ?`, key))
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// envelopeDiff compares two JSON-like values after a canonical round
// trip, so 1, int64(1) and 1.0 are the same number.
func envelopeDiff(want, got any) string {
	return cmp.Diff(normalize(want), normalize(got))
}

func normalize(v any) any {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("<unencodable %T: %v>", v, err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprintf("<undecodable: %v>", err)
	}
	return out
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Graph *schema.Graph
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertEnvelope:
			err = assertEnvelope(result, assertion)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil || actx.Graph == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, actx.Graph, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

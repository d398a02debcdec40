package harness

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/relq/internal/ir"
)

// TraceSnapshot captures a scenario's trace for golden comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	ErrorCode    string       `json:"error_code,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"type":     event.Type,
			"seq":      event.Seq,
			"envelope": map[string]any(event.Envelope),
		}
		if len(event.Tables) > 0 {
			eventMap["tables"] = event.Tables
		}
		if event.Decision != "" {
			eventMap["decision"] = event.Decision
		}
		if event.Reason != "" {
			eventMap["reason"] = event.Reason
		}
		if event.Patched != 0 {
			eventMap["patched"] = event.Patched
		}
		if event.Ignored != 0 {
			eventMap["ignored"] = event.Ignored
		}
		if event.Skipped != 0 {
			eventMap["skipped"] = event.Skipped
		}
		traceList[i] = eventMap
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.ErrorCode != "" {
		result["error_code"] = s.ErrorCode
	}
	return result
}

// RunWithGolden executes a scenario and compares its compiled SQL and
// trace against testdata/golden/{name}.sql.golden and
// testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails. Test failure (via goldie)
// occurs if the SQL or trace doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(t.Context(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against the golden files
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		ErrorCode:    result.ErrorCode,
		Trace:        result.Trace,
	}
	traceJSON, err := ir.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	g.Assert(t, scenarioName+".sql", []byte(maskFingerprint(strings.Join(result.SQL, "\n\n")+"\n", result.Fingerprint)))

	return nil
}

// maskFingerprint replaces the fingerprint prefix of temp table names with
// FP, so goldens do not churn when the shape hash changes.
func maskFingerprint(sql, fp string) string {
	if len(fp) < 8 {
		return sql
	}
	return strings.ReplaceAll(sql, fp[:8], "FP")
}

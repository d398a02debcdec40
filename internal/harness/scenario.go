package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/ir"
)

// Scenario defines a live-query conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden files.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the schema file. Relative paths are resolved against the
	// scenario file's directory by LoadScenario.
	Schema string `yaml:"schema"`

	// SessionArgs lists the $session names bound from Query.Session.
	SessionArgs []string `yaml:"session_args,omitempty"`

	// Seed holds rows inserted before subscribing, by table.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Query is the subscribed query.
	Query QuerySpec `yaml:"query"`

	// Steps are deltas ingested one after another.
	Steps []Step `yaml:"steps,omitempty"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// QuerySpec is the query a scenario subscribes to.
type QuerySpec struct {
	Shape   map[string]any `yaml:"shape"`
	Input   map[string]any `yaml:"input,omitempty"`
	Session map[string]any `yaml:"session,omitempty"`

	// ExpectError is the error code subscribing must fail with, such as
	// UNKNOWN_FIELD or MISSING_PARAM. Empty means it must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step is one delta and what it should do.
type Step struct {
	Delta  []TableDeltaSpec `yaml:"delta"`
	Expect *StepExpect      `yaml:"expect,omitempty"`
}

// TableDeltaSpec is the YAML form of ir.TableDelta.
type TableDeltaSpec struct {
	Table   string           `yaml:"table"`
	Changed []map[string]any `yaml:"changed,omitempty"`
	Removed []any            `yaml:"removed,omitempty"`
}

// StepExpect checks one step. Unset fields are not checked.
type StepExpect struct {
	// Decision is NoReExecute or ReExecuteFull.
	Decision string `yaml:"decision,omitempty"`

	// Reason must prefix the outcome's reason.
	Reason string `yaml:"reason,omitempty"`

	Patched *int `yaml:"patched,omitempty"`
	Ignored *int `yaml:"ignored,omitempty"`
	Skipped *int `yaml:"skipped,omitempty"`

	// Envelope is the exact result after the step.
	Envelope map[string]any `yaml:"envelope,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of envelope, trace_contains, trace_order, trace_count,
	// final_state.
	Type string `yaml:"type"`

	// Decision is the step decision (trace_contains, trace_count).
	Decision string `yaml:"decision,omitempty"`

	// Reason optionally narrows trace_contains by reason prefix.
	Reason string `yaml:"reason,omitempty"`

	// Decisions is the expected decision sequence (trace_order).
	Decisions []string `yaml:"decisions,omitempty"`

	// Count is the expected number of steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Table and Where select one row (final_state).
	Table string         `yaml:"table,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// Expect holds the expected envelope (envelope) or expected fields
	// (final_state, subset match).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertEnvelope      = "envelope"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// AsDelta converts the step to an ir.Delta.
func (s Step) AsDelta() ir.Delta {
	d := make(ir.Delta, len(s.Delta))
	for i, td := range s.Delta {
		rows := make([]ir.Row, len(td.Changed))
		for j, row := range td.Changed {
			rows[j] = ir.Row(row)
		}
		d[i] = ir.TableDelta{Table: td.Table, Changed: rows, Removed: td.Removed}
	}
	return d
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}
	if _, err := os.Stat(scenario.Schema); err != nil {
		return nil, fmt.Errorf("invalid scenario: schema file not found: %s", scenario.Schema)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Schema is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Query.Shape) == 0 {
		return fmt.Errorf("query.shape is required")
	}
	if s.Query.ExpectError != "" && len(s.Steps) > 0 {
		return fmt.Errorf("query.expect_error: a failing query cannot have steps")
	}

	for i, step := range s.Steps {
		if len(step.Delta) == 0 {
			return fmt.Errorf("steps[%d]: delta is required", i)
		}
		for j, td := range step.Delta {
			if td.Table == "" {
				return fmt.Errorf("steps[%d].delta[%d]: table is required", i, j)
			}
		}
		if step.Expect != nil {
			if err := validateDecision(step.Expect.Decision, true); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateDecision(d string, optional bool) error {
	switch d {
	case "NoReExecute", "ReExecuteFull":
		return nil
	case "":
		if optional {
			return nil
		}
		return fmt.Errorf("decision is required")
	default:
		return fmt.Errorf("unknown decision %q (want NoReExecute or ReExecuteFull)", d)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEnvelope:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for envelope", index)
		}
	case AssertTraceContains:
		if err := validateDecision(a.Decision, false); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertTraceOrder:
		if len(a.Decisions) == 0 {
			return fmt.Errorf("assertions[%d]: decisions list is required for trace_order", index)
		}
		for _, d := range a.Decisions {
			if err := validateDecision(d, false); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertTraceCount:
		if err := validateDecision(a.Decision, false); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}

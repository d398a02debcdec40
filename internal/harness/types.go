package harness

import "github.com/roach88/relq/internal/result"

// TraceEvent records one step of a scenario run.
type TraceEvent struct {
	Type     string          `json:"type"` // "subscribe" or "delta"
	Seq      int64           `json:"seq"`
	Tables   []string        `json:"tables,omitempty"`
	Decision string          `json:"decision,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Patched  int             `json:"patched,omitempty"`
	Ignored  int             `json:"ignored,omitempty"`
	Skipped  int             `json:"skipped,omitempty"` // malformed rows
	Envelope result.Envelope `json:"envelope"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// SQL lists the compiled fragments, one "-- id" header plus statement
	// each. Empty when compilation failed.
	SQL []string `json:"sql"`

	// Fingerprint is the compiled plan's fingerprint.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Trace holds the subscription and every delta step in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// ErrorCode is the code of the error the query failed with, if any.
	ErrorCode string `json:"error_code,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		SQL:    []string{},
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Envelope returns the result after the last step, or nil if the query
// never produced one.
func (r *Result) Envelope() result.Envelope {
	if len(r.Trace) == 0 {
		return nil
	}
	return r.Trace[len(r.Trace)-1].Envelope
}

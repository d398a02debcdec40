// Package result reassembles raw statement results into the nested JSON
// document a query shape describes.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/relq/internal/ir"
)

// InternalPrefix marks envelope columns that carry bookkeeping, not data.
const InternalPrefix = "__"

// Envelope is a reassembled result: top-level shape key to decoded value.
// Values are decoded with json.Number for numbers.
type Envelope map[string]any

// Clone returns a deep copy.
func (e Envelope) Clone() Envelope {
	out := make(Envelope, len(e))
	for k, v := range e {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Reassemble keeps the result sets of include fragments, decodes the one
// external column of each as JSON, and merges them into one Envelope. A
// decoded value that is not an array is wrapped in a one-element array.
//
// results must align 1:1 with fragments; a length mismatch is an
// EngineError. Invalid JSON is a DecodeError naming the fragment.
func Reassemble(fragments []ir.Fragment, results []ir.ResultSet) (Envelope, error) {
	if len(fragments) != len(results) {
		return nil, ir.Errorf(ir.CodeEngine, "got %d result sets for %d fragments", len(results), len(fragments))
	}

	env := make(Envelope)
	for i, f := range fragments {
		if !f.Include {
			continue
		}
		rs := results[i]
		col, err := externalColumn(f, rs)
		if err != nil {
			return nil, err
		}
		if _, dup := env[col]; dup {
			return nil, &ir.Error{Code: ir.CodeEngine, Message: fmt.Sprintf("envelope key %q produced twice", col), Fragment: f.ID}
		}

		var value any = []any{}
		if len(rs.Rows) > 0 {
			value, err = decode(f, rs.Rows[0][col])
			if err != nil {
				return nil, err
			}
		}
		if _, isList := value.([]any); !isList {
			value = []any{value}
		}
		env[col] = value
	}
	return env, nil
}

func externalColumn(f ir.Fragment, rs ir.ResultSet) (string, error) {
	columns := rs.Columns
	if len(columns) == 0 && len(rs.Rows) > 0 {
		for name := range rs.Rows[0] {
			columns = append(columns, name)
		}
	}

	var found []string
	for _, c := range columns {
		if !strings.HasPrefix(c, InternalPrefix) {
			found = append(found, c)
		}
	}
	if len(found) != 1 {
		return "", &ir.Error{
			Code:     ir.CodeEngine,
			Message:  fmt.Sprintf("envelope fragment must expose exactly one external column, got %v", found),
			Fragment: f.ID,
		}
	}
	return found[0], nil
}

func decode(f ir.Fragment, raw any) (any, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case nil:
		return nil, nil
	default:
		return nil, &ir.Error{Code: ir.CodeDecode, Message: fmt.Sprintf("envelope column holds %T, not JSON text", raw), Fragment: f.ID}
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, &ir.Error{Code: ir.CodeDecode, Message: "envelope column is not valid JSON", Fragment: f.ID, Err: err}
	}
	if dec.More() {
		return nil, &ir.Error{Code: ir.CodeDecode, Message: "trailing data after JSON value", Fragment: f.ID}
	}
	return out, nil
}

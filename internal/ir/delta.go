package ir

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Reserved row keys carried by every delta row.
const (
	FieldID        = "id"
	FieldUpdatedAt = "updatedAt"
)

// Row is one row snapshot keyed by column name.
type Row map[string]any

// ID returns the row's identity normalized to a string. Strings are used as
// is; integral numbers are formatted in base 10. Anything else (missing,
// empty, fractional, boolean, composite) is not a usable id.
func (r Row) ID() (string, bool) {
	return NormalizeID(r[FieldID])
}

// UpdatedAt returns the row's updatedAt as epoch milliseconds. Numbers are
// taken as epoch milliseconds; strings must be RFC 3339 timestamps.
func (r Row) UpdatedAt() (int64, bool) {
	switch v := r[FieldUpdatedAt].(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return 0, false
		}
		return ts.UnixMilli(), true
	case nil, bool:
		return 0, false
	default:
		f, ok := toFloat(v)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return int64(f), true
	}
}

// NormalizeID converts an id value to its string key.
func NormalizeID(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", false
		}
		return id, true
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		return "", false
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(id), 10), true
	default:
		return "", false
	}
}

// TableDelta is the set of row changes for one table.
type TableDelta struct {
	Table   string `json:"table"`
	Changed []Row  `json:"changed"`
	Removed []any  `json:"removed"`
}

// Delta is a batch of row-level upserts and removals across tables, in
// commit order.
type Delta []TableDelta

// Tables returns the distinct table names the delta touches, in order of
// first appearance.
func (d Delta) Tables() []string {
	seen := make(map[string]bool, len(d))
	var out []string
	for _, td := range d {
		if !seen[td.Table] {
			seen[td.Table] = true
			out = append(out, td.Table)
		}
	}
	return out
}

// ParseDelta decodes the delta wire message. Numbers are kept as
// json.Number so large integer ids survive the round trip.
func ParseDelta(data []byte) (Delta, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var d Delta
	if err := dec.Decode(&d); err != nil {
		return nil, &Error{Code: CodeMalformedDelta, Message: "delta message is not a valid table delta list", Err: err}
	}
	return d, nil
}

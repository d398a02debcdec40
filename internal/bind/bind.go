// Package bind turns caller input into statement arguments: Bind merges
// user input, session context and plan defaults into one ArgMap, and Batch
// projects that map onto each fragment's declared placeholders.
package bind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/roach88/relq/internal/ir"
)

// Placeholder namespaces, matching the compiler's.
const (
	InputPrefix   = "in_"
	SessionPrefix = "sess_"
)

// Bind merges arguments into one flat map:
//
//  1. defaults (compiler literals and $arg defaults)
//  2. user input, each key k stored as "in_<k>"
//  3. session context, each configured name n present in session stored as
//     "sess_<n>"
//
// Later layers override earlier ones. A nil input value is absent and is
// dropped, so a default can apply. Objects, arrays and structs are
// serialized to JSON text; time.Time becomes RFC 3339 text.
func Bind(input, session map[string]any, sessionArgs []string, defaults ir.ArgMap) (ir.ArgMap, error) {
	out := make(ir.ArgMap, len(defaults)+len(input)+len(sessionArgs))

	for name, v := range defaults {
		bv, ok, err := bindValue(v)
		if err != nil {
			return nil, fmt.Errorf("bind default %s: %w", name, err)
		}
		if ok {
			out[name] = bv
		}
	}

	for key, v := range input {
		bv, ok, err := bindValue(v)
		if err != nil {
			return nil, fmt.Errorf("bind input %s: %w", key, err)
		}
		if ok {
			out[InputPrefix+key] = bv
		}
	}

	for _, name := range sessionArgs {
		v, present := session[name]
		if !present {
			continue
		}
		bv, ok, err := bindValue(v)
		if err != nil {
			return nil, fmt.Errorf("bind session %s: %w", name, err)
		}
		if ok {
			out[SessionPrefix+name] = bv
		}
	}
	return out, nil
}

// bindValue converts v to something the driver accepts. ok is false for
// absent values.
func bindValue(v any) (any, bool, error) {
	switch val := v.(type) {
	case nil:
		return nil, false, nil
	case string, bool, int64, float64, []byte:
		return val, true, nil
	case int:
		return int64(val), true, nil
	case int32:
		return int64(val), true, nil
	case float32:
		return float64(val), true, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, false, fmt.Errorf("invalid number %q", val)
		}
		return f, true, nil
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), true, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, false, nil
		}
		return bindValue(rv.Elem().Interface())
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		text, err := marshalJSON(v)
		if err != nil {
			return nil, false, err
		}
		return text, true, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true, nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true, nil
	case reflect.String:
		return rv.String(), true, nil
	case reflect.Bool:
		return rv.Bool(), true, nil
	}
	return nil, false, fmt.Errorf("unsupported argument type %T", v)
}

func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

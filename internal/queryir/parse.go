package queryir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/relq/internal/ir"
)

// Reserved node keys.
const (
	KeyWhere = "@where"
	KeySort  = "@sort"
	KeyLimit = "@limit"
)

var argNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseShape parses the JSON wire form of a query shape.
func ParseShape(data []byte) (*Shape, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &ir.Error{Code: ir.CodeInvalidShape, Message: "shape is not valid JSON", Err: err}
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, ir.Errorf(ir.CodeInvalidShape, "shape must be an object, got %T", raw)
	}
	return ParseShapeMap(m)
}

// ParseShapeMap parses an already-decoded wire form. Numbers may be
// json.Number or any Go numeric type.
func ParseShapeMap(m map[string]any) (*Shape, error) {
	s := &Shape{}
	for _, key := range sortedKeys(m) {
		if strings.HasPrefix(key, "@") {
			return nil, shapeErr(key, "%s is only valid inside a table", key)
		}
		switch v := m[key].(type) {
		case bool:
			if v {
				s.Roots = append(s.Roots, &Node{Key: key})
			}
		case map[string]any:
			n, err := parseNode(key, key, v)
			if err != nil {
				return nil, err
			}
			s.Roots = append(s.Roots, n)
		default:
			return nil, shapeErr(key, "table selection must be true or an object, got %T", v)
		}
	}
	return s, nil
}

func parseNode(key, path string, m map[string]any) (*Node, error) {
	n := &Node{Key: key}
	for _, k := range sortedKeys(m) {
		v := m[k]
		childPath := path + "." + k
		switch k {
		case KeyWhere:
			p, err := parseWhere(childPath, v)
			if err != nil {
				return nil, err
			}
			n.Where = p
		case KeySort:
			keys, err := parseSort(childPath, v)
			if err != nil {
				return nil, err
			}
			n.Sort = keys
		case KeyLimit:
			limit, err := parseLimit(childPath, v)
			if err != nil {
				return nil, err
			}
			n.Limit = &limit
		default:
			if strings.HasPrefix(k, "@") || strings.HasPrefix(k, "$") {
				return nil, shapeErr(childPath, "unknown directive %q", k)
			}
			switch sel := v.(type) {
			case bool:
				if sel {
					n.Fields = append(n.Fields, k)
				}
			case map[string]any:
				child, err := parseNode(k, childPath, sel)
				if err != nil {
					return nil, err
				}
				n.Relations = append(n.Relations, child)
			default:
				return nil, shapeErr(childPath, "selection must be true or an object, got %T", v)
			}
		}
	}
	return n, nil
}

func parseSort(path string, v any) ([]SortKey, error) {
	var items []any
	switch s := v.(type) {
	case []any:
		items = s
	case map[string]any:
		items = []any{s}
	default:
		return nil, shapeErr(path, "sort must be an object or array, got %T", v)
	}

	keys := make([]SortKey, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, shapeErr(fmt.Sprintf("%s[%d]", path, i), "sort key must be an object, got %T", item)
		}
		field, _ := obj["field"].(string)
		if field == "" {
			return nil, shapeErr(fmt.Sprintf("%s[%d]", path, i), "sort key has no field")
		}
		var dirText string
		if raw, ok := obj["direction"]; ok {
			if dirText, ok = raw.(string); !ok {
				return nil, shapeErr(fmt.Sprintf("%s[%d]", path, i), "direction must be a string, got %T", raw)
			}
		}
		dir, err := ParseDirection(dirText)
		if err != nil {
			return nil, &ir.Error{Code: ir.CodeInvalidShape, Message: err.Error(), Path: fmt.Sprintf("%s[%d]", path, i)}
		}
		keys = append(keys, SortKey{Field: field, Direction: dir})
	}
	return keys, nil
}

func parseLimit(path string, v any) (int, error) {
	n, ok := toInt(v)
	if !ok || n < 0 {
		return 0, shapeErr(path, "limit must be a non-negative integer, got %v", v)
	}
	return n, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func parseWhere(path string, v any) (Predicate, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, shapeErr(path, "where clause must be an object, got %T", v)
	}

	var preds []Predicate
	for _, k := range sortedKeys(obj) {
		val := obj[k]
		switch {
		case k == "$and" || k == "$or":
			items, ok := val.([]any)
			if !ok {
				return nil, shapeErr(path+"."+k, "%s takes an array, got %T", k, val)
			}
			sub := make([]Predicate, 0, len(items))
			for i, item := range items {
				p, err := parseWhere(fmt.Sprintf("%s.%s[%d]", path, k, i), item)
				if err != nil {
					return nil, err
				}
				sub = append(sub, p)
			}
			if k == "$and" {
				preds = append(preds, &And{Predicates: sub})
			} else {
				preds = append(preds, &Or{Predicates: sub})
			}
		case strings.HasPrefix(k, "$"):
			return nil, shapeErr(path+"."+k, "unknown combinator %q", k)
		default:
			p, err := parseLeaf(path+"."+k, k, val)
			if err != nil {
				return nil, err
			}
			preds = append(preds, p)
		}
	}

	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Predicates: preds}, nil
}

func parseLeaf(path, field string, v any) (Predicate, error) {
	obj, ok := v.(map[string]any)
	if !ok || isOperandObject(obj) {
		operand, err := parseOperand(path, OpEq, v)
		if err != nil {
			return nil, err
		}
		return &Compare{Field: field, Op: OpEq, Operand: operand}, nil
	}
	if len(obj) == 0 {
		return nil, shapeErr(path, "empty operator object")
	}

	var preds []Predicate
	for _, k := range sortedKeys(obj) {
		op := Op(k)
		if !op.Valid() {
			return nil, shapeErr(path+"."+k, "unknown operator %q", k)
		}
		operand, err := parseOperand(path+"."+k, op, obj[k])
		if err != nil {
			return nil, err
		}
		preds = append(preds, &Compare{Field: field, Op: op, Operand: operand})
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return &And{Predicates: preds}, nil
}

func isOperandObject(obj map[string]any) bool {
	_, arg := obj["$arg"]
	_, sess := obj["$session"]
	return arg || sess
}

func parseOperand(path string, op Op, v any) (Operand, error) {
	if obj, ok := v.(map[string]any); ok {
		if name, ok := obj["$arg"]; ok {
			s, _ := name.(string)
			if !argNamePattern.MatchString(s) {
				return nil, shapeErr(path, "invalid argument name %v", name)
			}
			ref := ArgRef{Name: s}
			if def, ok := obj["default"]; ok {
				d, err := normalizeValue(path, op, def)
				if err != nil {
					return nil, err
				}
				ref.Default = d
				ref.HasDefault = d != nil
			}
			return ref, nil
		}
		if name, ok := obj["$session"]; ok {
			s, _ := name.(string)
			if !argNamePattern.MatchString(s) {
				return nil, shapeErr(path, "invalid session argument name %v", name)
			}
			return SessionRef{Name: s}, nil
		}
		return nil, shapeErr(path, "object values are not comparable")
	}

	val, err := normalizeValue(path, op, v)
	if err != nil {
		return nil, err
	}
	return Literal{Value: val}, nil
}

// normalizeValue converts a decoded JSON value into a bindable literal.
func normalizeValue(path string, op Op, v any) (any, error) {
	if op == OpIn {
		items, ok := v.([]any)
		if !ok {
			return nil, shapeErr(path, "$in takes an array, got %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			s, err := normalizeScalar(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	return normalizeScalar(path, v)
}

func normalizeScalar(path string, v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return val, nil
	case int:
		return int64(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, shapeErr(path, "invalid number %q", val)
		}
		return f, nil
	default:
		return nil, shapeErr(path, "value must be a scalar, got %T", v)
	}
}

func shapeErr(path, format string, args ...any) *ir.Error {
	return &ir.Error{
		Code:    ir.CodeInvalidShape,
		Message: fmt.Sprintf(format, args...),
		Path:    path,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

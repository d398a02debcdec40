package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/ir"
)

// LoadFile loads a schema from a .cue, .yaml, .yml or .json file and
// resolves it into a Graph.
func LoadFile(path string) (*Graph, error) {
	s, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Resolve(s)
}

// ReadFile parses a schema file without resolving it, so callers can adjust
// it first (for example MaxDepth).
func ReadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(path, data)
	case ".yaml", ".yml", ".json":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported schema file extension %q", filepath.Ext(path))
	}
}

// document is the shared on-disk layout of YAML and CUE schemas:
//
//	max_depth: 4
//	tables: users: {
//		primary_key: "id"
//		fields: {id: "text", name: "text"}
//		links: posts: {kind: "one_to_many", from: "id", to_table: "posts", to_column: "authorId"}
//		indices: [{name: "users_name", fields: ["name"]}]
//	}
type document struct {
	MaxDepth int                      `yaml:"max_depth"`
	Tables   map[string]tableDocument `yaml:"tables"`
}

type tableDocument struct {
	PrimaryKey string                  `yaml:"primary_key"`
	Fields     map[string]string       `yaml:"fields"`
	Links      map[string]linkDocument `yaml:"links"`
	Indices    []Index                 `yaml:"indices"`
}

type linkDocument struct {
	Kind     string `yaml:"kind"`
	From     string `yaml:"from"`
	ToTable  string `yaml:"to_table"`
	ToColumn string `yaml:"to_column"`
}

// ParseYAML parses the YAML (or JSON) schema layout.
func ParseYAML(data []byte) (*Schema, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ir.Error{Code: ir.CodeInvalidSchema, Message: "parse yaml", Err: err}
	}
	return doc.toSchema()
}

func (d document) toSchema() (*Schema, error) {
	s := &Schema{
		Tables:   make(map[string]*Table, len(d.Tables)),
		MaxDepth: d.MaxDepth,
	}
	for name, td := range d.Tables {
		t := &Table{
			Name:       name,
			PrimaryKey: td.PrimaryKey,
			Links:      make(map[string]LinkInfo, len(td.Links)),
			Indices:    td.Indices,
		}
		for _, fname := range sortedKeys(td.Fields) {
			t.Fields = append(t.Fields, Field{Name: fname, Type: FieldType(td.Fields[fname])})
		}
		for lname, ld := range td.Links {
			kind, err := ParseLinkKind(ld.Kind)
			if err != nil {
				return nil, schemaErr(name, "link %q: %v", lname, err)
			}
			t.Links[lname] = LinkInfo{
				Kind:      kind,
				FromField: ld.From,
				ToTable:   ld.ToTable,
				ToColumn:  ld.ToColumn,
			}
		}
		s.Tables[name] = t
	}
	return s, nil
}

// ParseCUE evaluates a CUE schema using the CUE SDK's Go API and extracts the
// shared layout. filename is used for error positions only.
func ParseCUE(filename string, data []byte) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	var doc document
	if md := v.LookupPath(cue.ParsePath("max_depth")); md.Exists() {
		n, err := md.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		doc.MaxDepth = int(n)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, ir.Errorf(ir.CodeInvalidSchema, "%s: tables is required", filename)
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	doc.Tables = make(map[string]tableDocument)
	for iter.Next() {
		td, err := parseCUETable(iter.Value())
		if err != nil {
			return nil, err
		}
		doc.Tables[iter.Label()] = td
	}
	return doc.toSchema()
}

func parseCUETable(v cue.Value) (tableDocument, error) {
	var td tableDocument
	var err error

	if pk := v.LookupPath(cue.ParsePath("primary_key")); pk.Exists() {
		if td.PrimaryKey, err = pk.String(); err != nil {
			return td, formatCUEError(err)
		}
	}

	if td.Fields, err = cueStringMap(v.LookupPath(cue.ParsePath("fields"))); err != nil {
		return td, err
	}

	linksVal := v.LookupPath(cue.ParsePath("links"))
	if linksVal.Exists() {
		iter, err := linksVal.Fields()
		if err != nil {
			return td, formatCUEError(err)
		}
		td.Links = make(map[string]linkDocument)
		for iter.Next() {
			attrs, err := cueStringMap(iter.Value())
			if err != nil {
				return td, err
			}
			td.Links[iter.Label()] = linkDocument{
				Kind:     attrs["kind"],
				From:     attrs["from"],
				ToTable:  attrs["to_table"],
				ToColumn: attrs["to_column"],
			}
		}
	}

	indicesVal := v.LookupPath(cue.ParsePath("indices"))
	if indicesVal.Exists() {
		list, err := indicesVal.List()
		if err != nil {
			return td, formatCUEError(err)
		}
		for list.Next() {
			var idx Index
			if err := list.Value().Decode(&idx); err != nil {
				return td, formatCUEError(err)
			}
			td.Indices = append(td.Indices, idx)
		}
	}
	return td, nil
}

// cueStringMap reads a struct of string-valued fields. A missing value
// yields an empty map.
func cueStringMap(v cue.Value) (map[string]string, error) {
	out := make(map[string]string)
	if !v.Exists() {
		return out, nil
	}
	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out[iter.Label()] = s
	}
	return out, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ir.Error{Code: ir.CodeInvalidSchema, Message: "cue", Err: err}
	}
	first := errs[0]
	msg := first.Error()
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		pos := positions[0]
		msg = fmt.Sprintf("%s:%d:%d: %s", pos.Filename(), pos.Line(), pos.Column(), msg)
	}
	return &ir.Error{Code: ir.CodeInvalidSchema, Message: msg}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

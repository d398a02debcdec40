package bind

import (
	"fmt"

	"github.com/roach88/relq/internal/ir"
)

type batchConfig struct {
	allowUnbound bool
}

// BatchOption configures Batch.
type BatchOption func(*batchConfig)

// AllowUnbound leaves declared params without a value unbound instead of
// failing. The engine binds NULL for them.
func AllowUnbound() BatchOption {
	return func(c *batchConfig) {
		c.allowUnbound = true
	}
}

// Batch projects args onto each fragment's declared params, in declared
// order. A statement never receives an argument its fragment did not
// declare.
//
// A declared param missing from args is a MissingParam error naming the
// fragment and param, unless AllowUnbound is set.
func Batch(fragments []ir.Fragment, args ir.ArgMap, opts ...BatchOption) ([]ir.Statement, error) {
	var cfg batchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	stmts := make([]ir.Statement, 0, len(fragments))
	for _, f := range fragments {
		stmt := ir.Statement{
			FragmentID: f.ID,
			SQL:        f.SQL,
			Include:    f.Include,
			Args:       make([]ir.NamedArg, 0, len(f.Params)),
		}
		for _, name := range f.Params {
			v, ok := args[name]
			if !ok {
				if cfg.allowUnbound {
					continue
				}
				return nil, &ir.Error{
					Code:     ir.CodeMissingParam,
					Message:  fmt.Sprintf("no value for placeholder :%s", name),
					Fragment: f.ID,
					Param:    name,
				}
			}
			stmt.Args = append(stmt.Args, ir.NamedArg{Name: name, Value: v})
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

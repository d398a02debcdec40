package engine

import (
	"errors"
	"fmt"
)

// ErrUnknownQuery is returned for a live query id that is not registered,
// including one unregistered while its refresh was in flight.
var ErrUnknownQuery = errors.New("unknown live query")

// QueryError attaches a live query id to a failure.
type QueryError struct {
	QueryID string
	Err     error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	return fmt.Sprintf("live query %s: %v", e.QueryID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// IsUnknownQuery reports whether err means the query is not registered.
// Uses errors.Is to handle wrapped errors.
func IsUnknownQuery(err error) bool {
	return errors.Is(err, ErrUnknownQuery)
}

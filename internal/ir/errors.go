package ir

import (
	"errors"
	"fmt"
	"strings"
)

// Code categorizes pipeline errors.
type Code string

const (
	// CodeUnknownField indicates a shape references a field absent from its table.
	CodeUnknownField Code = "UNKNOWN_FIELD"

	// CodeUnknownRelation indicates a shape references a table or link absent
	// from the schema.
	CodeUnknownRelation Code = "UNKNOWN_RELATION"

	// CodeEmptyQuery indicates the shape selects nothing.
	CodeEmptyQuery Code = "EMPTY_QUERY"

	// CodeDepthExceeded indicates relation nesting beyond the schema's max depth.
	CodeDepthExceeded Code = "DEPTH_EXCEEDED"

	// CodeInvalidShape indicates a malformed query shape wire form.
	CodeInvalidShape Code = "INVALID_SHAPE"

	// CodeInvalidSchema indicates inconsistent schema metadata.
	CodeInvalidSchema Code = "INVALID_SCHEMA"

	// CodeMissingParam indicates a declared placeholder has no bound value.
	CodeMissingParam Code = "MISSING_PARAM"

	// CodeEngine indicates the execution engine failed the batch.
	CodeEngine Code = "ENGINE_ERROR"

	// CodeMalformedDelta indicates a delta row without a usable id or updatedAt.
	CodeMalformedDelta Code = "MALFORMED_DELTA"

	// CodeDecode indicates an envelope column that is not valid JSON.
	CodeDecode Code = "DECODE_ERROR"
)

// Sentinels for errors.Is. An *Error matches a sentinel when the codes match.
var (
	ErrUnknownField    = &Error{Code: CodeUnknownField}
	ErrUnknownRelation = &Error{Code: CodeUnknownRelation}
	ErrEmptyQuery      = &Error{Code: CodeEmptyQuery}
	ErrDepthExceeded   = &Error{Code: CodeDepthExceeded}
	ErrInvalidShape    = &Error{Code: CodeInvalidShape}
	ErrInvalidSchema   = &Error{Code: CodeInvalidSchema}
	ErrMissingParam    = &Error{Code: CodeMissingParam}
	ErrEngine          = &Error{Code: CodeEngine}
	ErrMalformedDelta  = &Error{Code: CodeMalformedDelta}
	ErrDecode          = &Error{Code: CodeDecode}
)

// Error is the typed failure surfaced by every stage of the pipeline.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Path locates the offending node in a query shape (e.g. "users.posts").
	Path string

	// Table names the table involved, when there is one.
	Table string

	// Fragment names the fragment involved (bind and execution errors).
	Fragment string

	// Param names the placeholder involved (bind errors).
	Param string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var ctx []string
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Table != "" {
		ctx = append(ctx, "table="+e.Table)
	}
	if e.Fragment != "" {
		ctx = append(ctx, "fragment="+e.Fragment)
	}
	if e.Param != "" {
		ctx = append(ctx, "param="+e.Param)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the code from err, or "" if err is not an *Error.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCompileError returns true for errors detected before any statement is
// built: unknown names, empty or malformed shapes, depth violations.
func IsCompileError(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownField, CodeUnknownRelation, CodeEmptyQuery, CodeDepthExceeded, CodeInvalidShape:
		return true
	}
	return false
}

// Errorf creates an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

package ir

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("compile: %w", &Error{Code: CodeUnknownField, Message: "no field", Table: "users"})

	assert.True(t, errors.Is(err, ErrUnknownField))
	assert.False(t, errors.Is(err, ErrUnknownRelation))
	assert.Equal(t, CodeUnknownField, CodeOf(err))
	assert.True(t, IsCompileError(err))
}

func TestError_Message(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := &Error{Code: CodeEngine, Message: "batch failed", Fragment: "users#rows", Err: cause}

	assert.Equal(t, "ENGINE_ERROR: batch failed (fragment=users#rows): disk I/O error", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsCompileError(err))
}

func TestCodeOf_NonPipelineError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestErrorf(t *testing.T) {
	err := Errorf(CodeMissingParam, "param %q unbound", "in_x")
	assert.Equal(t, `MISSING_PARAM: param "in_x" unbound`, err.Error())
}

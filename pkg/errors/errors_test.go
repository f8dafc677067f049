package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageIncludesSortedDetails(t *testing.T) {
	err := New(ErrorTypeSubmissionFailed, "PUT rejected").
		WithDetail("status_code", 400).
		WithDetail("connector", "sink")

	assert.Equal(t, "submission_failed: PUT rejected (connector=sink, status_code=400)", err.Error())
	assert.Equal(t, 400, err.Detail("status_code"))
	assert.Nil(t, err.Detail("missing"))
}

func TestWrap_PreservesCauseAndStack(t *testing.T) {
	inner := New(ErrorTypeConnection, "dial failed")
	outer := Wrap(inner, ErrorTypeSubmissionFailed, "submit")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.True(t, IsType(outer, ErrorTypeSubmissionFailed))
	assert.Equal(t, ErrorTypeSubmissionFailed, TypeOf(outer))

	var found *Error
	require.True(t, As(outer.Unwrap(), &found))
	assert.Equal(t, ErrorTypeConnection, found.Type)
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "nothing"))
}

func TestTypeOf_ForeignError(t *testing.T) {
	assert.Equal(t, ErrorType(""), TypeOf(stderrors.New("plain")))
	assert.False(t, IsType(stderrors.New("plain"), ErrorTypeTimeout))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestDetailOf_WalksChain(t *testing.T) {
	inner := New(ErrorTypeValidation, "PUT rejected").WithDetail("status_code", 400)
	outer := Wrap(inner, ErrorTypeSubmissionFailed, "submit").WithDetail("connector", "sink")

	assert.Equal(t, 400, DetailOf(outer, "status_code"))
	assert.Equal(t, "sink", DetailOf(outer, "connector"))
	assert.Nil(t, DetailOf(outer, "missing"))
	assert.Nil(t, DetailOf(stderrors.New("plain"), "status_code"))
}

package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDuplicateJobError(t *testing.T) {
	err := NewDuplicateJobError("build")
	assert.Equal(t, ErrorCodeDuplicateJob, err.Code)
	assert.Equal(t, CategoryGraphShape, err.Category)
	assert.Contains(t, err.Error(), "build")
}

func TestNewCycleDetectedError(t *testing.T) {
	err := NewCycleDetectedError([]string{"a", "b"})
	assert.Equal(t, ErrorCodeCycleDetected, err.Code)
	assert.Contains(t, err.Details, "a")
}

func TestWrappedCauseUnwraps(t *testing.T) {
	cause := stderrors.New("boom")
	err := NewInfrastructureError("tmux not found", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CategoryInfrastructure, err.Category)
	assert.Contains(t, err.Error(), "boom")
}

func TestCategoryForUnknownCodeFallsBackToUnknown(t *testing.T) {
	err := New(ErrorCode("SOMETHING_ELSE"), "msg")
	assert.Equal(t, CategoryUnknown, err.Category)
}

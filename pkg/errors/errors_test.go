package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndWrap(t *testing.T) {
	err := New(CodeInvalidSpec, "bad spec")
	assert.Equal(t, CodeInvalidSpec, err.Code)
	assert.Contains(t, err.Error(), "bad spec")

	cause := fmt.Errorf("disk full")
	wrapped := Wrap(cause, CodeMigrationFailed, "copy failed")
	assert.Equal(t, CodeMigrationFailed, GetCode(wrapped))
	assert.Contains(t, wrapped.Error(), "copy failed")
	assert.Equal(t, cause, stderrors.Unwrap(wrapped))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeBackendNotFound, "backend not found").
		WithDetail("backend_id", "b-1").
		WithDetail("tier", "hot")
	require.NotNil(t, err.Details)
	assert.Equal(t, "b-1", err.Details["backend_id"])
	assert.Equal(t, "hot", err.Details["tier"])
}

func TestIsMatchesByCode(t *testing.T) {
	err := Wrap(fmt.Errorf("inner"), CodeBackendBusy, "busy")
	assert.True(t, stderrors.Is(err, ErrBackendBusy))
	assert.False(t, stderrors.Is(err, ErrBackendNotFound))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(New(CodeBackendNotFound, "gone")))
	assert.True(t, IsNotFound(New(CodeRecordNotFound, "gone")))
	assert.False(t, IsNotFound(New(CodeInternal, "boom")))

	assert.True(t, IsBusy(ErrBackendBusy))
	assert.False(t, IsBusy(ErrBackendNotFound))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(New(CodeDeadlineExceeded, "slow")))
	assert.True(t, IsTransient(New(CodeBackendUnavailable, "down")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("query: %w", context.DeadlineExceeded)))

	assert.False(t, IsTransient(New(CodeInvalidSpec, "bad")))
	assert.False(t, IsTransient(New(CodeBackendNotFound, "gone")))
	assert.False(t, IsTransient(nil))
}

func TestGetCodeOnForeignError(t *testing.T) {
	assert.Equal(t, CodeInternal, GetCode(fmt.Errorf("plain")))
	assert.Equal(t, "plain", GetMessage(fmt.Errorf("plain")))
}

package guarderr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCategoryPredicates match only their own category
func TestCategoryPredicates(t *testing.T) {
	notFound := NewNotFound("session", "load", "session missing")
	validation := NewValidation("risk", "validate_config", "bad limit")
	security := NewSecurity("session", "validate_id", "traversal")
	transient := WrapIO(errors.New("disk full"), "session", "save")

	assert.True(t, IsNotFound(notFound))
	assert.False(t, IsNotFound(validation))

	assert.True(t, IsValidation(validation))
	assert.False(t, IsValidation(security))

	assert.True(t, IsSecurity(security))
	assert.False(t, IsSecurity(transient))

	assert.True(t, IsTransientIO(transient))
	assert.False(t, IsTransientIO(notFound))

	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

// TestPredicates_SeeThroughWrapping works across fmt.Errorf chains
func TestPredicates_SeeThroughWrapping(t *testing.T) {
	inner := NewSecurity("session", "validate_id", "bad id")
	wrapped := fmt.Errorf("loading session: %w", inner)

	assert.True(t, IsSecurity(wrapped))
	assert.False(t, IsValidation(wrapped))
}

// TestWrapIO_PreservesUnderlying keeps the cause reachable via errors.Is
func TestWrapIO_PreservesUnderlying(t *testing.T) {
	underlying := fs.ErrPermission
	err := WrapIO(underlying, "session", "save")

	require.NotNil(t, err)
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.Contains(t, err.Error(), "TRANSIENT_IO")
	assert.Contains(t, err.Error(), "save")
}

// TestWrapIO_NilPassthrough returns nil for nil causes
func TestWrapIO_NilPassthrough(t *testing.T) {
	assert.Nil(t, WrapIO(nil, "session", "save"))
}

// TestRetryable is true only for transient I/O
func TestRetryable(t *testing.T) {
	assert.True(t, WrapIO(errors.New("timeout"), "broker", "poll").Retryable())
	assert.False(t, NewValidation("risk", "check", "bad").Retryable())
	assert.False(t, NewSecurity("session", "id", "bad").Retryable())
	assert.False(t, NewNotFound("session", "load", "gone").Retryable())
}

// TestErrorString includes category, component, and operation
func TestErrorString(t *testing.T) {
	err := NewNotFound("session", "load", `session "x" does not exist`)
	msg := err.Error()

	assert.Contains(t, msg, "NOT_FOUND")
	assert.Contains(t, msg, "session")
	assert.Contains(t, msg, "load")
}

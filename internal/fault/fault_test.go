package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(ConcurrencyConflict, "version drift on task %s", "t1")
	assert.Equal(t, ConcurrencyConflict, KindOf(err))
	assert.Contains(t, err.Error(), "CONCURRENCY_CONFLICT")
	assert.Contains(t, err.Error(), "t1")

	// Kinds survive fmt.Errorf wrapping.
	wrapped := fmt.Errorf("engine: %w", err)
	assert.Equal(t, ConcurrencyConflict, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ConcurrencyConflict))

	// Untagged errors map to Internal; nil maps to nothing.
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(GatewayError, cause, "confirm intent pi_1")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, GatewayError, KindOf(err))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(ConcurrencyConflict, "refund already claimed")))
	assert.False(t, Retryable(New(GatewayError, "timeout")))
	assert.False(t, Retryable(New(AuthorityViolation, "ai proposed")))
	assert.False(t, Retryable(nil))
}

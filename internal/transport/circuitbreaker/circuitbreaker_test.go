package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOp = "create_draft_order"

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(Config{})
	require.NotNil(t, cb)

	assert.True(t, cb.AllowRequest(testOp))
	cb.RecordFailure(testOp)
	cb.RecordFailure(testOp)
	assert.True(t, cb.AllowRequest(testOp), "still closed after 2 failures")
	cb.RecordFailure(testOp)
	assert.False(t, cb.AllowRequest(testOp), "open after 3 failures")
}

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(Config{FailureThreshold: 2, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	t.Run("Closed_To_Open", func(t *testing.T) {
		cb.RecordFailure(testOp)
		state, failures := cb.Status(testOp)
		assert.Equal(t, StateClosed, state)
		assert.Equal(t, 1, failures)

		cb.RecordFailure(testOp)
		state, _ = cb.Status(testOp)
		assert.Equal(t, StateOpen, state)
		assert.False(t, cb.AllowRequest(testOp))
	})

	t.Run("Open_To_HalfOpen_To_Open", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		assert.True(t, cb.AllowRequest(testOp))
		state, _ := cb.Status(testOp)
		assert.Equal(t, StateHalfOpen, state)

		cb.RecordFailure(testOp)
		state, _ = cb.Status(testOp)
		assert.Equal(t, StateOpen, state)
	})

	t.Run("HalfOpen_To_Closed", func(t *testing.T) {
		now = now.Add(2 * time.Minute)
		require.True(t, cb.AllowRequest(testOp))
		cb.RecordSuccess(testOp)
		state, failures := cb.Status(testOp)
		assert.Equal(t, StateClosed, state)
		assert.Equal(t, 0, failures)
	})
}

func TestCircuitBreaker_OperationsIsolated(t *testing.T) {
	cb := NewCircuitBreaker(Config{FailureThreshold: 1})
	cb.RecordFailure(testOp)
	assert.False(t, cb.AllowRequest(testOp))
	assert.True(t, cb.AllowRequest("get_producer_data"))
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(Config{FailureThreshold: 2})
	cb.RecordFailure(testOp)
	cb.RecordSuccess(testOp)
	cb.RecordFailure(testOp)
	assert.True(t, cb.AllowRequest(testOp))
	assert.Equal(t, "closed", StateClosed.String())
}

package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker("test")
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.Allow())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test")

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State(), "two failures should not trip")

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State(), "third failure should trip")
	assert.False(t, cb.Allow())
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test")
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	assert.False(t, cb.Allow())

	// Advance past the recovery timeout.
	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow(), "breaker should allow a probe after recovery timeout")
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestCircuitBreaker_SuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker("test")
	now := time.Now()
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	now = now.Add(61 * time.Second)
	assert.True(t, cb.Allow())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_OnTripCallback(t *testing.T) {
	cb := NewCircuitBreaker("claude")

	var tripped []string
	cb.SetOnTrip(func(name string) {
		tripped = append(tripped, name)
	})

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, []string{"claude"}, tripped, "callback fires once per open transition")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}

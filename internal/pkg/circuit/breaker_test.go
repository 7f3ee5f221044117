package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute)

	assert.True(t, b.Allow())
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("test", 2, time.Minute)

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	assert.False(t, b.Allow())

	time.Sleep(15 * time.Millisecond)

	t.Run("probe allowed after cooldown", func(t *testing.T) {
		assert.True(t, b.Allow())
		assert.Equal(t, StateHalfOpen, b.State())
	})

	t.Run("successful probe closes", func(t *testing.T) {
		b.RecordSuccess()
		assert.Equal(t, StateClosed, b.State())
	})
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker("test", 1, 10*time.Millisecond)
	b.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerStateChangeHandler(t *testing.T) {
	b := NewBreaker("journal", 1, time.Minute)
	changes := make(chan State, 2)
	b.SetStateChangeHandler(func(name string, from, to State) {
		changes <- to
	})

	b.RecordFailure()
	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change handler not invoked")
	}
}

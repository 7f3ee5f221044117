package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextWaitBounds(t *testing.T) {
	s := NewJitterScheduler(context.Background(), 100*time.Millisecond, 50*time.Millisecond)
	for i := 0; i < 200; i++ {
		wait := s.nextWait()
		assert.GreaterOrEqual(t, wait, 100*time.Millisecond)
		assert.Less(t, wait, 150*time.Millisecond)
	}
}

func TestNextWaitWithoutJitter(t *testing.T) {
	s := NewJitterScheduler(context.Background(), time.Second, 0)
	assert.Equal(t, time.Second, s.nextWait())
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewJitterScheduler(ctx, time.Hour, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		s.Start(func() { ran <- struct{}{} })
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate run did not happen")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on ctx cancel")
	}
}

func TestStartRejectsBadConfig(t *testing.T) {
	s := NewJitterScheduler(context.Background(), 0, 0)
	// returns immediately instead of spinning
	s.Start(func() { t.Fatal("must not run") })
}

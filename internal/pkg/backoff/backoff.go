package backoff

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy bounds a retry loop. Attempts counts total calls, not re-tries,
// so Attempts=1 means no retry at all.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 8 * time.Second}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Retry runs fn until it succeeds, the attempt budget is exhausted, the
// context is cancelled, or retryable reports the error as permanent.
// Delays grow exponentially with 0.5x-1.5x jitter.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(context.Context) error) error {
	p = p.normalized()
	delay := p.BaseDelay
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			jitter := delay/2 + time.Duration(rand.Int64N(int64(delay)))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

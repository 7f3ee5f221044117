package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"keel/internal/logger"
)

// JitterScheduler runs a task on a fixed interval with a random jitter added
// to every wait, so a fleet of bots does not hit the backend in lockstep.
// Waits are measured from the end of the previous run.
type JitterScheduler struct {
	Name           string
	Interval       time.Duration
	Jitter         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewJitterScheduler(ctx context.Context, interval, jitter time.Duration) *JitterScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &JitterScheduler{
		Interval: interval,
		Jitter:   jitter,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until the context is done. task's own duration is not
// compensated for; slow runs push the cadence back rather than piling up.
func (s *JitterScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("JitterScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("JitterScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Jitter < 0 {
		logger.Warnf("JitterScheduler: negative jitter=%s, clamp to 0", s.Jitter)
		s.Jitter = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	prefix := "JitterScheduler"
	if s.Name != "" {
		prefix = prefix + "[" + s.Name + "]"
	}
	startAt := s.nowFn().UTC()
	logger.Infof("%s: started interval=%s jitter=%s run_immediately=%v at=%s",
		prefix, s.Interval, s.Jitter, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		wait := s.nextWait()
		logger.Debugf("%s: next run in %s", prefix, wait.Truncate(time.Millisecond))

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("%s: ctx done, exit", prefix)
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *JitterScheduler) nextWait() time.Duration {
	wait := s.Interval
	if s.Jitter > 0 {
		wait += rand.N(s.Jitter)
	}
	return wait
}

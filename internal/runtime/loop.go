// Package runtime drives the periodic reconcile and flush cadence.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keel/internal/config"
	"keel/internal/gateway/record"
	"keel/internal/health"
	"keel/internal/logger"
	"keel/internal/reconcile"
	"keel/internal/scheduler"
)

// flushPollInterval is how often the loop offers the reporter a flush chance.
// The reporter's own tier cadence decides whether anything is sent.
const flushPollInterval = 5 * time.Second

// Reconciler is the slice of the reconciler the loop drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (reconcile.Outcome, error)
}

// Alerter matches the notifier surface. Optional.
type Alerter interface {
	Alert(ctx context.Context, title, text string)
}

// Auditor appends to the local audit event log. Optional.
type Auditor interface {
	Append(ctx context.Context, kind, message string, detail record.Payload) error
}

// Loop owns the reconcile schedule and the health flush poll. Pause and stop
// take effect between ticks; a tick in flight always completes. After
// MaxConsecutiveErrors failed ticks in a row the loop writes a final stopped
// event and returns rather than hammering a broken dependency forever.
type Loop struct {
	cfg      config.ReconcileConfig
	rec      Reconciler
	reporter *health.Reporter
	alerter  Alerter
	auditor  Auditor

	mu          sync.Mutex
	consecutive int
	lastOutcome reconcile.Outcome
	lastRunAt   time.Time
	lastErr     string
	stopped     bool
}

func NewLoop(cfg config.ReconcileConfig, rec Reconciler, reporter *health.Reporter) *Loop {
	return &Loop{cfg: cfg, rec: rec, reporter: reporter}
}

func (l *Loop) SetAlerter(a Alerter) { l.alerter = a }

// SetAuditor wires the local event log. Optional.
func (l *Loop) SetAuditor(a Auditor) { l.auditor = a }

// Run blocks until ctx is done or the consecutive-error cap stops the loop.
func (l *Loop) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.flushPoll(ctx)
	}()

	sched := scheduler.NewJitterScheduler(ctx, l.cfg.Interval(), l.cfg.Jitter())
	sched.Name = "reconcile"
	sched.RunImmediately = true
	sched.Start(func() {
		if !l.tick(ctx) {
			cancel()
		}
	})

	wg.Wait()
}

// Status is a snapshot for the HTTP status surface.
type Status struct {
	LastOutcome       string    `json:"last_outcome"`
	LastRunAt         time.Time `json:"last_run_at"`
	LastError         string    `json:"last_error,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Stopped           bool      `json:"stopped"`
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		LastOutcome:       string(l.lastOutcome),
		LastRunAt:         l.lastRunAt,
		LastError:         l.lastErr,
		ConsecutiveErrors: l.consecutive,
		Stopped:           l.stopped,
	}
}

// tick runs one reconcile pass. The false return stops the loop.
func (l *Loop) tick(ctx context.Context) bool {
	outcome, err := l.rec.Reconcile(ctx)
	changed := l.record(outcome, err)
	if changed {
		l.audit(ctx, "outcome_change", "reconcile outcome changed", record.Payload{
			"outcome": string(outcome),
		})
	}

	if err == nil {
		l.reporter.MaybeFlush(ctx)
		return true
	}

	logger.Errorf("runtime: reconcile failed: %v", err)
	l.audit(ctx, "reconcile_error", "reconcile tick failed", record.Payload{
		"error":       err.Error(),
		"consecutive": l.errorCount(),
	})

	n := l.errorCount()
	if l.cfg.MaxConsecutiveErrors > 0 && n >= l.cfg.MaxConsecutiveErrors {
		l.markStopped()
		logger.Errorf("runtime: stopping after %d consecutive reconcile failures, last: %v", n, err)
		if l.alerter != nil {
			l.alerter.Alert(ctx, "Reconcile loop stopped",
				fmt.Sprintf("%d consecutive failures, last: %v", n, err))
		}
		l.audit(ctx, "stopped", "loop stopped after consecutive reconcile failures", record.Payload{
			"consecutive": n,
			"last_error":  err.Error(),
		})
		return false
	}

	sleepCtx(ctx, l.cfg.ErrorBackoff())
	l.reporter.MaybeFlush(ctx)
	return true
}

func (l *Loop) flushPoll(ctx context.Context) {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.reporter.MaybeFlush(ctx)
		}
	}
}

// record updates the snapshot and reports whether the outcome changed.
func (l *Loop) record(outcome reconcile.Outcome, err error) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastRunAt = time.Now()
	if err != nil {
		l.consecutive++
		l.lastErr = err.Error()
	} else {
		l.consecutive = 0
		l.lastErr = ""
	}
	changed := false
	if outcome != "" && outcome != l.lastOutcome {
		changed = l.lastOutcome != ""
		l.lastOutcome = outcome
	}
	return changed
}

func (l *Loop) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consecutive
}

func (l *Loop) markStopped() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

func (l *Loop) audit(ctx context.Context, kind, message string, detail record.Payload) {
	if l.auditor == nil {
		return
	}
	if err := l.auditor.Append(ctx, kind, message, detail); err != nil {
		logger.Warnf("runtime: audit append failed: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

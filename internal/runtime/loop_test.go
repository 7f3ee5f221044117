package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keel/internal/config"
	"keel/internal/gateway/record"
	"keel/internal/health"
	"keel/internal/reconcile"
)

type tickResult struct {
	outcome reconcile.Outcome
	err     error
}

// scriptedReconciler replays a fixed result sequence, repeating the last one.
type scriptedReconciler struct {
	mu      sync.Mutex
	calls   int
	results []tickResult
}

func (s *scriptedReconciler) Reconcile(context.Context) (reconcile.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	s.calls++
	return s.results[i].outcome, s.results[i].err
}

func (s *scriptedReconciler) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type nullSink struct{}

func (nullSink) UpsertHealthEvidence(context.Context, record.Payload) error { return nil }

type captureAuditor struct {
	mu    sync.Mutex
	kinds []string
}

func (a *captureAuditor) Append(_ context.Context, kind, _ string, _ record.Payload) error {
	a.mu.Lock()
	a.kinds = append(a.kinds, kind)
	a.mu.Unlock()
	return nil
}

func (a *captureAuditor) recorded() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.kinds...)
}

type captureAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *captureAlerter) Alert(_ context.Context, title, _ string) {
	a.mu.Lock()
	a.titles = append(a.titles, title)
	a.mu.Unlock()
}

func (a *captureAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

func testLoopConfig() config.ReconcileConfig {
	return config.ReconcileConfig{
		IntervalSeconds:      1,
		MaxConsecutiveErrors: 2,
	}
}

func testReporter() *health.Reporter {
	return health.NewReporter("bot-test", nullSink{}, health.Options{})
}

func TestLoopStopsAfterConsecutiveErrors(t *testing.T) {
	rec := &scriptedReconciler{results: []tickResult{
		{err: assert.AnError},
	}}
	auditor := &captureAuditor{}
	alerter := &captureAlerter{}

	loop := NewLoop(testLoopConfig(), rec, testReporter())
	loop.SetAuditor(auditor)
	loop.SetAlerter(alerter)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop after hitting the consecutive-error cap")
	}

	assert.Equal(t, 2, rec.callCount())
	assert.True(t, loop.Status().Stopped)
	assert.Equal(t, 2, loop.Status().ConsecutiveErrors)
	assert.Equal(t, 1, alerter.count())

	kinds := auditor.recorded()
	require.NotEmpty(t, kinds)
	assert.Equal(t, "stopped", kinds[len(kinds)-1])
	assert.Contains(t, kinds, "reconcile_error")
}

func TestLoopCapDisabledKeepsTicking(t *testing.T) {
	cfg := testLoopConfig()
	cfg.MaxConsecutiveErrors = 0
	rec := &scriptedReconciler{results: []tickResult{
		{err: assert.AnError},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(cfg, rec, testReporter())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.callCount() >= 2 },
		4*time.Second, 20*time.Millisecond)
	assert.False(t, loop.Status().Stopped)
	cancel()
	<-done
}

func TestLoopRecoversAfterSingleError(t *testing.T) {
	rec := &scriptedReconciler{results: []tickResult{
		{err: assert.AnError},
		{outcome: reconcile.OutcomeSynced},
	}}
	auditor := &captureAuditor{}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(testLoopConfig(), rec, testReporter())
	loop.SetAuditor(auditor)
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		s := loop.Status()
		return s.LastOutcome == string(reconcile.OutcomeSynced) && s.ConsecutiveErrors == 0
	}, 4*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	assert.False(t, loop.Status().Stopped)
	assert.NotContains(t, auditor.recorded(), "stopped")
}

func TestLoopAuditsOutcomeChange(t *testing.T) {
	rec := &scriptedReconciler{results: []tickResult{
		{outcome: reconcile.OutcomeSynced},
		{outcome: reconcile.OutcomeMismatch},
	}}
	auditor := &captureAuditor{}

	ctx, cancel := context.WithCancel(context.Background())
	loop := NewLoop(testLoopConfig(), rec, testReporter())
	loop.SetAuditor(auditor)
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return loop.Status().LastOutcome == string(reconcile.OutcomeMismatch)
	}, 4*time.Second, 20*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"outcome_change"}, auditor.recorded())
}

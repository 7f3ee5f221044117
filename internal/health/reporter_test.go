package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"keel/internal/gateway/record"
)

type fakeSink struct {
	patches []record.Payload
	err     error
}

func (s *fakeSink) UpsertHealthEvidence(_ context.Context, patch record.Payload) error {
	if s.err != nil {
		return s.err
	}
	s.patches = append(s.patches, patch)
	return nil
}

func (s *fakeSink) last() record.Payload {
	if len(s.patches) == 0 {
		return nil
	}
	return s.patches[len(s.patches)-1]
}

func newTestReporter(opts Options) (*Reporter, *fakeSink, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	r := NewReporter("bot-1", sink, opts)
	r.nowFn = func() time.Time { return now }
	r.window.nowFn = func() time.Time { return now }
	return r, sink, &now
}

func TestReporterRoutineFlushRespectsTierInterval(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard"})
	ctx := context.Background()

	// nothing flushed yet, first routine flush goes out immediately
	assert.True(t, r.MaybeFlush(ctx))
	assert.Len(t, sink.patches, 1)

	r.RecordDBOK()
	assert.False(t, r.MaybeFlush(ctx))

	*now = now.Add(179 * time.Second)
	assert.False(t, r.MaybeFlush(ctx))

	*now = now.Add(2 * time.Second)
	assert.True(t, r.MaybeFlush(ctx))
	assert.Len(t, sink.patches, 2)
	assert.Equal(t, true, sink.last()["db_ok"])
}

func TestReporterInPositionTightensCadence(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "fast_5s", InPosition: true})
	ctx := context.Background()

	assert.True(t, r.MaybeFlush(ctx))
	*now = now.Add(21 * time.Second)
	assert.True(t, r.MaybeFlush(ctx))
	assert.Len(t, sink.patches, 2)
}

func TestReporterFlushNowBypassesTierButNotDebounce(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard", Debounce: 3 * time.Second, CriticalDelay: time.Second})
	ctx := context.Background()

	assert.True(t, r.FlushNow(ctx, "order_submit"))
	assert.Len(t, sink.patches, 1)

	// inside the debounce floor: deferred, not sent and not dropped
	*now = now.Add(time.Second)
	r.RecordPositionMissing(ctx)
	assert.Len(t, sink.patches, 1)

	// before the scheduled time the routine path stays quiet
	*now = now.Add(time.Second)
	assert.False(t, r.MaybeFlush(ctx))

	// past the floor the deferred flush goes out with its pending evidence
	*now = now.Add(2 * time.Second)
	assert.True(t, r.MaybeFlush(ctx))
	assert.Len(t, sink.patches, 2)
	assert.Equal(t, false, sink.last()["position_ok"])
	assert.Equal(t, 1, sink.last()["position_missing_count_15m"])
}

func TestReporterPendingSurvivesFailedFlush(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard"})
	ctx := context.Background()

	sink.err = errors.New("backend down")
	r.MarkAuthFail(ctx, "invalid_api_key")
	assert.Empty(t, sink.patches)

	sink.err = nil
	*now = now.Add(4 * time.Second)
	assert.True(t, r.FlushNow(ctx, "retry"))

	patch := sink.last()
	assert.Equal(t, false, patch["exchange_auth_ok"])
	assert.Equal(t, "INVALID_API_KEY", patch["last_auth_error_code"])
	assert.Equal(t, 1, patch["flush_error_count_15m"])
}

func TestReporterStreamDisconnectEscalatesOnSecondHit(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard"})
	ctx := context.Background()

	r.RecordStreamDisconnect(ctx)
	assert.Empty(t, sink.patches)

	*now = now.Add(10 * time.Second)
	r.RecordStreamDisconnect(ctx)
	assert.Len(t, sink.patches, 1)
	assert.Equal(t, 2, sink.last()["stream_disconnects_15m"])
	assert.Equal(t, false, sink.last()["market_data_ok"])
}

func TestReporterCandleGapUrgentOnlyInPosition(t *testing.T) {
	ctx := context.Background()

	r, sink, _ := newTestReporter(Options{Tier: "standard"})
	r.RecordCandleGap(ctx)
	assert.Empty(t, sink.patches)

	r2, sink2, _ := newTestReporter(Options{Tier: "standard", InPosition: true})
	r2.RecordCandleGap(ctx)
	assert.Len(t, sink2.patches, 1)
}

func TestReporterSnapshotDoesNotFlush(t *testing.T) {
	r, sink, _ := newTestReporter(Options{Tier: "standard"})

	r.RecordDBOK()
	r.RecordRateLimitHit()
	snap := r.Snapshot()
	assert.Equal(t, true, snap["db_ok"])
	assert.Equal(t, 1, snap["rate_limit_hits_15m"])
	assert.Empty(t, sink.patches)
}

func TestReporterSetTierNormalizes(t *testing.T) {
	r, _, _ := newTestReporter(Options{Tier: "standard"})
	r.SetTier("FAST_5S")
	assert.Equal(t, "fast_5s", r.Tier())
	r.SetTier("unknown")
	assert.Equal(t, DefaultTier, r.Tier())
}

func TestReporterReArmsScheduledFlushPushedPastByInterveningFlush(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard", Debounce: 3 * time.Second, CriticalDelay: 10 * time.Second})
	ctx := context.Background()

	assert.True(t, r.FlushNow(ctx, "order_submit"))
	assert.Len(t, sink.patches, 1)

	// inside the floor: deferred out to now + critical delay
	*now = now.Add(time.Second)
	r.RecordPositionMissing(ctx)
	assert.Len(t, sink.patches, 1)

	// an unrelated urgent flush succeeds before the scheduled time and moves
	// the debounce floor past it
	*now = now.Add(8 * time.Second)
	assert.True(t, r.FlushNow(ctx, "order_ack"))
	assert.Len(t, sink.patches, 2)

	// at the scheduled time the claim fails the floor; the schedule must
	// re-arm instead of dropping the deferred reason
	*now = now.Add(2 * time.Second)
	assert.False(t, r.MaybeFlush(ctx))

	*now = now.Add(time.Second)
	assert.True(t, r.MaybeFlush(ctx))
	assert.Len(t, sink.patches, 3)
	assert.Equal(t, 1, sink.last()["position_missing_count_15m"])
}

func TestReporterBreakerFacts(t *testing.T) {
	r, sink, now := newTestReporter(Options{Tier: "standard"})
	ctx := context.Background()

	r.RecordBreakerOpen(ctx)
	assert.Len(t, sink.patches, 1)
	patch := sink.last()
	assert.Equal(t, false, patch["db_ok"])
	assert.Equal(t, 1, patch["breaker_open_count_15m"])
	assert.NotEmpty(t, patch["last_breaker_open_at"])

	r.RecordBreakerClosed()
	*now = now.Add(4 * time.Second)
	assert.True(t, r.FlushNow(ctx, "recovered"))
	assert.Equal(t, true, sink.last()["db_ok"])
}

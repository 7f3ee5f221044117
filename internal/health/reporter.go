package health

import (
	"context"
	"sync"
	"time"

	"keel/internal/gateway/record"
	"keel/internal/logger"
)

// Window fact keys.
const (
	KeyRateLimitHit      = "rate_limit_hit"
	KeyCandleGap         = "candle_gap"
	KeyStreamDisconnect  = "stream_disconnect"
	KeyDecision          = "decision"
	KeyOrderReject       = "order_reject"
	KeyDBError           = "db_error"
	KeyDBReadFailed      = "db_read_failed"
	KeyDBWriteFailed     = "db_write_failed"
	KeyFlushError        = "flush_error"
	KeyBreakerOpen       = "breaker_open"
	KeyPositionSyncOK    = "position_sync_ok"
	KeyPositionMissing   = "position_missing"
	KeyPositionMismatch  = "position_mismatch"
	KeyUntrackedExposure = "untracked_exposure"
)

var countFields = map[string]string{
	KeyRateLimitHit:      "rate_limit_hits_15m",
	KeyCandleGap:         "candle_gap_count_15m",
	KeyStreamDisconnect:  "stream_disconnects_15m",
	KeyDecision:          "decision_count_15m",
	KeyOrderReject:       "order_rejects_15m",
	KeyDBError:           "db_error_count_15m",
	KeyDBReadFailed:      "db_read_failed_count_15m",
	KeyDBWriteFailed:     "db_write_failed_count_15m",
	KeyFlushError:        "flush_error_count_15m",
	KeyBreakerOpen:       "breaker_open_count_15m",
	KeyPositionSyncOK:    "position_sync_ok_count_15m",
	KeyPositionMissing:   "position_missing_count_15m",
	KeyPositionMismatch:  "position_mismatch_count_15m",
	KeyUntrackedExposure: "untracked_exposure_count_15m",
}

// EvidenceSink is the slice of the record gateway the reporter needs.
type EvidenceSink interface {
	UpsertHealthEvidence(ctx context.Context, patch record.Payload) error
}

// Options configure a Reporter. Zero values fall back to the original
// contract: 15m window, 3s debounce, 1s critical delay, standard tier.
type Options struct {
	Tier          string
	InPosition    bool
	Window        time.Duration
	Debounce      time.Duration
	CriticalDelay time.Duration
}

// Reporter aggregates operational facts and decides, under rate limits, when
// to push a consistency snapshot through the gateway. One instance per
// runtime process, constructed explicitly and injected; tests build fresh
// instances per case.
type Reporter struct {
	botID string
	sink  EvidenceSink

	mu              sync.Mutex
	tier            string
	inPosition      bool
	window          *Window
	pending         record.Payload
	debounce        time.Duration
	criticalDelay   time.Duration
	lastFlush       time.Time
	scheduledAt     time.Time
	scheduledReason string

	nowFn func() time.Time
}

func NewReporter(botID string, sink EvidenceSink, opts Options) *Reporter {
	window := opts.Window
	if window <= 0 {
		window = 15 * time.Minute
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = 3 * time.Second
	}
	criticalDelay := opts.CriticalDelay
	if criticalDelay <= 0 {
		criticalDelay = time.Second
	}
	return &Reporter{
		botID:         botID,
		sink:          sink,
		tier:          NormalizeTier(opts.Tier),
		inPosition:    opts.InPosition,
		window:        NewWindow(window),
		pending:       record.Payload{},
		debounce:      debounce,
		criticalDelay: criticalDelay,
		nowFn:         time.Now,
	}
}

func (r *Reporter) SetTier(tier string) {
	r.mu.Lock()
	r.tier = NormalizeTier(tier)
	r.mu.Unlock()
}

func (r *Reporter) Tier() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tier
}

func (r *Reporter) SetInPosition(inPosition bool) {
	r.mu.Lock()
	r.inPosition = inPosition
	r.mu.Unlock()
}

// Record adds a raw sample to the rolling window under the given fact key.
func (r *Reporter) Record(fact string, value float64) {
	r.window.Record(fact, value)
}

func (r *Reporter) MarkAuthOK() {
	r.updatePatch(record.Payload{
		"exchange_auth_ok": true,
		"last_auth_ok_at":  r.nowISO(),
	})
}

func (r *Reporter) MarkAuthFail(ctx context.Context, code string) {
	r.updatePatch(record.Payload{
		"exchange_auth_ok":     false,
		"last_auth_fail_at":    r.nowISO(),
		"last_auth_error_code": NormalizeReasonCode(code),
	})
	r.FlushNow(ctx, "auth_fail")
}

func (r *Reporter) RecordRateLimitHit() {
	r.window.Record(KeyRateLimitHit, 1)
}

func (r *Reporter) RecordCandleLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	r.updatePatch(record.Payload{
		"market_data_ok":     true,
		"candle_lag_seconds": int(lag.Seconds()),
	})
}

func (r *Reporter) RecordCandleGap(ctx context.Context) {
	r.window.Record(KeyCandleGap, 1)
	r.updatePatch(record.Payload{"market_data_ok": false})
	r.mu.Lock()
	inPosition := r.inPosition
	r.mu.Unlock()
	if inPosition {
		r.FlushNow(ctx, "candle_gap")
	}
}

func (r *Reporter) RecordStreamDisconnect(ctx context.Context) {
	r.window.Record(KeyStreamDisconnect, 1)
	r.updatePatch(record.Payload{"market_data_ok": false})
	if n, err := r.window.CountSince(KeyStreamDisconnect, r.window.Duration()); err == nil && n >= 2 {
		r.FlushNow(ctx, "stream_disconnect")
	}
}

func (r *Reporter) RecordOrderSubmit(ctx context.Context) {
	r.updatePatch(record.Payload{
		"order_flow_ok":        true,
		"last_order_submit_at": r.nowISO(),
	})
	r.FlushNow(ctx, "order_submit")
}

func (r *Reporter) RecordOrderAck(ctx context.Context, latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	r.updatePatch(record.Payload{
		"order_flow_ok":        true,
		"last_order_ack_at":    r.nowISO(),
		"order_ack_latency_ms": latency.Milliseconds(),
	})
	r.FlushNow(ctx, "order_ack")
}

func (r *Reporter) RecordOrderReject(ctx context.Context, reason string) {
	r.window.Record(KeyOrderReject, 1)
	r.updatePatch(record.Payload{
		"order_flow_ok":            false,
		"last_order_reject_reason": NormalizeReasonCode(reason),
		"last_order_reject_at":     r.nowISO(),
	})
	r.FlushNow(ctx, "order_reject")
}

// RecordPositionSyncOK notes a clean reconciliation pass. diff is the
// absolute quantity divergence observed before the refresh was written.
func (r *Reporter) RecordPositionSyncOK(diff float64) {
	if diff < 0 {
		diff = 0
	}
	r.window.Record(KeyPositionSyncOK, 1)
	r.updatePatch(record.Payload{
		"position_ok":           true,
		"last_position_sync_at": r.nowISO(),
		"position_sync_diff":    diff,
	})
}

func (r *Reporter) RecordPositionMissing(ctx context.Context) {
	r.window.Record(KeyPositionMissing, 1)
	r.updatePatch(record.Payload{
		"position_ok":           false,
		"last_position_sync_at": r.nowISO(),
	})
	r.FlushNow(ctx, "position_missing")
}

func (r *Reporter) RecordPositionMismatch(ctx context.Context) {
	r.window.Record(KeyPositionMismatch, 1)
	r.updatePatch(record.Payload{
		"position_ok":            false,
		"last_position_sync_at":  r.nowISO(),
		"last_position_mismatch": r.nowISO(),
	})
	r.FlushNow(ctx, "position_mismatch")
}

func (r *Reporter) RecordUntrackedExposure(ctx context.Context) {
	r.window.Record(KeyUntrackedExposure, 1)
	r.updatePatch(record.Payload{"position_ok": false})
	r.FlushNow(ctx, "untracked_exposure")
}

// RecordBreakerOpen marks the journal write path as suspended. Urgent: an open
// breaker means trade evidence is stalling behind a failing backend.
func (r *Reporter) RecordBreakerOpen(ctx context.Context) {
	r.window.Record(KeyBreakerOpen, 1)
	r.updatePatch(record.Payload{
		"db_ok":                false,
		"last_breaker_open_at": r.nowISO(),
	})
	r.FlushNow(ctx, "breaker_open")
}

// RecordBreakerClosed marks the journal write path as recovered.
func (r *Reporter) RecordBreakerClosed() {
	r.updatePatch(record.Payload{"db_ok": true})
}

func (r *Reporter) RecordDBOK() {
	r.updatePatch(record.Payload{
		"db_ok":         true,
		"last_db_ok_at": r.nowISO(),
	})
}

func (r *Reporter) RecordDBReadFailed() {
	r.window.Record(KeyDBReadFailed, 1)
	r.updatePatch(record.Payload{"db_ok": false})
}

func (r *Reporter) RecordDBWriteFailed(ctx context.Context) {
	r.window.Record(KeyDBWriteFailed, 1)
	r.window.Record(KeyDBError, 1)
	r.updatePatch(record.Payload{"db_ok": false})
	r.FlushNow(ctx, "db_write_failed")
}

// MaybeFlush performs a routine flush when both the tier interval and the
// debounce floor have passed. Returns true when a flush was executed.
func (r *Reporter) MaybeFlush(ctx context.Context) bool {
	reason, patch, ok := r.claimFlush("scheduled", false)
	if !ok {
		return false
	}
	return r.executeFlush(ctx, reason, patch)
}

// FlushNow bypasses the tier interval but still honors the debounce floor.
// Inside the floor the flush is deferred, not dropped: the next MaybeFlush
// past the floor carries the urgent reason out.
func (r *Reporter) FlushNow(ctx context.Context, reason string) bool {
	deferredReason, patch, ok := r.claimFlush(reason, true)
	if ok {
		return r.executeFlush(ctx, deferredReason, patch)
	}
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	nextDue := r.lastFlush.Add(r.debounce)
	if alt := now.Add(r.criticalDelay); alt.After(nextDue) {
		nextDue = alt
	}
	if nextDue.After(r.scheduledAt) {
		r.scheduledAt = nextDue
	}
	r.scheduledReason = reason
	return false
}

// Snapshot returns the current aggregate view without flushing. Used by the
// status server.
func (r *Reporter) Snapshot() record.Payload {
	r.mu.Lock()
	pending := make(record.Payload, len(r.pending))
	for k, v := range r.pending {
		pending[k] = v
	}
	r.mu.Unlock()
	for key, n := range r.window.Counts() {
		pending[fieldForKey(key)] = n
	}
	return pending
}

func (r *Reporter) claimFlush(reason string, force bool) (string, record.Payload, bool) {
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.scheduledAt.IsZero() && now.Before(r.scheduledAt) && !force {
		return "", nil, false
	}
	claimedScheduled := false
	claimedReason := ""
	if !r.scheduledAt.IsZero() && !now.Before(r.scheduledAt) {
		claimedReason = r.scheduledReason
		if claimedReason != "" {
			reason = claimedReason
		}
		r.scheduledAt = time.Time{}
		r.scheduledReason = ""
		claimedScheduled = true
	}
	due := now.Sub(r.lastFlush)
	if force || claimedScheduled {
		if due < r.debounce {
			// An intervening flush moved the debounce floor past the
			// scheduled time. Re-arm instead of dropping the reason.
			if claimedScheduled {
				r.scheduledAt = r.lastFlush.Add(r.debounce)
				r.scheduledReason = claimedReason
			}
			return "", nil, false
		}
	} else {
		gate := FlushInterval(r.tier, r.inPosition)
		if gate < r.debounce {
			gate = r.debounce
		}
		if due < gate {
			return "", nil, false
		}
	}
	patch := make(record.Payload, len(r.pending)+8)
	for k, v := range r.pending {
		patch[k] = v
	}
	for key, n := range r.window.Counts() {
		patch[fieldForKey(key)] = n
	}
	return reason, patch, true
}

func (r *Reporter) executeFlush(ctx context.Context, reason string, patch record.Payload) bool {
	started := time.Now()
	err := r.sink.UpsertHealthEvidence(ctx, patch)
	elapsed := time.Since(started)
	if err != nil {
		// Health reporting must never raise past this boundary: count the
		// failure, keep the pending patch, surface it on the next attempt.
		r.window.Record(KeyFlushError, 1)
		logger.Warnf("health flush failed bot=%s reason=%s keys=%d err=%v", r.botID, reason, len(patch), err)
		return false
	}
	logger.Infof("health flush bot=%s tier=%s in_position=%v reason=%s keys=%d rpc_ms=%d",
		r.botID, r.Tier(), r.isInPosition(), reason, len(patch), elapsed.Milliseconds())
	r.mu.Lock()
	r.pending = record.Payload{}
	r.lastFlush = r.nowFn()
	r.mu.Unlock()
	return true
}

func (r *Reporter) isInPosition() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inPosition
}

func (r *Reporter) updatePatch(fields record.Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range fields {
		if v == nil {
			continue
		}
		r.pending[k] = v
	}
}

func (r *Reporter) nowISO() string {
	return r.nowFn().UTC().Format(time.RFC3339)
}

func fieldForKey(key string) string {
	if field, ok := countFields[key]; ok {
		return field
	}
	return key + "_count_15m"
}

package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"keel/internal/config"
	"keel/internal/gateway/exchange"
	"keel/internal/gateway/record"
	"keel/internal/health"
	"keel/internal/logger"
)

// Outcome classifies what one reconciliation pass found.
type Outcome string

const (
	// OutcomeNoop means no canonical position and no live exposure.
	OutcomeNoop Outcome = "noop"
	// OutcomeSynced means canonical and venue agree within tolerance and the
	// canonical row was refreshed from the venue snapshot.
	OutcomeSynced Outcome = "synced"
	// OutcomeMismatch means the venue disagrees with the canonical row beyond
	// tolerance. The row is flagged, never silently corrected.
	OutcomeMismatch Outcome = "mismatch"
	// OutcomeClosed means the position vanished from the venue and the close
	// was positively confirmed by the order trail.
	OutcomeClosed Outcome = "closed"
	// OutcomeMissing means the position vanished without confirmation of a
	// close. Operator attention is required.
	OutcomeMissing Outcome = "missing"
	// OutcomeUntrackedExposure means the venue holds a position the canonical
	// record knows nothing about. It is never auto-adopted.
	OutcomeUntrackedExposure Outcome = "untracked_exposure"
)

// Health is the slice of the health reporter the reconciler feeds. Every
// decision branch records its observation before any write is attempted, so
// evidence survives a failed write.
type Health interface {
	SetInPosition(inPosition bool)
	MarkAuthOK()
	MarkAuthFail(ctx context.Context, code string)
	RecordPositionSyncOK(diff float64)
	RecordPositionMissing(ctx context.Context)
	RecordPositionMismatch(ctx context.Context)
	RecordUntrackedExposure(ctx context.Context)
	RecordDBReadFailed()
	RecordDBWriteFailed(ctx context.Context)
}

// Alerter pushes operator-facing alerts. A nil alerter is valid.
type Alerter interface {
	Alert(ctx context.Context, title, text string)
}

// Auditor appends to the local audit event log. A nil auditor is valid.
type Auditor interface {
	Append(ctx context.Context, kind, message string, detail record.Payload) error
}

// Reconciler validates the canonical position against exchange truth and
// converges the system of record toward what the venue reports, except where
// doing so would fabricate state.
type Reconciler struct {
	cfg     config.ReconcileConfig
	bot     config.BotConfig
	gw      record.Gateway
	ex      exchange.Provider
	confirm CloseConfirmer
	health  Health
	alerter Alerter
	auditor Auditor

	nowFn func() time.Time
}

func New(cfg config.ReconcileConfig, bot config.BotConfig, gw record.Gateway, ex exchange.Provider, confirm CloseConfirmer, h Health) *Reconciler {
	return &Reconciler{
		cfg:     cfg,
		bot:     bot,
		gw:      gw,
		ex:      ex,
		confirm: confirm,
		health:  h,
		nowFn:   time.Now,
	}
}

// SetAlerter wires the notifier. Optional.
func (r *Reconciler) SetAlerter(a Alerter) { r.alerter = a }

// SetAuditor wires the local event log. Optional.
func (r *Reconciler) SetAuditor(a Auditor) { r.auditor = a }

// Reconcile runs one pass. The returned outcome reflects what was observed
// even when the follow-up write to the system of record failed; in that case
// the error is non-nil alongside the outcome.
func (r *Reconciler) Reconcile(ctx context.Context) (Outcome, error) {
	canonical, err := r.gw.GetCanonicalPosition(ctx, record.PositionStatusOpen)
	if err != nil {
		r.health.RecordDBReadFailed()
		return "", fmt.Errorf("reconcile: canonical position: %w", err)
	}

	snap, err := r.ex.FetchPositionForSymbol(ctx, r.bot.Symbol)
	if err != nil {
		if reason := health.MapErrorToReason(err); reason == health.ReasonInvalidKey {
			r.health.MarkAuthFail(ctx, reason)
		}
		return "", fmt.Errorf("reconcile: exchange position: %w", err)
	}
	r.health.MarkAuthOK()
	r.health.SetInPosition(canonical != nil || snap != nil)

	var outcome Outcome
	var writeErr error
	switch {
	case canonical == nil && snap == nil:
		r.health.RecordPositionSyncOK(0)
		outcome = OutcomeNoop

	case canonical == nil:
		outcome = r.handleUntracked(ctx, snap)

	case snap == nil:
		outcome, writeErr = r.handleVanished(ctx, canonical)

	default:
		outcome, writeErr = r.handleBothPresent(ctx, canonical, snap)
	}

	r.heartbeat(ctx, outcome)
	return outcome, writeErr
}

// handleUntracked covers live exposure with no canonical row. Adoption would
// mean inventing entry facts the runtime never observed, so the reconciler
// only raises evidence and alerts.
func (r *Reconciler) handleUntracked(ctx context.Context, snap *exchange.PositionSnapshot) Outcome {
	r.health.RecordUntrackedExposure(ctx)
	logger.Errorf("reconcile: untracked %s exposure on %s: qty=%v entry=%v",
		snap.Side, snap.Symbol, snap.Qty, snap.EntryPrice)
	r.raise(ctx, "Untracked exposure",
		fmt.Sprintf("exchange holds %s %v %s with no tracked position", snap.Side, snap.Qty, snap.Symbol))
	r.audit(ctx, "untracked_exposure", "live exposure without canonical position", record.Payload{
		"symbol": snap.Symbol,
		"side":   snap.Side,
		"qty":    snap.Qty,
	})
	return OutcomeUntrackedExposure
}

func (r *Reconciler) handleBothPresent(ctx context.Context, canonical *record.PositionRow, snap *exchange.PositionSnapshot) (Outcome, error) {
	diff := qtyDivergencePct(canonical.Qty, snap.Qty)
	sideOK := canonical.Direction == "" || strings.EqualFold(canonical.Direction, snap.Side)

	if sideOK && diff <= r.cfg.QtyTolerancePct {
		r.health.RecordPositionSyncOK(diff)
		err := r.writePatch(ctx, record.Payload{
			"position_id":           canonical.ID,
			"status":                string(record.PositionStatusOpen),
			"qty":                   snap.Qty,
			"mark_price":            snap.MarkPrice,
			"unrealized_pnl":        snap.UnrealizedPnL,
			"last_exchange_sync_at": r.nowISO(),
			"exchange_payload":      snap.Raw,
		})
		return OutcomeSynced, err
	}

	r.health.RecordPositionMismatch(ctx)
	logger.Errorf("reconcile: position mismatch on %s: canonical %s %v vs exchange %s %v (diff %.3f%%)",
		canonical.Symbol, canonical.Direction, canonical.Qty, snap.Side, snap.Qty, diff)
	r.raise(ctx, "Position mismatch",
		fmt.Sprintf("%s: tracked %s %v, exchange reports %s %v", canonical.Symbol, canonical.Direction, canonical.Qty, snap.Side, snap.Qty))
	r.audit(ctx, "position_mismatch", "canonical and exchange disagree beyond tolerance", record.Payload{
		"symbol":        canonical.Symbol,
		"canonical_qty": canonical.Qty,
		"exchange_qty":  snap.Qty,
		"diff_pct":      diff,
	})
	err := r.writePatch(ctx, record.Payload{
		"position_id":           canonical.ID,
		"status":                string(record.PositionStatusMismatch),
		"last_exchange_sync_at": r.nowISO(),
		"exchange_payload":      snap.Raw,
	})
	return OutcomeMismatch, err
}

// handleVanished covers a tracked open position the venue no longer reports.
// Closing the row requires positive confirmation from the order trail; a
// vanished position with no trail is marked missing, never blindly closed.
func (r *Reconciler) handleVanished(ctx context.Context, canonical *record.PositionRow) (Outcome, error) {
	ct, confirmed, err := r.confirm.ConfirmClose(ctx, canonical)
	if err != nil {
		logger.Warnf("reconcile: close confirmation for %s failed: %v", canonical.Symbol, err)
		confirmed = false
	}

	if confirmed {
		r.health.RecordPositionSyncOK(0)
		logger.Infof("reconcile: %s close confirmed via order trail (exit order %s)",
			canonical.Symbol, ct.ExchangeOrderID)
		patch := record.Payload{
			"position_id":           canonical.ID,
			"status":                string(record.PositionStatusClosed),
			"last_exchange_sync_at": r.nowISO(),
		}
		if ct.ExitPrice > 0 {
			patch["exit_price"] = ct.ExitPrice
		}
		if !ct.ExitTime.IsZero() {
			patch["exit_time"] = ct.ExitTime.UTC().Format(time.RFC3339)
		}
		if ct.ExchangeOrderID != "" {
			patch["exit_exchange_order_id"] = ct.ExchangeOrderID
		}
		if ct.ClientOrderID != "" {
			patch["exit_client_order_id"] = ct.ClientOrderID
		}
		if len(ct.Raw) > 0 {
			patch["exchange_payload"] = ct.Raw
		}
		r.audit(ctx, "position_closed", "close confirmed via order trail", record.Payload{
			"symbol":                 canonical.Symbol,
			"position_id":            canonical.ID,
			"exit_exchange_order_id": ct.ExchangeOrderID,
		})
		return OutcomeClosed, r.writePatch(ctx, patch)
	}

	r.health.RecordPositionMissing(ctx)
	logger.Errorf("reconcile: %s position vanished from exchange without a confirmed close", canonical.Symbol)
	r.raise(ctx, "Position missing",
		fmt.Sprintf("%s: tracked position no longer on exchange and no exit order found", canonical.Symbol))
	r.audit(ctx, "position_missing", "position vanished without close confirmation", record.Payload{
		"symbol":      canonical.Symbol,
		"position_id": canonical.ID,
		"qty":         canonical.Qty,
	})
	writeErr := r.writePatch(ctx, record.Payload{
		"position_id":           canonical.ID,
		"status":                string(record.PositionStatusMissing),
		"last_exchange_sync_at": r.nowISO(),
	})
	return OutcomeMissing, writeErr
}

func (r *Reconciler) writePatch(ctx context.Context, patch record.Payload) error {
	if _, err := r.gw.UpsertPosition(ctx, patch); err != nil {
		r.health.RecordDBWriteFailed(ctx)
		return fmt.Errorf("reconcile: position upsert: %w", err)
	}
	return nil
}

// heartbeat stamps the sync outcome on the bot row. Best effort: a failed
// heartbeat never fails the cycle.
func (r *Reconciler) heartbeat(ctx context.Context, outcome Outcome) {
	err := r.gw.Heartbeat(ctx, record.Payload{
		"last_sync_at": r.nowISO(),
		"sync_status":  string(outcome),
		"symbol":       r.bot.Symbol,
	})
	if err != nil {
		logger.Warnf("reconcile: heartbeat failed: %v", err)
	}
}

func (r *Reconciler) raise(ctx context.Context, title, text string) {
	if r.alerter != nil {
		r.alerter.Alert(ctx, title, text)
	}
}

func (r *Reconciler) audit(ctx context.Context, kind, message string, detail record.Payload) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Append(ctx, kind, message, detail); err != nil {
		logger.Warnf("reconcile: audit append failed: %v", err)
	}
}

func (r *Reconciler) nowISO() string {
	return r.nowFn().UTC().Format(time.RFC3339)
}

// qtyDivergencePct compares quantities in decimal space so float noise from
// the venue's string fields cannot fake a divergence.
func qtyDivergencePct(canonicalQty, liveQty float64) float64 {
	c := decimal.NewFromFloat(canonicalQty).Abs()
	l := decimal.NewFromFloat(liveQty).Abs()
	if c.IsZero() {
		if l.IsZero() {
			return 0
		}
		return 100
	}
	pct, _ := l.Sub(c).Abs().Div(c).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"keel/internal/config"
	"keel/internal/gateway/record"
	"keel/internal/logger"
	"keel/internal/pkg/backoff"
	"keel/internal/pkg/circuit"
)

// ErrMissingClientOrderID rejects an event that cannot be keyed. Every order
// must be tagged with a locally generated client order id before submission.
var ErrMissingClientOrderID = errors.New("journal: order event has no client order id")

// Outcome reports what the journal did with an event.
type Outcome string

const (
	// OutcomeRecorded means a full upsert was written.
	OutcomeRecorded Outcome = "recorded"
	// OutcomeEnriched means the order was already terminal and only the
	// late-arriving exchange payload was attached.
	OutcomeEnriched Outcome = "enriched"
	// OutcomeSkipped means the order was already terminal and the event
	// carried nothing still writable.
	OutcomeSkipped Outcome = "skipped"
)

// Health is the slice of the health reporter the journal feeds.
type Health interface {
	RecordDBOK()
	RecordDBWriteFailed(ctx context.Context)
	RecordOrderSubmit(ctx context.Context)
	RecordOrderAck(ctx context.Context, latency time.Duration)
	RecordOrderReject(ctx context.Context, reason string)
	RecordBreakerOpen(ctx context.Context)
	RecordBreakerClosed()
}

// Alerter pushes operator-facing alerts. A nil alerter is valid.
type Alerter interface {
	Alert(ctx context.Context, title, text string)
}

// Auditor appends to the local audit event log. A nil auditor is valid.
type Auditor interface {
	Append(ctx context.Context, kind, message string, detail record.Payload) error
}

// entry is the journal's logical order record. Orders are keyed internally by
// a surrogate id so the client order id and the exchange order id both resolve
// to the same entry once each becomes known.
type entry struct {
	view        OrderView
	submittedAt time.Time
	acked       bool
}

// Journal persists order lifecycle events to the system of record. Retried
// submissions collapse onto one row because every write is an upsert keyed by
// client order id.
type Journal struct {
	gw      record.Gateway
	policy  backoff.Policy
	breaker *circuit.Breaker
	health  Health

	mu         sync.Mutex
	alerter    Alerter
	auditor    Auditor
	nextID     uint64
	entries    map[uint64]*entry
	byClient   map[string]uint64
	byExchange map[string]uint64
}

func New(cfg config.JournalConfig, gw record.Gateway, health Health) *Journal {
	j := &Journal{
		gw: gw,
		policy: backoff.Policy{
			Attempts:  cfg.RetryAttempts,
			BaseDelay: cfg.RetryBase(),
			MaxDelay:  cfg.RetryMax(),
		},
		breaker:    circuit.NewBreaker("journal", cfg.BreakThreshold, cfg.BreakCooldown()),
		health:     health,
		entries:    make(map[uint64]*entry),
		byClient:   make(map[string]uint64),
		byExchange: make(map[string]uint64),
	}
	j.breaker.SetStateChangeHandler(func(name string, from, to circuit.State) {
		j.onBreakerChange(name, from, to, cfg.BreakCooldown())
	})
	return j
}

// SetAlerter wires the notifier. Optional.
func (j *Journal) SetAlerter(a Alerter) {
	j.mu.Lock()
	j.alerter = a
	j.mu.Unlock()
}

// SetAuditor wires the local event log. Optional.
func (j *Journal) SetAuditor(a Auditor) {
	j.mu.Lock()
	j.auditor = a
	j.mu.Unlock()
}

// RecordOrderEvent upserts one lifecycle event. Submitting the same event
// again is safe; a terminal row only ever accepts payload enrichment.
func (j *Journal) RecordOrderEvent(ctx context.Context, ev OrderEvent) (Outcome, error) {
	if ev.ClientOrderID == "" {
		return "", record.NewValidationError("upsert_trade", ErrMissingClientOrderID.Error())
	}

	outcome, payload := j.admit(ev)
	if outcome == OutcomeSkipped {
		logger.Debugf("journal: %s already terminal, nothing to write", ev.ClientOrderID)
		return OutcomeSkipped, nil
	}

	if err := j.write(ctx, ev.ClientOrderID, ev.ExchangeOrderID, payload); err != nil {
		if j.health != nil {
			j.health.RecordDBWriteFailed(ctx)
		}
		return "", fmt.Errorf("journal: record %s: %w", ev.ClientOrderID, err)
	}

	ackLatency, acked := j.commit(ev, outcome)
	if j.health != nil {
		j.health.RecordDBOK()
		if acked && ev.Status != record.OrderStatusRejected {
			j.health.RecordOrderAck(ctx, ackLatency)
		}
		if outcome == OutcomeRecorded {
			switch ev.Status {
			case record.OrderStatusSubmitted:
				j.health.RecordOrderSubmit(ctx)
			case record.OrderStatusRejected:
				j.health.RecordOrderReject(ctx, ev.RejectReason)
			}
		}
	}
	if outcome == OutcomeRecorded && ev.Status.Terminal() {
		j.audit(ctx, "order_terminal", "order reached terminal status", record.Payload{
			"client_order_id":   ev.ClientOrderID,
			"exchange_order_id": ev.ExchangeOrderID,
			"status":            string(ev.Status),
		})
	}
	return outcome, nil
}

// Lookup resolves an order by either key.
func (j *Journal) Lookup(key string) (OrderView, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if id, ok := j.byClient[key]; ok {
		return j.entries[id].view, true
	}
	if id, ok := j.byExchange[key]; ok {
		return j.entries[id].view, true
	}
	return OrderView{}, false
}

// TerminalExit reports whether a filled reduce-only order matching either
// correlation id is on record. Reconciliation uses this to confirm a close
// before marking a vanished position closed.
func (j *Journal) TerminalExit(clientOrderID, exchangeOrderID string) (OrderView, bool) {
	for _, key := range []string{clientOrderID, exchangeOrderID} {
		if key == "" {
			continue
		}
		v, ok := j.Lookup(key)
		if ok && v.Status == record.OrderStatusFilled && v.ReduceOnly {
			return v, true
		}
	}
	return OrderView{}, false
}

// admit decides what this event may write given what the journal already
// knows about the order.
func (j *Journal) admit(ev OrderEvent) (Outcome, record.Payload) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, known := j.byClient[ev.ClientOrderID]
	if !known && ev.ExchangeOrderID != "" {
		id, known = j.byExchange[ev.ExchangeOrderID]
	}
	if known && j.entries[id].view.Status.Terminal() {
		if ev.Status != "" && ev.Status != j.entries[id].view.Status {
			logger.Warnf("journal: %s is terminal (%s), dropping status %s",
				ev.ClientOrderID, j.entries[id].view.Status, ev.Status)
		}
		p := ev.enrichmentPayload()
		if len(p) == 0 {
			return OutcomeSkipped, nil
		}
		return OutcomeEnriched, p
	}
	return OutcomeRecorded, ev.payload()
}

func (j *Journal) write(ctx context.Context, clientID, exchangeID string, payload record.Payload) error {
	if !j.breaker.Allow() {
		return &record.Error{
			Kind:    record.KindTransient,
			Fn:      "upsert_trade",
			Message: "journal circuit open",
		}
	}
	err := backoff.Retry(ctx, j.policy, record.IsTransient, func(ctx context.Context) error {
		return j.gw.UpsertTrade(ctx, clientID, exchangeID, payload)
	})
	if err != nil {
		j.breaker.RecordFailure()
		return err
	}
	j.breaker.RecordSuccess()
	return nil
}

// commit updates the in-memory index after a successful write. The returns
// report whether this event bound the exchange order id for the first time,
// which is the venue acknowledging the order, and the submit-to-ack latency.
func (j *Journal) commit(ev OrderEvent, outcome Outcome) (time.Duration, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id, known := j.byClient[ev.ClientOrderID]
	if !known && ev.ExchangeOrderID != "" {
		id, known = j.byExchange[ev.ExchangeOrderID]
	}
	if !known {
		j.nextID++
		id = j.nextID
		j.entries[id] = &entry{view: OrderView{ClientOrderID: ev.ClientOrderID}}
		j.byClient[ev.ClientOrderID] = id
	}

	e := j.entries[id]
	v := &e.view
	if v.ClientOrderID == "" {
		v.ClientOrderID = ev.ClientOrderID
		j.byClient[ev.ClientOrderID] = id
	}
	if ev.ExchangeOrderID != "" && v.ExchangeOrderID == "" {
		v.ExchangeOrderID = ev.ExchangeOrderID
		j.byExchange[ev.ExchangeOrderID] = id
	}

	at := ev.ExecutedAt
	if at.IsZero() {
		at = time.Now()
	}
	if ev.Status == record.OrderStatusSubmitted && e.submittedAt.IsZero() {
		e.submittedAt = at
	}
	var ackLatency time.Duration
	acked := false
	if ev.ExchangeOrderID != "" && !e.acked {
		e.acked = true
		acked = true
		if !e.submittedAt.IsZero() && at.After(e.submittedAt) {
			ackLatency = at.Sub(e.submittedAt)
		}
	}

	if outcome != OutcomeRecorded {
		return ackLatency, acked
	}
	if ev.Status != "" {
		v.Status = ev.Status
	}
	if ev.Side != "" {
		v.Side = ev.Side
	}
	if ev.ReduceOnly != nil {
		v.ReduceOnly = *ev.ReduceOnly
	}
	if ev.PositionID != "" {
		v.PositionID = ev.PositionID
	}
	return ackLatency, acked
}

// onBreakerChange feeds breaker transitions to the health reporter and, on
// open, the operator. It runs off the write path.
func (j *Journal) onBreakerChange(name string, from, to circuit.State, cooldown time.Duration) {
	logger.Warnf("journal: breaker %s: %s -> %s", name, from, to)
	ctx := context.Background()
	switch to {
	case circuit.StateOpen:
		if j.health != nil {
			j.health.RecordBreakerOpen(ctx)
		}
		if a := j.currentAlerter(); a != nil {
			a.Alert(ctx, "Trade journal circuit open",
				fmt.Sprintf("trade writes suspended for %s after repeated failures", cooldown))
		}
	case circuit.StateClosed:
		if j.health != nil {
			j.health.RecordBreakerClosed()
		}
	}
}

func (j *Journal) currentAlerter() Alerter {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.alerter
}

func (j *Journal) audit(ctx context.Context, kind, message string, detail record.Payload) {
	j.mu.Lock()
	auditor := j.auditor
	j.mu.Unlock()
	if auditor == nil {
		return
	}
	if err := auditor.Append(ctx, kind, message, detail); err != nil {
		logger.Warnf("journal: audit append failed: %v", err)
	}
}

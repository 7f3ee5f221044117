package journal

import (
	"encoding/json"
	"time"

	"keel/internal/gateway/record"
)

// OrderEvent is one order lifecycle observation from the runtime. Only the
// fields the event actually carries are written; optional fields use pointers
// so an absent value is distinguishable from a zero.
type OrderEvent struct {
	ClientOrderID   string
	ExchangeOrderID string
	PositionID      string
	Symbol          string
	Side            string
	OrderType       string
	Status          record.OrderStatus
	RejectReason    string
	ReduceOnly      *bool
	FilledQty       *float64
	AvgFillPrice    *float64
	Fee             *float64
	PnL             *float64
	ExecutedAt      time.Time
	Raw             json.RawMessage
}

// payload builds the partial field bundle for the upsert. The journal never
// guesses at unspecified columns; the system of record preserves them.
func (e OrderEvent) payload() record.Payload {
	p := record.Payload{}
	if e.PositionID != "" {
		p["position_id"] = e.PositionID
	}
	if e.Symbol != "" {
		p["symbol"] = e.Symbol
	}
	if e.Side != "" {
		p["side"] = e.Side
	}
	if e.OrderType != "" {
		p["order_type"] = e.OrderType
	}
	if e.Status != "" {
		p["order_status"] = string(e.Status)
	}
	if e.ReduceOnly != nil {
		p["reduce_only"] = *e.ReduceOnly
	}
	if e.FilledQty != nil {
		p["filled_qty"] = *e.FilledQty
	}
	if e.AvgFillPrice != nil {
		p["avg_fill_price"] = *e.AvgFillPrice
	}
	if e.Fee != nil {
		p["fee"] = *e.Fee
	}
	if e.PnL != nil {
		p["pnl"] = *e.PnL
	}
	if !e.ExecutedAt.IsZero() {
		p["executed_at"] = e.ExecutedAt.UTC().Format(time.RFC3339)
	}
	if len(e.Raw) > 0 {
		p["exchange_payload"] = json.RawMessage(e.Raw)
	}
	return p
}

// enrichmentPayload is the subset still writable after a terminal status:
// late exchange payload and the exchange order id correlation.
func (e OrderEvent) enrichmentPayload() record.Payload {
	p := record.Payload{}
	if len(e.Raw) > 0 {
		p["exchange_payload"] = json.RawMessage(e.Raw)
	}
	return p
}

// OrderView is the journal's in-memory knowledge of one logical order.
type OrderView struct {
	ClientOrderID   string
	ExchangeOrderID string
	Status          record.OrderStatus
	Side            string
	ReduceOnly      bool
	PositionID      string
}

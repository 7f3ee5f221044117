package record

import "encoding/json"

// PositionStatus is the lifecycle state of a canonical position row.
type PositionStatus string

const (
	PositionStatusOpen     PositionStatus = "open"
	PositionStatusClosed   PositionStatus = "closed"
	PositionStatusMissing  PositionStatus = "missing"
	PositionStatusMismatch PositionStatus = "mismatch"
)

// OrderStatus is the lifecycle state of a journal row.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "submitted"
	OrderStatusPartial   OrderStatus = "partially_filled"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Terminal reports whether no further state mutation is accepted for the
// order beyond late payload enrichment.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// PositionRow mirrors the system of record's canonical position shape.
// ExchangePayload is carried as an opaque blob for audit; the gateway never
// interprets it.
type PositionRow struct {
	ID                   string          `json:"id"`
	BotID                string          `json:"bot_id"`
	Symbol               string          `json:"symbol"`
	Exchange             string          `json:"exchange"`
	Status               PositionStatus  `json:"status"`
	Direction            string          `json:"direction"`
	PositionSide         string          `json:"position_side"`
	Qty                  float64         `json:"qty"`
	EntryPrice           float64         `json:"entry_price"`
	MarkPrice            *float64        `json:"mark_price"`
	UnrealizedPnL        float64         `json:"unrealized_pnl"`
	RealizedPnL          float64         `json:"realized_pnl"`
	EntryTime            string          `json:"entry_time"`
	ExitTime             string          `json:"exit_time"`
	EntryExchangeOrderID string          `json:"entry_exchange_order_id"`
	EntryClientOrderID   string          `json:"entry_client_order_id"`
	ExitExchangeOrderID  string          `json:"exit_exchange_order_id"`
	ExitClientOrderID    string          `json:"exit_client_order_id"`
	LastExchangeSyncAt   string          `json:"last_exchange_sync_at"`
	ExchangePayload      json.RawMessage `json:"exchange_payload"`
}

// TradeRow mirrors the journal shape returned by trade lookups.
type TradeRow struct {
	ID              string          `json:"id"`
	BotID           string          `json:"bot_id"`
	PositionID      string          `json:"position_id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Side            string          `json:"side"`
	OrderType       string          `json:"order_type"`
	OrderStatus     OrderStatus     `json:"order_status"`
	ReduceOnly      bool            `json:"reduce_only"`
	FilledQty       float64         `json:"filled_qty"`
	AvgFillPrice    float64         `json:"avg_fill_price"`
	ExecutedAt      string          `json:"executed_at"`
	ExchangePayload json.RawMessage `json:"exchange_payload"`
}

// UpsertAck is the row identity returned by a position upsert.
type UpsertAck struct {
	ID string `json:"id"`
}

// Payload is a partial field bundle. Upserts are last-write-wins per supplied
// field; the system of record preserves columns that are absent from the map.
type Payload map[string]any

// Package exchange defines the boundary to the trading venue. The reconciler
// consumes it read-only: keel validates canonical state against exchange
// truth, it never places orders itself.
package exchange

import (
	"context"
	"encoding/json"
	"time"
)

// PositionSnapshot is the venue's live view of an exposure for one symbol.
// Raw preserves the venue payload untouched for the audit trail.
type PositionSnapshot struct {
	Symbol        string
	Side          string // "long" or "short"
	Qty           float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Raw           json.RawMessage
}

// OrderDetail is the venue's view of a single order.
type OrderDetail struct {
	ExchangeOrderID string
	ClientOrderID   string
	Symbol          string
	Side            string
	Status          string
	ReduceOnly      bool
	FilledQty       float64
	AvgFillPrice    float64
	UpdatedAt       time.Time
	Raw             json.RawMessage
}

// Closed reports whether the order reached a terminal venue status.
func (o OrderDetail) Closed() bool {
	switch o.Status {
	case "FILLED", "CANCELED", "REJECTED", "EXPIRED":
		return true
	default:
		return false
	}
}

// ClosedTrade is the result of probing the venue for a completed close after
// the live position vanished.
type ClosedTrade struct {
	Confirmed       bool
	ExitPrice       float64
	ExitTime        time.Time
	ExchangeOrderID string
	ClientOrderID   string
	Raw             json.RawMessage
}

// Provider reads exchange truth. Implementations must return typed errors and
// must not retry internally; retry policy lives with the caller.
type Provider interface {
	// FetchPositionForSymbol returns the live position, or nil when the venue
	// reports no exposure for the symbol.
	FetchPositionForSymbol(ctx context.Context, symbol string) (*PositionSnapshot, error)

	// FetchOrderByID looks up one order by its exchange-assigned id.
	FetchOrderByID(ctx context.Context, symbol, exchangeOrderID string) (*OrderDetail, error)

	// FetchClosedSince probes recent terminal orders for the symbol to confirm
	// whether the exposure was closed on the venue after the given time.
	FetchClosedSince(ctx context.Context, symbol string, since time.Time) (ClosedTrade, error)
}

package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/gjson"

	"keel/internal/gateway/exchange"
	"keel/internal/gateway/record"
	"keel/internal/journal"
	"keel/internal/logger"
)

// CloseConfirmer decides whether a position that vanished from the venue was
// actually closed there. Without a positive confirmation the reconciler marks
// the row missing instead of closed.
type CloseConfirmer interface {
	ConfirmClose(ctx context.Context, pos *record.PositionRow) (exchange.ClosedTrade, bool, error)
}

// OrderTrail is the slice of the journal the confirmer consults.
type OrderTrail interface {
	TerminalExit(clientOrderID, exchangeOrderID string) (journal.OrderView, bool)
}

// OrderTrailConfirmer confirms a close from evidence, strongest first: the
// exit order looked up on the venue, then the journal's own order trail, then
// a probe of the venue's recent terminal orders.
type OrderTrailConfirmer struct {
	trail OrderTrail
	ex    exchange.Provider
}

func NewOrderTrailConfirmer(trail OrderTrail, ex exchange.Provider) *OrderTrailConfirmer {
	return &OrderTrailConfirmer{trail: trail, ex: ex}
}

func (c *OrderTrailConfirmer) ConfirmClose(ctx context.Context, pos *record.PositionRow) (exchange.ClosedTrade, bool, error) {
	if pos.ExitExchangeOrderID != "" {
		detail, err := c.ex.FetchOrderByID(ctx, pos.Symbol, pos.ExitExchangeOrderID)
		switch {
		case err == nil && detail != nil && detail.Status == "FILLED":
			return closedFromDetail(*detail), true, nil
		case err != nil && !errors.Is(err, exchange.ErrOrderNotFound):
			logger.Warnf("reconcile: exit order %s lookup failed: %v", pos.ExitExchangeOrderID, err)
		}
	}

	if v, ok := c.trail.TerminalExit(pos.ExitClientOrderID, pos.ExitExchangeOrderID); ok {
		return exchange.ClosedTrade{
			Confirmed:       true,
			ClientOrderID:   v.ClientOrderID,
			ExchangeOrderID: v.ExchangeOrderID,
		}, true, nil
	}

	since := closeProbeSince(pos)
	ct, err := c.ex.FetchClosedSince(ctx, pos.Symbol, since)
	if err != nil {
		return exchange.ClosedTrade{}, false, err
	}
	return ct, ct.Confirmed, nil
}

func closedFromDetail(d exchange.OrderDetail) exchange.ClosedTrade {
	price := d.AvgFillPrice
	if price == 0 && len(d.Raw) > 0 {
		price = gjson.GetBytes(d.Raw, "avgPrice").Float()
	}
	return exchange.ClosedTrade{
		Confirmed:       true,
		ExitPrice:       price,
		ExitTime:        d.UpdatedAt,
		ExchangeOrderID: d.ExchangeOrderID,
		ClientOrderID:   d.ClientOrderID,
		Raw:             d.Raw,
	}
}

// closeProbeSince bounds the venue probe to the position's own lifetime.
func closeProbeSince(pos *record.PositionRow) time.Time {
	for _, stamp := range []string{pos.LastExchangeSyncAt, pos.EntryTime} {
		if stamp == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, stamp); err == nil {
			return t
		}
	}
	return time.Now().Add(-24 * time.Hour)
}

package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"keel/internal/gateway/exchange"
	"keel/internal/gateway/record"
	"keel/internal/journal"
)

type fakeTrail struct {
	views map[string]journal.OrderView
}

func (f *fakeTrail) TerminalExit(clientOrderID, exchangeOrderID string) (journal.OrderView, bool) {
	for _, key := range []string{clientOrderID, exchangeOrderID} {
		if v, ok := f.views[key]; ok {
			return v, true
		}
	}
	return journal.OrderView{}, false
}

func vanishedRow() *record.PositionRow {
	return &record.PositionRow{
		ID:                  "pos-1",
		Symbol:              "BTC/USDT:USDT",
		Status:              record.PositionStatusOpen,
		Direction:           "long",
		Qty:                 1.0,
		EntryTime:           "2026-03-01T10:00:00Z",
		ExitClientOrderID:   "bot-1-exit",
		ExitExchangeOrderID: "777",
	}
}

func TestConfirmCloseViaVenueOrderLookup(t *testing.T) {
	ex := new(MockProvider)
	ex.On("FetchOrderByID", mock.Anything, "BTC/USDT:USDT", "777").Return(&exchange.OrderDetail{
		ExchangeOrderID: "777",
		ClientOrderID:   "bot-1-exit",
		Status:          "FILLED",
		ReduceOnly:      true,
		AvgFillPrice:    65000,
		UpdatedAt:       time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}, nil)

	c := NewOrderTrailConfirmer(&fakeTrail{}, ex)
	ct, ok, err := c.ConfirmClose(context.Background(), vanishedRow())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 65000.0, ct.ExitPrice)
	assert.Equal(t, "777", ct.ExchangeOrderID)
	ex.AssertNotCalled(t, "FetchClosedSince")
}

func TestConfirmCloseFillPriceFromRawPayload(t *testing.T) {
	ex := new(MockProvider)
	ex.On("FetchOrderByID", mock.Anything, "BTC/USDT:USDT", "777").Return(&exchange.OrderDetail{
		ExchangeOrderID: "777",
		Status:          "FILLED",
		Raw:             json.RawMessage(`{"avgPrice":"64321.5"}`),
	}, nil)

	c := NewOrderTrailConfirmer(&fakeTrail{}, ex)
	ct, ok, err := c.ConfirmClose(context.Background(), vanishedRow())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 64321.5, ct.ExitPrice)
}

func TestConfirmCloseViaJournalTrail(t *testing.T) {
	ex := new(MockProvider)
	ex.On("FetchOrderByID", mock.Anything, "BTC/USDT:USDT", "777").Return(nil, exchange.ErrOrderNotFound)

	trail := &fakeTrail{views: map[string]journal.OrderView{
		"bot-1-exit": {
			ClientOrderID:   "bot-1-exit",
			ExchangeOrderID: "777",
			Status:          record.OrderStatusFilled,
			ReduceOnly:      true,
		},
	}}

	c := NewOrderTrailConfirmer(trail, ex)
	ct, ok, err := c.ConfirmClose(context.Background(), vanishedRow())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "bot-1-exit", ct.ClientOrderID)
	ex.AssertNotCalled(t, "FetchClosedSince")
}

func TestConfirmCloseFallsBackToVenueProbe(t *testing.T) {
	ex := new(MockProvider)
	ex.On("FetchOrderByID", mock.Anything, "BTC/USDT:USDT", "777").Return(nil, exchange.ErrOrderNotFound)
	ex.On("FetchClosedSince", mock.Anything, "BTC/USDT:USDT", mock.Anything).Return(exchange.ClosedTrade{
		Confirmed:       true,
		ExitPrice:       64900,
		ExchangeOrderID: "888",
	}, nil)

	c := NewOrderTrailConfirmer(&fakeTrail{}, ex)
	ct, ok, err := c.ConfirmClose(context.Background(), vanishedRow())
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "888", ct.ExchangeOrderID)
}

func TestConfirmCloseNoEvidence(t *testing.T) {
	t.Run("no exit ids and empty probe", func(t *testing.T) {
		ex := new(MockProvider)
		ex.On("FetchClosedSince", mock.Anything, "BTC/USDT:USDT", mock.Anything).Return(exchange.ClosedTrade{}, nil)

		row := vanishedRow()
		row.ExitClientOrderID = ""
		row.ExitExchangeOrderID = ""

		c := NewOrderTrailConfirmer(&fakeTrail{}, ex)
		_, ok, err := c.ConfirmClose(context.Background(), row)
		assert.NoError(t, err)
		assert.False(t, ok)
		ex.AssertNotCalled(t, "FetchOrderByID")
	})

	t.Run("probe failure surfaces as error", func(t *testing.T) {
		ex := new(MockProvider)
		ex.On("FetchOrderByID", mock.Anything, mock.Anything, mock.Anything).Return(nil, exchange.ErrOrderNotFound)
		ex.On("FetchClosedSince", mock.Anything, "BTC/USDT:USDT", mock.Anything).Return(exchange.ClosedTrade{}, errors.New("timeout"))

		c := NewOrderTrailConfirmer(&fakeTrail{}, ex)
		_, ok, err := c.ConfirmClose(context.Background(), vanishedRow())
		assert.Error(t, err)
		assert.False(t, ok)
	})
}

func TestCloseProbeSince(t *testing.T) {
	row := vanishedRow()
	row.LastExchangeSyncAt = "2026-03-01T11:30:00Z"
	assert.Equal(t, time.Date(2026, 3, 1, 11, 30, 0, 0, time.UTC), closeProbeSince(row))

	row.LastExchangeSyncAt = ""
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), closeProbeSince(row))

	row.EntryTime = "garbage"
	// unparseable stamps fall back to a bounded recent window
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), closeProbeSince(row), time.Minute)
}

package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"keel/internal/config"
	"keel/internal/gateway/exchange"
)

const closedOrderLookback = 50

// Provider reads exchange truth from Binance USDT-margined futures.
type Provider struct {
	client *futures.Client
}

var _ exchange.Provider = (*Provider)(nil)

func New(cfg config.ExchangeConfig) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("exchange api_key and api_secret are required")
	}
	futures.UseTestnet = cfg.Testnet
	client := futures.NewClient(strings.TrimSpace(cfg.APIKey), strings.TrimSpace(cfg.APISecret))
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Provider{client: client}, nil
}

func (p *Provider) FetchPositionForSymbol(ctx context.Context, symbol string) (*exchange.PositionSnapshot, error) {
	venue := venueSymbol(symbol)
	risks, err := p.client.NewGetPositionRiskService().Symbol(venue).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch position %s: %w", venue, err)
	}
	for _, risk := range risks {
		if risk == nil || risk.Symbol != venue {
			continue
		}
		qty := parseFloat(risk.PositionAmt)
		if qty == 0 {
			continue
		}
		side := "long"
		if qty < 0 {
			side = "short"
			qty = -qty
		}
		raw, _ := json.Marshal(risk)
		return &exchange.PositionSnapshot{
			Symbol:        symbol,
			Side:          side,
			Qty:           qty,
			EntryPrice:    parseFloat(risk.EntryPrice),
			MarkPrice:     parseFloat(risk.MarkPrice),
			UnrealizedPnL: parseFloat(risk.UnRealizedProfit),
			Raw:           raw,
		}, nil
	}
	return nil, nil
}

func (p *Provider) FetchOrderByID(ctx context.Context, symbol, exchangeOrderID string) (*exchange.OrderDetail, error) {
	venue := venueSymbol(symbol)
	orderID, err := strconv.ParseInt(strings.TrimSpace(exchangeOrderID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("exchange order id %q is not numeric: %w", exchangeOrderID, err)
	}
	order, err := p.client.NewGetOrderService().Symbol(venue).OrderID(orderID).Do(ctx)
	if err != nil {
		if isOrderMissing(err) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, fmt.Errorf("fetch order %s/%d: %w", venue, orderID, err)
	}
	return orderDetail(symbol, order), nil
}

func (p *Provider) FetchClosedSince(ctx context.Context, symbol string, since time.Time) (exchange.ClosedTrade, error) {
	venue := venueSymbol(symbol)
	svc := p.client.NewListOrdersService().Symbol(venue).Limit(closedOrderLookback)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return exchange.ClosedTrade{}, fmt.Errorf("list orders %s: %w", venue, err)
	}
	// Only reduce-only fills count as close evidence; an entry fill must
	// never confirm a close.
	var latest *futures.Order
	for _, order := range orders {
		if order == nil || order.Status != futures.OrderStatusTypeFilled || !order.ReduceOnly {
			continue
		}
		if latest == nil || order.UpdateTime > latest.UpdateTime {
			latest = order
		}
	}
	if latest == nil {
		return exchange.ClosedTrade{}, nil
	}
	raw, _ := json.Marshal(latest)
	return exchange.ClosedTrade{
		Confirmed:       true,
		ExitPrice:       parseFloat(latest.AvgPrice),
		ExitTime:        time.UnixMilli(latest.UpdateTime).UTC(),
		ExchangeOrderID: strconv.FormatInt(latest.OrderID, 10),
		ClientOrderID:   latest.ClientOrderID,
		Raw:             raw,
	}, nil
}

func orderDetail(symbol string, order *futures.Order) *exchange.OrderDetail {
	raw, _ := json.Marshal(order)
	return &exchange.OrderDetail{
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Symbol:          symbol,
		Side:            strings.ToLower(string(order.Side)),
		Status:          string(order.Status),
		ReduceOnly:      order.ReduceOnly,
		FilledQty:       parseFloat(order.ExecutedQuantity),
		AvgFillPrice:    parseFloat(order.AvgPrice),
		UpdatedAt:       time.UnixMilli(order.UpdateTime).UTC(),
		Raw:             raw,
	}
}

// venueSymbol maps a canonical pair like "BTC/USDT" or "BTC/USDT:USDT" to the
// venue's compact form "BTCUSDT".
func venueSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	return strings.ReplaceAll(s, "/", "")
}

func isOrderMissing(err error) bool {
	if err == nil {
		return false
	}
	// -2013: order does not exist.
	return strings.Contains(err.Error(), "-2013")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

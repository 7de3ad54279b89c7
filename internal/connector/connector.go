package connector

import (
	"context"

	"github.com/shopspring/decimal"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
)

// MarketData is the read side of an exchange.
type MarketData interface {
	GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)
}

// Trading is the order side of an exchange. Errors are classified with
// exception.Transient and exception.Permanent.
type Trading interface {
	PlaceOrder(ctx context.Context, symbol string, side enum.OrderSide, amount, price decimal.Decimal) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (model.OrderState, error)
}

// Connector is the full exchange surface the engine consumes.
type Connector interface {
	MarketData
	Trading
}

// MarketLister is implemented by connectors that can enumerate their markets.
type MarketLister interface {
	Markets(ctx context.Context) ([]string, error)
}

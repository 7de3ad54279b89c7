package connector

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"golang.org/x/time/rate"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/pkg/exception"
)

// Limited throttles every call to the wrapped connector with a token bucket.
type Limited struct {
	next    Connector
	limiter *rate.Limiter
}

// NewLimited allows perSecond calls on average with bursts of burst.
func NewLimited(next Connector, perSecond float64, burst int) *Limited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}
	return nil
}

func (l *Limited) Markets(ctx context.Context) ([]string, error) {
	lister, ok := l.next.(MarketLister)
	if !ok {
		return nil, errors.Wrap(exception.ErrUnsupported, "market listing")
	}
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return lister.Markets(ctx)
}

func (l *Limited) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.next.GetOHLCV(ctx, symbol, interval, limit)
}

func (l *Limited) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	if err := l.wait(ctx); err != nil {
		return model.Ticker{}, err
	}
	return l.next.GetTicker(ctx, symbol)
}

func (l *Limited) PlaceOrder(ctx context.Context, symbol string, side enum.OrderSide, amount, price decimal.Decimal) (string, error) {
	if err := l.wait(ctx); err != nil {
		return "", err
	}
	return l.next.PlaceOrder(ctx, symbol, side, amount, price)
}

func (l *Limited) CancelOrder(ctx context.Context, orderID string) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	return l.next.CancelOrder(ctx, orderID)
}

func (l *Limited) GetOrderStatus(ctx context.Context, orderID string) (model.OrderState, error) {
	if err := l.wait(ctx); err != nil {
		return model.OrderState{}, err
	}
	return l.next.GetOrderStatus(ctx, orderID)
}

// Package connectortest provides a scripted in-memory connector for tests.
package connectortest

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/pkg/exception"
)

const (
	OpOHLCV  = "get_ohlcv"
	OpTicker = "get_ticker"
	OpPlace  = "place_order"
	OpCancel = "cancel_order"
	OpStatus = "get_order_status"
)

// Call records one connector invocation.
type Call struct {
	Op      string
	Symbol  string
	OrderID string
	Side    enum.OrderSide
	Amount  decimal.Decimal
	Price   decimal.Decimal
}

// Fake is a Connector whose responses are scripted by the test. Placed
// orders start open and keep whatever status the test sets.
type Fake struct {
	// PlaceHook, when set, may fail a placement after queued errors are used up.
	PlaceHook func(Call) error

	mu         sync.Mutex
	nextID     int
	calls      []Call
	placed     []Call
	placeErrs  []error
	cancelErrs []error
	statusErrs map[string][]error
	statuses   map[string]model.OrderState
	tickers    map[string]model.Ticker
	candles    map[string][]model.Candle
	markets    []string
}

// New creates an empty fake.
func New() *Fake {
	return &Fake{
		statusErrs: make(map[string][]error),
		statuses:   make(map[string]model.OrderState),
		tickers:    make(map[string]model.Ticker),
		candles:    make(map[string][]model.Candle),
	}
}

// FailPlace queues errors returned by the next PlaceOrder calls.
func (f *Fake) FailPlace(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeErrs = append(f.placeErrs, errs...)
}

// FailCancel queues errors returned by the next CancelOrder calls.
func (f *Fake) FailCancel(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelErrs = append(f.cancelErrs, errs...)
}

// FailStatus queues errors returned by the next status queries for id.
func (f *Fake) FailStatus(id string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusErrs[id] = append(f.statusErrs[id], errs...)
}

// SetStatus sets the exchange-side state of an order.
func (f *Fake) SetStatus(id string, st model.OrderState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[id] = st
}

// Fill marks an order fully filled at price.
func (f *Fake) Fill(id string, amount, price decimal.Decimal) {
	f.SetStatus(id, model.OrderState{Status: enum.OrderStatusFilled, FilledAmount: amount, AvgFillPrice: price})
}

// SetTicker sets the ticker returned for t.Symbol.
func (f *Fake) SetTicker(t model.Ticker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickers[t.Symbol] = t
}

// SetCandles sets the OHLCV history of a symbol.
func (f *Fake) SetCandles(symbol string, candles []model.Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles[symbol] = candles
}

// SetMarkets sets the listed markets.
func (f *Fake) SetMarkets(symbols ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markets = symbols
}

// Calls returns every invocation so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Count returns the number of invocations of op.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Placed returns the accepted placements in order. OrderID is set.
func (f *Fake) Placed() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.placed))
	copy(out, f.placed)
	return out
}

func (f *Fake) Markets(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.markets, nil
}

func (f *Fake) GetOHLCV(_ context.Context, symbol, _ string, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpOHLCV, Symbol: symbol})
	c := f.candles[symbol]
	if limit > 0 && len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func (f *Fake) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Op: OpTicker, Symbol: symbol})
	t, ok := f.tickers[symbol]
	if !ok {
		return model.Ticker{}, exception.Permanent(errors.Wrap(exception.ErrUnknownSymbol, symbol))
	}
	return t, nil
}

func (f *Fake) PlaceOrder(_ context.Context, symbol string, side enum.OrderSide, amount, price decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	call := Call{Op: OpPlace, Symbol: symbol, Side: side, Amount: amount, Price: price}
	f.calls = append(f.calls, call)
	if len(f.placeErrs) > 0 {
		err := f.placeErrs[0]
		f.placeErrs = f.placeErrs[1:]
		return "", err
	}
	if f.PlaceHook != nil {
		if err := f.PlaceHook(call); err != nil {
			return "", err
		}
	}

	f.nextID++
	call.OrderID = "ord-" + strconv.Itoa(f.nextID)
	f.placed = append(f.placed, call)
	f.statuses[call.OrderID] = model.OrderState{Status: enum.OrderStatusOpen}
	return call.OrderID, nil
}

func (f *Fake) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpCancel, OrderID: orderID})
	if len(f.cancelErrs) > 0 {
		err := f.cancelErrs[0]
		f.cancelErrs = f.cancelErrs[1:]
		return err
	}
	st, ok := f.statuses[orderID]
	if !ok {
		return exception.Permanent(errors.Wrap(exception.ErrOrderUnknown, orderID))
	}
	st.Status = enum.OrderStatusCancelled
	f.statuses[orderID] = st
	return nil
}

func (f *Fake) GetOrderStatus(_ context.Context, orderID string) (model.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Op: OpStatus, OrderID: orderID})
	if errs := f.statusErrs[orderID]; len(errs) > 0 {
		f.statusErrs[orderID] = errs[1:]
		return model.OrderState{}, errs[0]
	}
	st, ok := f.statuses[orderID]
	if !ok {
		return model.OrderState{}, exception.Permanent(errors.Wrap(exception.ErrOrderUnknown, orderID))
	}
	return st, nil
}

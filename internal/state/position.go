package state

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"fatfinger/internal/model"
	"fatfinger/pkg/exception"
)

const defaultClosedLimit = 500

// PositionBook tracks positions keyed by the buy order that opened them.
type PositionBook struct {
	positions map[string]*model.Position
	seq       []string
	closed    []model.Position
	limit     int
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{
		positions: make(map[string]*model.Position),
		limit:     defaultClosedLimit,
	}
}

// ApplyBuyFill creates or extends a position with newly filled entry amount.
func (b *PositionBook) ApplyBuyFill(id, symbol string, amount, price decimal.Decimal, at time.Time) (model.Position, error) {
	if !amount.IsPositive() || !price.IsPositive() {
		return model.Position{}, errors.Wrapf(exception.ErrOrderInvalidAmount, "buy fill %s @ %s", amount, price)
	}

	p, ok := b.positions[id]
	if !ok {
		p = &model.Position{
			ID:       id,
			Symbol:   symbol,
			OpenedAt: at,
		}
		b.positions[id] = p
		b.seq = append(b.seq, id)
	}

	total := p.TotalAmount.Add(amount)
	p.AverageEntryPrice = p.TotalAmount.Mul(p.AverageEntryPrice).Add(amount.Mul(price)).Div(total)
	p.TotalAmount = total
	p.RemainingAmount = p.RemainingAmount.Add(amount)
	return *p, nil
}

// Allocate reserves amount of the position for exit orders.
func (b *PositionBook) Allocate(id string, amount decimal.Decimal) error {
	p, ok := b.positions[id]
	if !ok {
		return errors.Wrap(exception.ErrOrderUnknown, "position "+id)
	}
	if amount.IsNegative() || p.AllocatedAmount.Add(amount).GreaterThan(p.TotalAmount) {
		return errors.Wrapf(exception.ErrOrderInvalidAmount, "allocate %s of unallocated %s", amount, p.Unallocated())
	}
	p.AllocatedAmount = p.AllocatedAmount.Add(amount)
	return nil
}

// Release returns amount of an exit that ended unfilled to the unallocated
// pool so it can be placed again.
func (b *PositionBook) Release(id string, amount decimal.Decimal) error {
	p, ok := b.positions[id]
	if !ok {
		return errors.Wrap(exception.ErrOrderUnknown, "position "+id)
	}
	if amount.IsNegative() || amount.GreaterThan(p.AllocatedAmount) {
		return errors.Wrapf(exception.ErrOrderInvalidAmount, "release %s of allocated %s", amount, p.AllocatedAmount)
	}
	p.AllocatedAmount = p.AllocatedAmount.Sub(amount)
	return nil
}

// ApplySellFill reduces the position by a filled exit amount and returns the
// updated position with the realized result of this fill.
func (b *PositionBook) ApplySellFill(id string, amount, price decimal.Decimal) (model.Position, decimal.Decimal, error) {
	p, ok := b.positions[id]
	if !ok {
		return model.Position{}, decimal.Zero, errors.Wrap(exception.ErrOrderUnknown, "position "+id)
	}
	if amount.GreaterThan(p.RemainingAmount) {
		amount = p.RemainingAmount
	}
	if !amount.IsPositive() {
		return *p, decimal.Zero, nil
	}

	pnl := price.Sub(p.AverageEntryPrice).Mul(amount)
	p.RemainingAmount = p.RemainingAmount.Sub(amount)
	p.RealizedPnL = p.RealizedPnL.Add(pnl)
	return *p, pnl, nil
}

// Close moves a fully exited position out of the book.
func (b *PositionBook) Close(id string, at time.Time) (model.Position, bool) {
	p, ok := b.positions[id]
	if !ok || p.IsOpen() {
		return model.Position{}, false
	}
	p.ClosedAt = at
	delete(b.positions, id)
	for i, sid := range b.seq {
		if sid == id {
			b.seq = append(b.seq[:i], b.seq[i+1:]...)
			break
		}
	}
	b.closed = append(b.closed, *p)
	if over := len(b.closed) - b.limit; over > 0 {
		b.closed = append(b.closed[:0], b.closed[over:]...)
	}
	return *p, true
}

// Position returns a tracked position.
func (b *PositionBook) Position(id string) (model.Position, bool) {
	p, ok := b.positions[id]
	if !ok {
		return model.Position{}, false
	}
	return *p, true
}

// Positions returns the tracked positions in opening order.
func (b *PositionBook) Positions() []model.Position {
	out := make([]model.Position, 0, len(b.seq))
	for _, id := range b.seq {
		out = append(out, *b.positions[id])
	}
	return out
}

// Closed returns recently closed positions, oldest first.
func (b *PositionBook) Closed() []model.Position {
	out := make([]model.Position, len(b.closed))
	copy(out, b.closed)
	return out
}

// OpenCount returns the number of positions still holding an amount.
func (b *PositionBook) OpenCount() int {
	n := 0
	for _, p := range b.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n
}

// SymbolExposure sums the held entry notional for a symbol.
func (b *PositionBook) SymbolExposure(symbol string) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range b.positions {
		if p.Symbol == symbol {
			sum = sum.Add(p.Exposure())
		}
	}
	return sum
}

// Count returns the number of tracked positions.
func (b *PositionBook) Count() int {
	return len(b.positions)
}

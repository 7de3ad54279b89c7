package og

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/pkg/exception"
)

const defaultHistoryLimit = 1000

// edges is the order status DAG. Every edge moves to a strictly later rank,
// so no status is ever revisited.
var edges = map[enum.OrderStatus][]enum.OrderStatus{
	enum.OrderStatusPending: {
		enum.OrderStatusOpen,
		enum.OrderStatusPartiallyFilled,
		enum.OrderStatusFilled,
		enum.OrderStatusCancelled,
		enum.OrderStatusRejected,
		enum.OrderStatusFailed,
	},
	enum.OrderStatusOpen: {
		enum.OrderStatusPartiallyFilled,
		enum.OrderStatusFilled,
		enum.OrderStatusCancelled,
		enum.OrderStatusRejected,
		enum.OrderStatusFailed,
	},
	enum.OrderStatusPartiallyFilled: {
		enum.OrderStatusFilled,
		enum.OrderStatusCancelled,
		enum.OrderStatusFailed,
	},
}

// CanTransition reports whether from -> to is an edge of the status DAG.
func CanTransition(from, to enum.OrderStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Update describes the effect of applying an exchange report.
type Update struct {
	Order     model.Order
	From      enum.OrderStatus
	Changed   bool
	FillDelta decimal.Decimal
	FillPrice decimal.Decimal
}

// Filled reports whether the update carried new fills.
func (u Update) Filled() bool {
	return u.FillDelta.IsPositive()
}

// StateMachine tracks active orders in creation order and retires them to a
// bounded history once terminal.
type StateMachine struct {
	orders  map[string]*model.Order
	seq     []string
	history []model.Order
	limit   int
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		orders: make(map[string]*model.Order),
		limit:  defaultHistoryLimit,
	}
}

// Order returns a copy of an active order.
func (m *StateMachine) Order(id string) (model.Order, bool) {
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, false
	}
	return *o, true
}

// Len returns the number of active orders.
func (m *StateMachine) Len() int {
	return len(m.orders)
}

// Add registers a freshly placed order.
func (m *StateMachine) Add(o model.Order) error {
	if o.ID == "" {
		return exception.ErrOrderEmptyID
	}
	if _, ok := m.orders[o.ID]; ok {
		return errors.Wrap(exception.ErrOrderDuplicate, o.ID)
	}
	if !o.Status.IsAvailable() {
		o.Status = enum.OrderStatusPending
	}
	m.orders[o.ID] = &o
	m.seq = append(m.seq, o.ID)
	return nil
}

// Active returns copies of the non-terminal orders in creation order.
func (m *StateMachine) Active() []model.Order {
	out := make([]model.Order, 0, len(m.seq))
	for _, id := range m.seq {
		if o, ok := m.orders[id]; ok && !o.Status.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// History returns retired orders, oldest first.
func (m *StateMachine) History() []model.Order {
	out := make([]model.Order, len(m.history))
	copy(out, m.history)
	return out
}

// Transition moves an order to a new status without fill information.
func (m *StateMachine) Transition(id string, to enum.OrderStatus, reason string, at time.Time) (Update, error) {
	o, ok := m.orders[id]
	if !ok {
		return Update{}, errors.Wrap(exception.ErrOrderUnknown, id)
	}
	if !CanTransition(o.Status, to) {
		return Update{Order: *o, From: o.Status}, errors.Wrap(exception.ErrOrderInvalidTransition, o.Status.String()+" -> "+to.String())
	}
	from := o.Status
	o.Status = to
	o.Reason = reason
	o.UpdatedAt = at
	return Update{Order: *o, From: from, Changed: true}, nil
}

// Apply reconciles an order with the exchange-reported state. Reports for
// terminal orders are ignored.
func (m *StateMachine) Apply(id string, st model.OrderState, at time.Time) (Update, error) {
	o, ok := m.orders[id]
	if !ok {
		return Update{}, errors.Wrap(exception.ErrOrderUnknown, id)
	}
	if o.Status.IsTerminal() {
		return Update{Order: *o, From: o.Status}, nil
	}

	filled := st.FilledAmount
	if st.Status == enum.OrderStatusFilled && !filled.IsPositive() {
		filled = o.Amount
	}
	if filled.GreaterThan(o.Amount) {
		filled = o.Amount
	}
	delta := filled.Sub(o.FilledAmount)
	if delta.IsNegative() {
		delta = decimal.Zero
	}

	target := st.Status
	if target == enum.OrderStatusOpen && filled.IsPositive() {
		target = enum.OrderStatusPartiallyFilled
	}

	from := o.Status
	changed := false
	if target != o.Status {
		if !CanTransition(o.Status, target) {
			return Update{Order: *o, From: from}, errors.Wrap(exception.ErrOrderInvalidTransition, o.Status.String()+" -> "+target.String())
		}
		o.Status = target
		changed = true
	}

	var fillPrice decimal.Decimal
	if delta.IsPositive() {
		fillPrice = deltaPrice(o, filled, delta, st.AvgFillPrice)
		if st.AvgFillPrice.IsPositive() {
			o.AvgFillPrice = st.AvgFillPrice
		} else {
			o.AvgFillPrice = o.FilledAmount.Mul(o.AvgFillPrice).Add(delta.Mul(fillPrice)).Div(filled)
		}
		o.FilledAmount = filled
	}
	if changed || delta.IsPositive() {
		o.UpdatedAt = at
	}

	return Update{Order: *o, From: from, Changed: changed, FillDelta: delta, FillPrice: fillPrice}, nil
}

// SetReason annotates an active order.
func (m *StateMachine) SetReason(id, reason string) {
	if o, ok := m.orders[id]; ok {
		o.Reason = reason
	}
}

// Retire moves a terminal order from the active set into history.
func (m *StateMachine) Retire(id string) (model.Order, bool) {
	o, ok := m.orders[id]
	if !ok || !o.Status.IsTerminal() {
		return model.Order{}, false
	}
	delete(m.orders, id)
	for i, sid := range m.seq {
		if sid == id {
			m.seq = append(m.seq[:i], m.seq[i+1:]...)
			break
		}
	}
	m.Archive(*o)
	return *o, true
}

// Archive appends an order that never entered the active set, such as a
// failed placement, to history.
func (m *StateMachine) Archive(o model.Order) {
	m.history = append(m.history, o)
	if over := len(m.history) - m.limit; over > 0 {
		m.history = append(m.history[:0], m.history[over:]...)
	}
}

// deltaPrice derives the price of the newest fills from the cumulative
// average. It falls back to the limit price when the exchange gives none.
func deltaPrice(o *model.Order, filled, delta, avg decimal.Decimal) decimal.Decimal {
	if !avg.IsPositive() {
		return o.Price
	}
	if o.FilledAmount.IsZero() || !o.AvgFillPrice.IsPositive() {
		return avg
	}
	p := filled.Mul(avg).Sub(o.FilledAmount.Mul(o.AvgFillPrice)).Div(delta)
	if !p.IsPositive() {
		return avg
	}
	return p
}

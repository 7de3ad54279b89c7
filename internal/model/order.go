package model

import (
	"time"

	"github.com/shopspring/decimal"

	"fatfinger/internal/model/enum"
)

// NoTier marks orders that do not belong to a tier plan (entry buys).
const NoTier = -1

// Order is the manager's view of one exchange order.
type Order struct {
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	Side         enum.OrderSide   `json:"side"`
	Kind         enum.OrderKind   `json:"kind"`
	Amount       decimal.Decimal  `json:"amount"`
	Price        decimal.Decimal  `json:"price"`
	Status       enum.OrderStatus `json:"status"`
	Tier         int              `json:"tier"`
	PositionID   string           `json:"positionId,omitempty"`
	FilledAmount decimal.Decimal  `json:"filledAmount"`
	AvgFillPrice decimal.Decimal  `json:"avgFillPrice"`
	Reason       string           `json:"reason,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// IsBuy reports whether the order is an entry.
func (o Order) IsBuy() bool {
	return o.Side == enum.OrderSideBuy
}

// Notional returns amount * price.
func (o Order) Notional() decimal.Decimal {
	return o.Amount.Mul(o.Price)
}

// OrderState is the exchange-side status of an order.
type OrderState struct {
	Status       enum.OrderStatus `json:"status"`
	FilledAmount decimal.Decimal  `json:"filledAmount"`
	AvgFillPrice decimal.Decimal  `json:"avgFillPrice"`
}

// Trade records one fill delta.
type Trade struct {
	OrderID       string          `json:"orderId"`
	PositionID    string          `json:"positionId"`
	Symbol        string          `json:"symbol"`
	Side          enum.OrderSide  `json:"side"`
	Amount        decimal.Decimal `json:"amount"`
	Price         decimal.Decimal `json:"price"`
	Tier          int             `json:"tier"`
	ProfitPercent float64         `json:"profitPercent"`
	Timestamp     time.Time       `json:"timestamp"`
}

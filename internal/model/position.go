package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the holding produced by one entry buy order.
type Position struct {
	ID                string          `json:"id"`
	Symbol            string          `json:"symbol"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	AverageEntryPrice decimal.Decimal `json:"averageEntryPrice"`
	RemainingAmount   decimal.Decimal `json:"remainingAmount"`
	AllocatedAmount   decimal.Decimal `json:"allocatedAmount"`
	RealizedPnL       decimal.Decimal `json:"realizedPnl"`
	OpenedAt          time.Time       `json:"openedAt"`
	ClosedAt          time.Time       `json:"closedAt,omitzero"`
}

// IsOpen reports whether part of the position is still held.
func (p Position) IsOpen() bool {
	return p.RemainingAmount.IsPositive()
}

// Unallocated is the amount not yet covered by an exit order.
func (p Position) Unallocated() decimal.Decimal {
	return p.TotalAmount.Sub(p.AllocatedAmount)
}

// Exposure is the entry notional still held.
func (p Position) Exposure() decimal.Decimal {
	return p.RemainingAmount.Mul(p.AverageEntryPrice)
}

package alert

import (
	"time"

	"github.com/shopspring/decimal"

	"fatfinger/internal/model"
)

// Alert is one published event. Seq is assigned by the bus and increases by
// one per publish.
type Alert struct {
	Seq       uint64    `json:"seq"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// OrderPayload accompanies order and tier alerts.
type OrderPayload struct {
	Order model.Order `json:"order"`
	Error string      `json:"error,omitempty"`
}

// VolatilityPayload accompanies high_volatility.
type VolatilityPayload struct {
	Candidate model.Candidate `json:"candidate"`
	Threshold float64         `json:"threshold"`
}

// RiskPayload accompanies risk_limit_breached.
type RiskPayload struct {
	Reason   string          `json:"reason"`
	DailyPnL decimal.Decimal `json:"dailyPnl"`
	Limit    decimal.Decimal `json:"limit"`
}

// PositionPayload accompanies position_closed.
type PositionPayload struct {
	Position model.Position `json:"position"`
}

// ErrorPayload accompanies error.
type ErrorPayload struct {
	Component string `json:"component"`
	Symbol    string `json:"symbol,omitempty"`
	OrderID   string `json:"orderId,omitempty"`
	Message   string `json:"message"`
}

package risk

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a buy was denied.
type Reason uint8

const (
	_reason_beg Reason = iota
	ReasonNone
	ReasonStopped
	ReasonDailyLoss
	ReasonDailyTrades
	ReasonConcurrentPositions
	ReasonSymbolInFlight
	ReasonPositionSize
	_reason_end
)

func (r Reason) IsAvailable() bool {
	return r > _reason_beg && r < _reason_end
}

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonStopped:
		return "stopped"
	case ReasonDailyLoss:
		return "daily_loss_limit"
	case ReasonDailyTrades:
		return "max_daily_trades"
	case ReasonConcurrentPositions:
		return "max_concurrent_positions"
	case ReasonSymbolInFlight:
		return "symbol_in_flight"
	case ReasonPositionSize:
		return "max_position_size"
	default:
		return "unknown"
	}
}

// Config defines the buy-side limits.
type Config struct {
	MaxPositionSize        decimal.Decimal `json:"maxPositionSize"`
	MaxConcurrentPositions int             `json:"maxConcurrentPositions"`
	DailyLossLimit         decimal.Decimal `json:"dailyLossLimit"`
	MaxDailyTrades         int             `json:"maxDailyTrades"`
}

// StateView is the book state a decision is made against.
type StateView struct {
	OpenPositions  int
	InFlightBuys   int
	SymbolExposure decimal.Decimal
	SymbolInFlight bool
	Stopped        bool
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
	// Headroom is the notional still available for the symbol.
	Headroom decimal.Decimal
	// Breached is set on the first evaluation that finds the daily loss limit
	// hit since the last rollover.
	Breached bool
	DailyPnL decimal.Decimal
}

// Engine evaluates risk decisions and keeps the per-day ledger. Days are UTC.
type Engine struct {
	cfg      Config
	day      time.Time
	dailyPnL decimal.Decimal
	trades   int
	notified bool
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate checks whether a new buy may be placed. Apart from the one-shot
// Breached flag it does not change state, so repeated calls give the same
// answer.
func (e *Engine) Evaluate(now time.Time, st StateView) Decision {
	e.rollover(now)

	decision := Decision{
		Reason:   ReasonNone,
		DailyPnL: e.dailyPnL,
	}

	if st.Stopped {
		decision.Reason = ReasonStopped
		return decision
	}

	if e.suspended() {
		decision.Reason = ReasonDailyLoss
		if !e.notified {
			e.notified = true
			decision.Breached = true
		}
		return decision
	}

	if e.cfg.MaxDailyTrades > 0 && e.trades >= e.cfg.MaxDailyTrades {
		decision.Reason = ReasonDailyTrades
		return decision
	}

	if e.cfg.MaxConcurrentPositions > 0 && st.OpenPositions+st.InFlightBuys >= e.cfg.MaxConcurrentPositions {
		decision.Reason = ReasonConcurrentPositions
		return decision
	}

	if st.SymbolInFlight {
		decision.Reason = ReasonSymbolInFlight
		return decision
	}

	headroom := e.cfg.MaxPositionSize.Sub(st.SymbolExposure)
	if !headroom.IsPositive() {
		decision.Reason = ReasonPositionSize
		return decision
	}

	decision.Allow = true
	decision.Headroom = headroom
	return decision
}

// RecordTrade counts a placed buy against the daily trade limit.
func (e *Engine) RecordTrade(now time.Time) {
	e.rollover(now)
	e.trades++
}

// RecordPnL adds the realized result of a closed position to today's ledger.
func (e *Engine) RecordPnL(now time.Time, pnl decimal.Decimal) {
	e.rollover(now)
	e.dailyPnL = e.dailyPnL.Add(pnl)
}

// DailyPnL returns today's realized result.
func (e *Engine) DailyPnL(now time.Time) decimal.Decimal {
	e.rollover(now)
	return e.dailyPnL
}

// Trades returns today's buy placements.
func (e *Engine) Trades(now time.Time) int {
	e.rollover(now)
	return e.trades
}

// Suspended reports whether buys are halted for the rest of the day.
func (e *Engine) Suspended(now time.Time) bool {
	e.rollover(now)
	return e.suspended()
}

func (e *Engine) suspended() bool {
	if !e.cfg.DailyLossLimit.IsPositive() {
		return false
	}
	return e.dailyPnL.LessThanOrEqual(e.cfg.DailyLossLimit.Neg())
}

func (e *Engine) rollover(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	if day.Equal(e.day) {
		return
	}
	e.day = day
	e.dailyPnL = decimal.Zero
	e.trades = 0
	e.notified = false
}

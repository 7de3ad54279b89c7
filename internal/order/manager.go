package order

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fatfinger/internal/alert"
	"fatfinger/internal/connector"
	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/internal/obs"
	"fatfinger/internal/og"
	"fatfinger/internal/risk"
	"fatfinger/internal/state"
	"fatfinger/internal/storage"
	"fatfinger/pkg/backoff"
	"fatfinger/pkg/exception"
)

// Config holds the order settings resolved from the config file.
type Config struct {
	DiscountPercent        float64
	MaxPositionSize        decimal.Decimal
	MaxConcurrentPositions int
	DailyLossLimit         decimal.Decimal
	MaxDailyTrades         int
	OrderTimeout           time.Duration
	MaxRetries             int
	AmountPrecision        int32
	PricePrecision         int32
	TierPlan               model.TierPlan
	Concurrency            int
	Backoff                backoff.Backoff
}

// Validate checks the settings the manager cannot run without.
func (c Config) Validate() error {
	if c.DiscountPercent <= 0 || c.DiscountPercent >= 100 {
		return errors.Wrapf(exception.ErrInvalidConfig, "discount percent must be in (0, 100), got %v", c.DiscountPercent)
	}
	if !c.MaxPositionSize.IsPositive() {
		return errors.Wrap(exception.ErrInvalidConfig, "max position size must be > 0")
	}
	if c.MaxRetries < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "max retries must be >= 0")
	}
	if c.AmountPrecision < 0 || c.PricePrecision < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "precision must be >= 0")
	}
	if err := c.TierPlan.Validate(); err != nil {
		return errors.Wrap(exception.ErrInvalidConfig, err.Error())
	}
	return nil
}

// Publisher is the alert sink the manager reports to.
type Publisher interface {
	Emit(typ alert.Type, payload any) alert.Alert
}

// Stats is a summary of the manager's book.
type Stats struct {
	ActiveOrders  int             `json:"activeOrders"`
	OpenPositions int             `json:"openPositions"`
	DailyPnL      decimal.Decimal `json:"dailyPnl"`
	DailyTrades   int             `json:"dailyTrades"`
	Suspended     bool            `json:"suspended"`
	Stopped       bool            `json:"stopped"`
}

// Manager turns candidates into bounded-risk buys, reconciles orders with the
// exchange and ladders filled positions out through tier sells. All book
// mutations happen under mu; connector calls run outside it.
type Manager struct {
	cfg     Config
	conn    connector.Trading
	alerts  Publisher
	store   storage.Sink
	log     *zap.Logger
	clock   clock.Clock
	metrics *obs.Metrics
	wait    backoff.WaitFunc
	stopped atomic.Bool

	mu      sync.Mutex
	orders  *og.StateMachine
	book    *state.PositionBook
	risk    *risk.Engine
	placing map[string]decimal.Decimal
	// unplaced holds exit legs per position whose sell ended unfilled or
	// could not be placed. They are placed again on the next ladder pass.
	unplaced map[string][]exitLeg
}

// NewManager creates a manager.
func NewManager(cfg Config, conn connector.Trading, alerts Publisher, store storage.Sink, log *zap.Logger, clk clock.Clock, metrics *obs.Metrics) (*Manager, error) {
	if conn == nil || alerts == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "connector and alert publisher are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if store == nil {
		store = storage.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Manager{
		cfg:     cfg,
		conn:    conn,
		alerts:  alerts,
		store:   store,
		log:     log.With(zap.String("component", "order")),
		clock:   clk,
		metrics: metrics,
		wait:    backoff.Sleep,
		orders:  og.NewStateMachine(),
		book:    state.NewPositionBook(),
		risk: risk.NewEngine(risk.Config{
			MaxPositionSize:        cfg.MaxPositionSize,
			MaxConcurrentPositions: cfg.MaxConcurrentPositions,
			DailyLossLimit:         cfg.DailyLossLimit,
			MaxDailyTrades:         cfg.MaxDailyTrades,
		}),
		placing:  make(map[string]decimal.Decimal),
		unplaced: make(map[string][]exitLeg),
	}, nil
}

// SetWaitFunc replaces the retry sleep.
func (m *Manager) SetWaitFunc(w backoff.WaitFunc) {
	if w != nil {
		m.wait = w
	}
}

// Stop blocks every later buy. Orders and positions keep being managed.
func (m *Manager) Stop() {
	if !m.stopped.Swap(true) {
		m.log.Info("buying stopped")
	}
}

// Stopped reports whether Stop was called.
func (m *Manager) Stopped() bool {
	return m.stopped.Load()
}

// EvaluateCandidate places a discounted limit buy for c unless a risk limit
// denies it. A denial returns an error wrapping exception.ErrRiskLimit and
// makes no connector call.
func (m *Manager) EvaluateCandidate(ctx context.Context, c model.Candidate) (model.Order, error) {
	m.mu.Lock()
	now := m.clock.Now()
	decision := m.risk.Evaluate(now, m.riskView(c.Symbol))
	if decision.Breached {
		m.log.Warn("daily loss limit breached", zap.Stringer("dailyPnl", decision.DailyPnL))
		m.alerts.Emit(alert.RiskLimitBreached, alert.RiskPayload{
			Reason:   decision.Reason.String(),
			DailyPnL: decision.DailyPnL,
			Limit:    m.cfg.DailyLossLimit,
		})
	}
	if !decision.Allow {
		m.mu.Unlock()
		m.metrics.IncRiskReject(decision.Reason.String())
		return model.Order{}, errors.Wrapf(exception.ErrRiskLimit, "%s: %s", c.Symbol, decision.Reason)
	}

	price := BuyPrice(c.LastPrice, m.cfg.DiscountPercent, m.cfg.PricePrecision)
	if !price.IsPositive() {
		m.mu.Unlock()
		return model.Order{}, errors.Wrapf(exception.ErrInvalidArgument, "%s: buy price %s", c.Symbol, price)
	}
	amount := decision.Headroom.Div(price).Truncate(m.cfg.AmountPrecision)
	if !amount.IsPositive() {
		m.mu.Unlock()
		m.metrics.IncRiskReject(risk.ReasonPositionSize.String())
		return model.Order{}, errors.Wrapf(exception.ErrRiskLimit, "%s: headroom %s below one unit at %s", c.Symbol, decision.Headroom, price)
	}
	m.placing[c.Symbol] = amount.Mul(price)
	m.mu.Unlock()

	var id string
	err := m.call(ctx, "place_order", func(ctx context.Context) error {
		var err error
		id, err = m.conn.PlaceOrder(ctx, c.Symbol, enum.OrderSideBuy, amount, price)
		return err
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.placing, c.Symbol)

	now = m.clock.Now()
	o := model.Order{
		ID:        id,
		Symbol:    c.Symbol,
		Side:      enum.OrderSideBuy,
		Kind:      enum.OrderKindLimit,
		Amount:    amount,
		Price:     price,
		Status:    enum.OrderStatusPending,
		Tier:      model.NoTier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err == nil {
		err = m.orders.Add(o)
	}
	if err != nil {
		o = m.rejectPlacement(ctx, o, err)
		m.alerts.Emit(alert.OrderFailed, alert.OrderPayload{Order: o, Error: err.Error()})
		return o, err
	}

	m.risk.RecordTrade(now)
	m.metrics.IncOrderPlaced(o.Side.String())
	m.save(ctx, o)
	m.log.Info("buy placed",
		zap.String("orderID", o.ID),
		zap.String("symbol", o.Symbol),
		zap.Stringer("amount", o.Amount),
		zap.Stringer("price", o.Price),
		zap.Float64("volatility", c.Volatility),
	)
	m.alerts.Emit(alert.OrderPlaced, alert.OrderPayload{Order: o})
	return o, nil
}

// PlaceTierExits places one limit sell per tier for a newly filled amount of
// the position, together with any earlier legs of it that ended unfilled. A
// failing tier is reported and the others are still placed.
func (m *Manager) PlaceTierExits(ctx context.Context, positionID string, filled decimal.Decimal) ([]model.Order, error) {
	m.mu.Lock()
	pos, ok := m.book.Position(positionID)
	if !ok {
		m.mu.Unlock()
		return nil, errors.Wrap(exception.ErrOrderUnknown, "position "+positionID)
	}
	reqs := m.planExits(pos, filled)
	m.mu.Unlock()

	return m.placeExits(ctx, reqs), nil
}

type statusResult struct {
	state model.OrderState
	err   error
}

// Reconcile polls every active order, applies the reported states in
// creation order and then ladders out any unallocated position amount. It is
// safe to call repeatedly.
func (m *Manager) Reconcile(ctx context.Context) {
	start := m.clock.Now()

	m.mu.Lock()
	active := m.orders.Active()
	m.mu.Unlock()

	results := make([]statusResult, len(active))
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, o := range active {
		g.Go(func() error {
			results[i].state, results[i].err = m.status(ctx, o.ID)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for i, o := range active {
		r := results[i]
		if r.err != nil {
			if ctx.Err() != nil {
				continue
			}
			m.fail(ctx, o.ID, errors.Wrap(r.err, "status"))
			continue
		}
		m.apply(ctx, o.ID, r.state, "")
	}
	m.mu.Unlock()

	m.ladder(ctx)
	m.syncGauges()
	m.metrics.ObserveReconcile(m.clock.Since(start))
}

type cancelResult struct {
	order     model.Order
	cancelErr error
	state     model.OrderState
	stateErr  error
}

// HandleTimeouts cancels entry buys that are still pending or open after the
// order timeout. Exit sells are never timed out.
func (m *Manager) HandleTimeouts(ctx context.Context) {
	if m.cfg.OrderTimeout <= 0 {
		return
	}

	m.mu.Lock()
	now := m.clock.Now()
	var stale []model.Order
	for _, o := range m.orders.Active() {
		if !o.IsBuy() {
			continue
		}
		if o.Status != enum.OrderStatusPending && o.Status != enum.OrderStatusOpen {
			continue
		}
		if now.Sub(o.CreatedAt) >= m.cfg.OrderTimeout {
			stale = append(stale, o)
		}
	}
	m.mu.Unlock()
	if len(stale) == 0 {
		return
	}

	results := make([]cancelResult, len(stale))
	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, o := range stale {
		g.Go(func() error {
			r := cancelResult{order: o}
			r.cancelErr = m.call(ctx, "cancel_order", func(ctx context.Context) error {
				return m.conn.CancelOrder(ctx, o.ID)
			})
			if r.cancelErr == nil || !exception.IsTransient(r.cancelErr) {
				r.state, r.stateErr = m.status(ctx, o.ID)
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	for _, r := range results {
		id := r.order.ID
		switch {
		case r.cancelErr == nil:
			st := r.state
			if r.stateErr != nil || !st.Status.IsTerminal() {
				st = model.OrderState{
					Status:       enum.OrderStatusCancelled,
					FilledAmount: r.order.FilledAmount,
					AvgFillPrice: r.order.AvgFillPrice,
				}
			}
			m.apply(ctx, id, st, "timeout")
		case exception.IsTransient(r.cancelErr):
			m.log.Warn("timeout cancel failed, retrying next cycle", zap.String("orderID", id), zap.Error(r.cancelErr))
			m.alerts.Emit(alert.Error, alert.ErrorPayload{
				Component: "order",
				Symbol:    r.order.Symbol,
				OrderID:   id,
				Message:   r.cancelErr.Error(),
			})
		case r.stateErr == nil && r.state.Status.IsTerminal():
			m.apply(ctx, id, r.state, "")
		default:
			m.fail(ctx, id, errors.Wrap(r.cancelErr, "timeout cancel"))
		}
	}
	m.mu.Unlock()

	m.ladder(ctx)
	m.syncGauges()
}

// Orders returns the active orders in creation order.
func (m *Manager) Orders() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.Active()
}

// History returns retired and failed orders, oldest first.
func (m *Manager) History() []model.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders.History()
}

// Positions returns the tracked positions in opening order.
func (m *Manager) Positions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Positions()
}

// ClosedPositions returns recently closed positions, oldest first.
func (m *Manager) ClosedPositions() []model.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Closed()
}

// Stats summarizes the book.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	return Stats{
		ActiveOrders:  m.orders.Len(),
		OpenPositions: m.book.OpenCount(),
		DailyPnL:      m.risk.DailyPnL(now),
		DailyTrades:   m.risk.Trades(now),
		Suspended:     m.risk.Suspended(now),
		Stopped:       m.stopped.Load(),
	}
}

// riskView builds the risk input for symbol. Caller holds mu.
func (m *Manager) riskView(symbol string) risk.StateView {
	view := risk.StateView{
		OpenPositions:  m.book.OpenCount(),
		SymbolExposure: m.book.SymbolExposure(symbol),
		Stopped:        m.stopped.Load(),
	}
	for _, o := range m.orders.Active() {
		if !o.IsBuy() {
			continue
		}
		if o.FilledAmount.IsZero() {
			view.InFlightBuys++
		}
		if o.Symbol == symbol {
			view.SymbolInFlight = true
			view.SymbolExposure = view.SymbolExposure.Add(o.Amount.Sub(o.FilledAmount).Mul(o.Price))
		}
	}
	for sym, notional := range m.placing {
		view.InFlightBuys++
		if sym == symbol {
			view.SymbolInFlight = true
			view.SymbolExposure = view.SymbolExposure.Add(notional)
		}
	}
	return view
}

// apply reconciles one order with a reported state. Caller holds mu.
func (m *Manager) apply(ctx context.Context, id string, st model.OrderState, reason string) {
	u, err := m.orders.Apply(id, st, m.clock.Now())
	if err != nil {
		m.log.Warn("status not applied", zap.String("orderID", id), zap.Stringer("reported", st.Status), zap.Error(err))
		return
	}
	if !u.Changed && !u.Filled() {
		return
	}
	if reason != "" && u.Changed {
		m.orders.SetReason(id, reason)
		u.Order.Reason = reason
	}

	if u.Filled() {
		m.onFill(ctx, u)
	}
	m.save(ctx, u.Order)

	if u.Filled() || (u.Changed && u.Order.Status == enum.OrderStatusFilled) {
		m.alerts.Emit(alert.OrderFilled, alert.OrderPayload{Order: u.Order})
	}
	if u.Changed {
		switch u.Order.Status {
		case enum.OrderStatusCancelled:
			m.alerts.Emit(alert.OrderCancelled, alert.OrderPayload{Order: u.Order})
		case enum.OrderStatusRejected:
			m.alerts.Emit(alert.OrderFailed, alert.OrderPayload{Order: u.Order, Error: "rejected by exchange"})
		case enum.OrderStatusFailed:
			m.alerts.Emit(alert.OrderFailed, alert.OrderPayload{Order: u.Order, Error: u.Order.Reason})
		}
	}

	if u.Order.Status.IsTerminal() {
		m.retire(ctx, u.Order)
	}
}

// fail marks an order failed after an unrecoverable connector error. Caller
// holds mu.
func (m *Manager) fail(ctx context.Context, id string, cause error) {
	u, err := m.orders.Transition(id, enum.OrderStatusFailed, cause.Error(), m.clock.Now())
	if err != nil {
		m.log.Warn("order not failed", zap.String("orderID", id), zap.Error(err))
		return
	}
	m.log.Error("order failed", zap.String("orderID", id), zap.String("symbol", u.Order.Symbol), zap.Error(cause))
	m.save(ctx, u.Order)
	m.alerts.Emit(alert.OrderFailed, alert.OrderPayload{Order: u.Order, Error: cause.Error()})
	m.retire(ctx, u.Order)
}

// retire archives a terminal order. The unfilled part of an exit sell goes
// back to its position for the next ladder pass. Caller holds mu.
func (m *Manager) retire(ctx context.Context, o model.Order) {
	if _, ok := m.orders.Retire(o.ID); !ok {
		return
	}
	m.metrics.IncOrderTerminal(o.Side.String(), o.Status.String())
	if o.IsBuy() {
		m.maybeClose(o.ID)
		return
	}
	if rest := o.Amount.Sub(o.FilledAmount); o.Status != enum.OrderStatusFilled && rest.IsPositive() {
		m.release(o.PositionID, exitLeg{tier: o.Tier, amount: rest})
	}
	m.maybeClose(o.PositionID)
}

// release returns an unplaced exit leg to its position. Caller holds mu.
func (m *Manager) release(positionID string, leg exitLeg) {
	if err := m.book.Release(positionID, leg.amount); err != nil {
		m.log.Warn("exit not released", zap.String("positionID", positionID), zap.Int("tier", leg.tier), zap.Error(err))
		return
	}
	m.unplaced[positionID] = append(m.unplaced[positionID], leg)
}

// onFill books a fill delta. Caller holds mu.
func (m *Manager) onFill(ctx context.Context, u og.Update) {
	o := u.Order
	now := m.clock.Now()
	trade := model.Trade{
		OrderID:    o.ID,
		PositionID: o.PositionID,
		Symbol:     o.Symbol,
		Side:       o.Side,
		Amount:     u.FillDelta,
		Price:      u.FillPrice,
		Tier:       o.Tier,
		Timestamp:  now,
	}
	m.metrics.IncFill(o.Side.String())

	if o.IsBuy() {
		trade.PositionID = o.ID
		pos, err := m.book.ApplyBuyFill(o.ID, o.Symbol, u.FillDelta, u.FillPrice, now)
		if err != nil {
			m.log.Error("buy fill not booked", zap.String("orderID", o.ID), zap.Error(err))
			return
		}
		m.saveTrade(ctx, trade)
		m.log.Debug("buy fill booked", zap.String("positionID", pos.ID), zap.Stringer("unallocated", pos.Unallocated()))
		return
	}

	pos, _, err := m.book.ApplySellFill(o.PositionID, u.FillDelta, u.FillPrice)
	if err != nil {
		m.log.Error("sell fill not booked", zap.String("orderID", o.ID), zap.Error(err))
		return
	}
	if pos.AverageEntryPrice.IsPositive() {
		trade.ProfitPercent, _ = u.FillPrice.Div(pos.AverageEntryPrice).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(4).Float64()
	}
	m.saveTrade(ctx, trade)
	m.maybeClose(o.PositionID)
}

// maybeClose closes a position once it is fully exited and its entry order
// can no longer fill. Caller holds mu.
func (m *Manager) maybeClose(positionID string) {
	pos, ok := m.book.Position(positionID)
	if !ok || pos.IsOpen() {
		return
	}
	if _, active := m.orders.Order(positionID); active {
		return
	}
	now := m.clock.Now()
	closed, ok := m.book.Close(positionID, now)
	if !ok {
		return
	}
	delete(m.unplaced, positionID)
	m.risk.RecordPnL(now, closed.RealizedPnL)
	m.log.Info("position closed",
		zap.String("positionID", closed.ID),
		zap.String("symbol", closed.Symbol),
		zap.Stringer("realizedPnl", closed.RealizedPnL),
	)
	m.alerts.Emit(alert.PositionClosed, alert.PositionPayload{Position: closed})
}

// exitLeg is a tier sell amount waiting to be placed.
type exitLeg struct {
	tier   int
	amount decimal.Decimal
}

type exitRequest struct {
	pos    model.Position
	tier   int
	amount decimal.Decimal
	price  decimal.Decimal
}

// ladder places exits for every open position with unallocated amount.
func (m *Manager) ladder(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	m.mu.Lock()
	var reqs []exitRequest
	for _, pos := range m.book.Positions() {
		if pos.IsOpen() && pos.Unallocated().IsPositive() {
			reqs = append(reqs, m.planExits(pos, pos.Unallocated())...)
		}
	}
	m.mu.Unlock()

	m.placeExits(ctx, reqs)
}

// planExits reserves the unplaced legs of pos plus up to fresh of its
// unallocated amount split over the tier plan. Caller holds mu.
func (m *Manager) planExits(pos model.Position, fresh decimal.Decimal) []exitRequest {
	legs := m.unplaced[pos.ID]
	delete(m.unplaced, pos.ID)

	owed := decimal.Zero
	for _, l := range legs {
		owed = owed.Add(l.amount)
	}
	if room := pos.Unallocated().Sub(owed); fresh.GreaterThan(room) {
		fresh = room
	}
	if fresh.IsPositive() {
		for i, amount := range SplitTiers(fresh, m.cfg.TierPlan, m.cfg.AmountPrecision) {
			legs = append(legs, exitLeg{tier: i, amount: amount})
		}
	}

	reqs := make([]exitRequest, 0, len(legs))
	for _, l := range legs {
		if !l.amount.IsPositive() {
			continue
		}
		// a leg that cannot be reserved stays unallocated and is split
		// again on the next pass
		if err := m.book.Allocate(pos.ID, l.amount); err != nil {
			m.log.Warn("exit not reserved", zap.String("positionID", pos.ID), zap.Int("tier", l.tier), zap.Error(err))
			continue
		}
		reqs = append(reqs, exitRequest{
			pos:    pos,
			tier:   l.tier,
			amount: l.amount,
			price:  TierPrice(pos.AverageEntryPrice, m.cfg.TierPlan[l.tier].ProfitPercent, m.cfg.PricePrecision),
		})
	}
	return reqs
}

// placeExits sends the planned sells in order and records each outcome. A
// failed leg is released for the next ladder pass. Caller must not hold mu.
func (m *Manager) placeExits(ctx context.Context, reqs []exitRequest) []model.Order {
	if len(reqs) == 0 {
		return nil
	}
	ids := make([]string, len(reqs))
	errs := make([]error, len(reqs))
	for i, r := range reqs {
		errs[i] = m.call(ctx, "place_order", func(ctx context.Context) error {
			var err error
			ids[i], err = m.conn.PlaceOrder(ctx, r.pos.Symbol, enum.OrderSideSell, r.amount, r.price)
			return err
		})
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	placed := make([]model.Order, 0, len(reqs))
	for i, r := range reqs {
		now := m.clock.Now()
		o := model.Order{
			ID:         ids[i],
			Symbol:     r.pos.Symbol,
			Side:       enum.OrderSideSell,
			Kind:       enum.OrderKindLimit,
			Amount:     r.amount,
			Price:      r.price,
			Status:     enum.OrderStatusPending,
			Tier:       r.tier,
			PositionID: r.pos.ID,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err := errs[i]
		if err == nil {
			err = m.orders.Add(o)
		}
		if err != nil {
			m.release(r.pos.ID, exitLeg{tier: r.tier, amount: r.amount})
			o = m.rejectPlacement(ctx, o, err)
			m.alerts.Emit(alert.TierOrderFailed, alert.OrderPayload{Order: o, Error: err.Error()})
			continue
		}

		m.metrics.IncOrderPlaced(o.Side.String())
		m.save(ctx, o)
		m.log.Info("tier exit placed",
			zap.String("orderID", o.ID),
			zap.String("positionID", r.pos.ID),
			zap.Int("tier", r.tier),
			zap.Stringer("amount", r.amount),
			zap.Stringer("price", r.price),
		)
		m.alerts.Emit(alert.OrderPlaced, alert.OrderPayload{Order: o})
		placed = append(placed, o)
	}
	return placed
}

// rejectPlacement records an order that never became active. Caller holds mu.
func (m *Manager) rejectPlacement(ctx context.Context, o model.Order, err error) model.Order {
	if o.ID == "" {
		o.ID = "local-" + uuid.NewString()
	}
	o.Status = enum.OrderStatusFailed
	if exception.IsRejected(err) {
		o.Status = enum.OrderStatusRejected
	}
	o.Reason = err.Error()
	m.orders.Archive(o)
	m.metrics.IncOrderTerminal(o.Side.String(), o.Status.String())
	m.save(ctx, o)
	m.log.Error("order placement failed",
		zap.String("symbol", o.Symbol),
		zap.Stringer("side", o.Side),
		zap.Int("tier", o.Tier),
		zap.Error(err),
	)
	return o
}

// call runs a connector call with retries on transient errors.
func (m *Manager) call(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts, err := backoff.Retry(ctx, m.cfg.Backoff, m.cfg.MaxRetries, exception.IsTransient, m.wait, fn)
	if err != nil {
		m.metrics.IncConnectorError(op, exception.IsTransient(err))
		return errors.Wrapf(err, "%s after %d attempts", op, attempts)
	}
	if attempts > 1 {
		m.log.Info("connector call recovered", zap.String("op", op), zap.Int("attempts", attempts))
	}
	return nil
}

func (m *Manager) status(ctx context.Context, id string) (model.OrderState, error) {
	var st model.OrderState
	err := m.call(ctx, "get_order_status", func(ctx context.Context) error {
		var err error
		st, err = m.conn.GetOrderStatus(ctx, id)
		return err
	})
	return st, err
}

func (m *Manager) save(ctx context.Context, o model.Order) {
	if err := m.store.SaveOrder(context.WithoutCancel(ctx), o); err != nil {
		m.metrics.IncStorageError("save_order")
		m.log.Warn("save order", zap.String("orderID", o.ID), zap.Error(err))
	}
}

func (m *Manager) saveTrade(ctx context.Context, t model.Trade) {
	if err := m.store.SaveTrade(context.WithoutCancel(ctx), t); err != nil {
		m.metrics.IncStorageError("save_trade")
		m.log.Warn("save trade", zap.String("orderID", t.OrderID), zap.Error(err))
	}
}

func (m *Manager) syncGauges() {
	m.mu.Lock()
	open := m.book.OpenCount()
	pnl, _ := m.risk.DailyPnL(m.clock.Now()).Float64()
	m.mu.Unlock()

	m.metrics.SetOpenPositions(open)
	m.metrics.SetDailyPnL(pnl)
}

/*
Core drives the trading loop.

# Cycle
 1. refresh market data into the scanner windows
 2. scan for volatile symbols, journal them, alert on extreme ones
 3. reconcile active orders with the exchange
 4. cancel stale entry buys
 5. evaluate the top candidates for new buys

# Scheduling
  - cycles never overlap: Cycle is serialized and Run skips a tick while one is still running
  - Stop ends scheduling and blocks new buys; a running cycle finishes
*/
package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"

	"fatfinger/internal/alert"
	"fatfinger/internal/connector"
	"fatfinger/internal/model"
	"fatfinger/internal/obs"
	"fatfinger/internal/order"
	"fatfinger/internal/scanner"
	"fatfinger/internal/storage"
	"fatfinger/pkg/exception"
)

// Config controls cycle scheduling and candidate selection.
type Config struct {
	CycleInterval            time.Duration
	MaxCandidates            int
	MinVolatility            float64
	HighVolatilityMultiplier float64
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	Refresh    scanner.Report
	Candidates []model.Candidate
	Placed     []model.Order
	Duration   time.Duration
}

// Driver runs scan, reconcile, timeout and evaluate cycles.
type Driver struct {
	cfg     Config
	scanner *scanner.Scanner
	market  connector.MarketData
	orders  *order.Manager
	alerts  order.Publisher
	store   storage.Sink
	log     *zap.Logger
	clock   clock.Clock
	metrics *obs.Metrics

	cycleMu  sync.Mutex
	busy     atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	lastMu     sync.RWMutex
	candidates []model.Candidate
}

// NewDriver creates a driver.
func NewDriver(cfg Config, sc *scanner.Scanner, market connector.MarketData, orders *order.Manager, alerts order.Publisher, store storage.Sink, log *zap.Logger, clk clock.Clock, metrics *obs.Metrics) (*Driver, error) {
	if sc == nil || market == nil || orders == nil || alerts == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "scanner, market data, order manager and alerts are required")
	}
	if cfg.CycleInterval <= 0 {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "cycle interval must be > 0")
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = 1
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
	return &Driver{
		cfg:     cfg,
		scanner: sc,
		market:  market,
		orders:  orders,
		alerts:  alerts,
		store:   store,
		log:     log.With(zap.String("component", "driver")),
		clock:   clk,
		metrics: metrics,
		done:    make(chan struct{}),
	}, nil
}

// Cycle runs one full cycle. Refresh failures are reported but the order
// book is still reconciled.
func (d *Driver) Cycle(ctx context.Context) (CycleReport, error) {
	d.cycleMu.Lock()
	defer d.cycleMu.Unlock()

	var report CycleReport
	if d.stopped.Load() {
		return report, exception.ErrStopped
	}
	start := d.clock.Now()
	defer func() {
		report.Duration = d.clock.Since(start)
		d.metrics.ObserveCycle(report.Duration)
	}()

	refresh, refreshErr := d.scanner.Refresh(ctx, d.market)
	report.Refresh = refresh
	if refreshErr != nil {
		d.log.Error("refresh market data", zap.Error(refreshErr))
		d.alerts.Emit(alert.Error, alert.ErrorPayload{Component: "scanner", Message: refreshErr.Error()})
	}
	for symbol, err := range refresh.Failed {
		if exception.IsDataGap(err) {
			d.log.Debug("data gap", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		d.log.Warn("symbol refresh failed", zap.String("symbol", symbol), zap.Error(err))
	}

	candidates := d.scanner.Scan()
	d.setCandidates(candidates)
	report.Candidates = candidates
	d.record(ctx, candidates)

	d.orders.Reconcile(ctx)
	d.orders.HandleTimeouts(ctx)

	for i, c := range candidates {
		if i >= d.cfg.MaxCandidates || ctx.Err() != nil {
			break
		}
		o, err := d.orders.EvaluateCandidate(ctx, c)
		if err != nil {
			if exception.IsRiskLimit(err) {
				d.log.Debug("candidate skipped", zap.String("symbol", c.Symbol), zap.Error(err))
			}
			continue
		}
		report.Placed = append(report.Placed, o)
	}

	return report, refreshErr
}

// Run cycles immediately and then on every tick until ctx is done or Stop is
// called. It waits for the running cycle before returning.
func (d *Driver) Run(ctx context.Context) {
	ticker := d.clock.Ticker(d.cfg.CycleInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	d.log.Info("driver started", zap.Duration("interval", d.cfg.CycleInterval))
	d.tick(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			d.log.Info("driver stopped", zap.Error(ctx.Err()))
			return
		case <-d.done:
			d.log.Info("driver stopped")
			return
		case <-ticker.C:
			d.tick(ctx, &wg)
		}
	}
}

func (d *Driver) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !d.busy.CompareAndSwap(false, true) {
		d.log.Debug("cycle still running, tick skipped")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer d.busy.Store(false)
		report, err := d.Cycle(ctx)
		if err != nil {
			return
		}
		d.log.Debug("cycle done",
			zap.Int("candidates", len(report.Candidates)),
			zap.Int("placed", len(report.Placed)),
			zap.Duration("took", report.Duration),
		)
	}()
}

// Stop ends scheduling and blocks every later buy.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		d.orders.Stop()
		close(d.done)
	})
}

// Stopped reports whether Stop was called.
func (d *Driver) Stopped() bool {
	return d.stopped.Load()
}

// Candidates returns the ranking of the latest cycle.
func (d *Driver) Candidates() []model.Candidate {
	d.lastMu.RLock()
	defer d.lastMu.RUnlock()
	out := make([]model.Candidate, len(d.candidates))
	copy(out, d.candidates)
	return out
}

func (d *Driver) setCandidates(c []model.Candidate) {
	d.lastMu.Lock()
	d.candidates = c
	d.lastMu.Unlock()
	d.metrics.SetCandidates(len(c))
}

// record journals the ranking and alerts on extreme volatility.
func (d *Driver) record(ctx context.Context, candidates []model.Candidate) {
	threshold := d.cfg.MinVolatility * d.cfg.HighVolatilityMultiplier
	for _, c := range candidates {
		if err := d.store.SaveVolatility(context.WithoutCancel(ctx), c); err != nil {
			d.metrics.IncStorageError("save_volatility")
			d.log.Warn("save volatility", zap.String("symbol", c.Symbol), zap.Error(err))
		}
		if d.cfg.HighVolatilityMultiplier > 0 && c.Volatility >= threshold {
			d.log.Info("high volatility", zap.String("symbol", c.Symbol), zap.Float64("volatility", c.Volatility))
			d.alerts.Emit(alert.HighVolatility, alert.VolatilityPayload{Candidate: c, Threshold: threshold})
		}
	}
}

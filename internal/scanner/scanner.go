package scanner

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fatfinger/internal/connector"
	"fatfinger/internal/model"
	"fatfinger/pkg/exception"
)

// Config controls window sizing and candidate selection.
type Config struct {
	MinVolatility float64       `json:"minVolatility"`
	WindowSize    int           `json:"windowSize"`
	Interval      string        `json:"interval"`
	StaleAfter    time.Duration `json:"staleAfter"`
	Symbols       []string      `json:"symbols"`
	Concurrency   int           `json:"concurrency"`
}

// Report summarizes one Refresh.
type Report struct {
	Updated []string
	Failed  map[string]error
}

// Scanner owns one volatility window per symbol and ranks symbols by how
// turbulent their recent prices are.
type Scanner struct {
	cfg   Config
	log   *zap.Logger
	clock clock.Clock

	mu      sync.RWMutex
	windows map[string]*Window
}

// New creates a scanner.
func New(cfg Config, log *zap.Logger, clk clock.Clock) *Scanner {
	if cfg.WindowSize < 2 {
		cfg.WindowSize = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Scanner{
		cfg:     cfg,
		log:     log.With(zap.String("component", "scanner")),
		clock:   clk,
		windows: make(map[string]*Window),
	}
}

// Ingest appends a snapshot to its symbol's window.
func (s *Scanner) Ingest(snap model.MarketSnapshot) {
	if snap.Symbol == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingest(snap)
}

func (s *Scanner) ingest(snap model.MarketSnapshot) {
	w, ok := s.windows[snap.Symbol]
	if !ok {
		w = NewWindow(s.cfg.WindowSize)
		s.windows[snap.Symbol] = w
	}
	w.Push(snap)
}

// Scan returns the symbols at or above the volatility threshold, ordered by
// volatility, then volume, descending, then symbol.
func (s *Scanner) Scan() []model.Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Candidate, 0, len(s.windows))
	for symbol, w := range s.windows {
		vol, ok := w.Volatility()
		if !ok || vol < s.cfg.MinVolatility {
			continue
		}
		latest, _ := w.Latest()
		out = append(out, model.Candidate{
			Symbol:     symbol,
			Volatility: vol,
			LastPrice:  latest.LastPrice,
			Volume:     latest.Volume,
			Timestamp:  latest.Timestamp,
		})
	}

	slices.SortFunc(out, func(a, b model.Candidate) int {
		switch {
		case a.Volatility > b.Volatility:
			return -1
		case a.Volatility < b.Volatility:
			return 1
		}
		if c := b.Volume.Cmp(a.Volume); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return out
}

// Symbols returns the symbols with a window, sorted.
func (s *Scanner) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.windows))
	for symbol := range s.windows {
		out = append(out, symbol)
	}
	slices.Sort(out)
	return out
}

// Window returns a copy of a symbol's snapshots, oldest first.
func (s *Scanner) Window(symbol string) []model.MarketSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[symbol]
	if !ok {
		return nil
	}
	return w.Snapshots()
}

type fetched struct {
	symbol  string
	candles []model.Candle
	ticker  model.Ticker
	err     error
}

// Refresh pulls fresh market data for every symbol in the universe. Fetches
// run with bounded parallelism. Empty windows are backfilled from OHLCV.
// A failing symbol is reported and skipped, it never fails the refresh.
func (s *Scanner) Refresh(ctx context.Context, md connector.MarketData) (Report, error) {
	report := Report{Failed: make(map[string]error)}

	symbols, err := s.universe(ctx, md)
	if err != nil {
		return report, err
	}

	results := make([]fetched, len(symbols))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, symbol := range symbols {
		backfill := s.windowLen(symbol) == 0
		g.Go(func() error {
			results[i] = s.fetch(ctx, md, symbol, backfill)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		err := r.err
		if err == nil {
			err = s.apply(r)
		}
		if err != nil {
			report.Failed[r.symbol] = err
			s.log.Debug("symbol skipped", zap.String("symbol", r.symbol), zap.Error(err))
			continue
		}
		report.Updated = append(report.Updated, r.symbol)
	}
	return report, nil
}

func (s *Scanner) fetch(ctx context.Context, md connector.MarketData, symbol string, backfill bool) fetched {
	r := fetched{symbol: symbol}
	if backfill {
		candles, err := md.GetOHLCV(ctx, symbol, s.cfg.Interval, s.cfg.WindowSize)
		if err != nil {
			r.err = errors.Wrapf(err, "get ohlcv %s", symbol)
			return r
		}
		r.candles = candles
	}
	ticker, err := md.GetTicker(ctx, symbol)
	if err != nil {
		r.err = errors.Wrapf(err, "get ticker %s", symbol)
		return r
	}
	r.ticker = ticker
	return r
}

// apply ingests a fetch result. Caller holds s.mu.
func (s *Scanner) apply(r fetched) error {
	slices.SortFunc(r.candles, func(a, b model.Candle) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	for _, c := range r.candles {
		if head, ok := s.head(r.symbol); ok && !c.Timestamp.After(head.Timestamp) {
			continue
		}
		s.ingest(model.SnapshotFromCandle(r.symbol, c))
	}

	t := r.ticker
	if t.Symbol == "" {
		t.Symbol = r.symbol
	}
	if !t.LastPrice.IsPositive() {
		return errors.Wrapf(exception.ErrDataGap, "%s: no last price", r.symbol)
	}
	if s.cfg.StaleAfter > 0 && s.clock.Since(t.Timestamp) > s.cfg.StaleAfter {
		return errors.Wrapf(exception.ErrDataGap, "%s: ticker stale since %s", r.symbol, t.Timestamp)
	}
	if head, ok := s.head(r.symbol); ok && !t.Timestamp.After(head.Timestamp) {
		return errors.Wrapf(exception.ErrDataGap, "%s: ticker not newer than %s", r.symbol, head.Timestamp)
	}
	s.ingest(model.SnapshotFromTicker(t))
	return nil
}

func (s *Scanner) head(symbol string) (model.MarketSnapshot, bool) {
	w, ok := s.windows[symbol]
	if !ok {
		return model.MarketSnapshot{}, false
	}
	return w.Latest()
}

func (s *Scanner) windowLen(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.windows[symbol]; ok {
		return w.Len()
	}
	return 0
}

func (s *Scanner) universe(ctx context.Context, md connector.MarketData) ([]string, error) {
	if len(s.cfg.Symbols) > 0 {
		return s.cfg.Symbols, nil
	}
	lister, ok := md.(connector.MarketLister)
	if !ok {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "no symbols configured and connector cannot list markets")
	}
	symbols, err := lister.Markets(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list markets")
	}
	return symbols, nil
}

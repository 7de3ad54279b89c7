package connector

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/pkg/exception"
)

const simPricePlaces = 8

// SimulatorConfig controls the simulated market.
type SimulatorConfig struct {
	Symbols       []string           `json:"symbols"`
	InitialPrices map[string]float64 `json:"initialPrices"`
	Seed          int64              `json:"seed"`
	// Volatility is the maximum random move per minute, in percent.
	Volatility float64 `json:"volatility"`
	// FatFingerRate is the chance per Step that a symbol drops sharply.
	FatFingerRate    float64 `json:"fatFingerRate"`
	FatFingerMinDrop float64 `json:"fatFingerMinDrop"`
	FatFingerMaxDrop float64 `json:"fatFingerMaxDrop"`
}

// DefaultSimulatorConfig returns the stock five-symbol market.
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		Symbols: []string{"BTC/USDT", "ETH/USDT", "XRP/USDT", "LTC/USDT", "ADA/USDT"},
		InitialPrices: map[string]float64{
			"BTC/USDT": 40000,
			"ETH/USDT": 2000,
			"XRP/USDT": 0.5,
			"LTC/USDT": 150,
			"ADA/USDT": 1,
		},
		Volatility:       5,
		FatFingerRate:    0.01,
		FatFingerMinDrop: 10,
		FatFingerMaxDrop: 30,
	}
}

type simOrder struct {
	id     string
	symbol string
	side   enum.OrderSide
	amount decimal.Decimal
	price  decimal.Decimal
	status enum.OrderStatus
	filled decimal.Decimal
}

// Simulator is an in-memory exchange. Prices follow a seeded random walk with
// occasional sharp drops, and resting limit orders fill in full at their
// limit price once the market crosses them.
type Simulator struct {
	cfg   SimulatorConfig
	log   *zap.Logger
	clock clock.Clock

	mu       sync.Mutex
	rng      *rand.Rand
	prices   map[string]decimal.Decimal
	orders   map[string]*simOrder
	lastStep time.Time
}

// NewSimulator creates a simulated exchange.
func NewSimulator(cfg SimulatorConfig, log *zap.Logger, clk clock.Clock) *Simulator {
	def := DefaultSimulatorConfig()
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if cfg.InitialPrices == nil {
		cfg.InitialPrices = def.InitialPrices
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.FatFingerMinDrop <= 0 {
		cfg.FatFingerMinDrop = def.FatFingerMinDrop
	}
	if cfg.FatFingerMaxDrop < cfg.FatFingerMinDrop {
		cfg.FatFingerMaxDrop = max(cfg.FatFingerMinDrop, def.FatFingerMaxDrop)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}

	s := &Simulator{
		cfg:      cfg,
		log:      log.With(zap.String("component", "simulator")),
		clock:    clk,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		prices:   make(map[string]decimal.Decimal, len(cfg.Symbols)),
		orders:   make(map[string]*simOrder),
		lastStep: clk.Now(),
	}
	for _, symbol := range cfg.Symbols {
		p, ok := cfg.InitialPrices[symbol]
		if !ok || p <= 0 {
			p = 0.1 + s.rng.Float64()*999.9
		}
		s.prices[symbol] = decimal.NewFromFloat(p).Round(simPricePlaces)
	}
	return s
}

// Markets lists the simulated symbols.
func (s *Simulator) Markets(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.prices))
	for symbol := range s.prices {
		out = append(out, symbol)
	}
	slices.Sort(out)
	return out, nil
}

// Step advances prices by the time elapsed since the previous step and fills
// crossed orders.
func (s *Simulator) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	minutes := now.Sub(s.lastStep).Minutes()
	s.lastStep = now

	for _, symbol := range s.cfg.Symbols {
		price, ok := s.prices[symbol]
		if !ok {
			continue
		}
		change := (s.rng.Float64()*2 - 1) * s.cfg.Volatility * minutes
		price = price.Mul(decimal.NewFromFloat(1 + change/100))

		if s.cfg.FatFingerRate > 0 && s.rng.Float64() < s.cfg.FatFingerRate {
			drop := s.cfg.FatFingerMinDrop + s.rng.Float64()*(s.cfg.FatFingerMaxDrop-s.cfg.FatFingerMinDrop)
			price = price.Mul(decimal.NewFromFloat(1 - drop/100))
			s.log.Info("simulated fat finger", zap.String("symbol", symbol), zap.Float64("dropPercent", drop))
		}
		s.prices[symbol] = price.Round(simPricePlaces)
	}
	s.match()
}

// SetPrice moves a symbol to an exact price and fills crossed orders.
func (s *Simulator) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	s.match()
}

// Price returns the current simulated price.
func (s *Simulator) Price(symbol string) (decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prices[symbol]
	return p, ok
}

func (s *Simulator) match() {
	for _, o := range s.orders {
		if o.status != enum.OrderStatusOpen {
			continue
		}
		price := s.prices[o.symbol]
		crossed := (o.side == enum.OrderSideBuy && price.LessThanOrEqual(o.price)) ||
			(o.side == enum.OrderSideSell && price.GreaterThanOrEqual(o.price))
		if !crossed {
			continue
		}
		o.status = enum.OrderStatusFilled
		o.filled = o.amount
		s.log.Info("simulated fill",
			zap.String("orderID", o.id),
			zap.String("symbol", o.symbol),
			zap.Stringer("side", o.side),
			zap.Stringer("price", o.price),
		)
	}
}

func (s *Simulator) GetOHLCV(_ context.Context, symbol, _ string, limit int) ([]model.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.prices[symbol]
	if !ok {
		return nil, exception.Permanent(errors.Wrap(exception.ErrUnknownSymbol, symbol))
	}
	if limit <= 0 {
		return nil, nil
	}

	cur, _ := current.Float64()
	end := s.clock.Now().Truncate(time.Minute)
	candles := make([]model.Candle, 0, limit)
	for i := 0; i < limit; i++ {
		vol := 5 * (1 + float64(limit-i)/float64(limit))
		open := cur * (1 + s.uniform(-vol, vol)/100)
		closing := cur * (1 + s.uniform(-vol, vol)/100)
		high := max(open, closing) * (1 + s.uniform(0, vol/2)/100)
		low := min(open, closing) * (1 - s.uniform(0, vol/2)/100)
		candles = append(candles, model.Candle{
			Timestamp: end.Add(-time.Duration(limit-i) * time.Minute),
			Open:      decimal.NewFromFloat(open).Round(simPricePlaces),
			High:      decimal.NewFromFloat(high).Round(simPricePlaces),
			Low:       decimal.NewFromFloat(low).Round(simPricePlaces),
			Close:     decimal.NewFromFloat(closing).Round(simPricePlaces),
			Volume:    decimal.NewFromFloat(s.uniform(1, 100) * cur).Round(simPricePlaces),
		})
	}
	return candles, nil
}

func (s *Simulator) GetTicker(_ context.Context, symbol string) (model.Ticker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		return model.Ticker{}, exception.Permanent(errors.Wrap(exception.ErrUnknownSymbol, symbol))
	}
	return model.Ticker{
		Symbol:    symbol,
		LastPrice: price,
		Volume:    decimal.NewFromFloat(s.uniform(10000, 1000000)).Round(2),
		Timestamp: s.clock.Now(),
	}, nil
}

func (s *Simulator) PlaceOrder(_ context.Context, symbol string, side enum.OrderSide, amount, price decimal.Decimal) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.prices[symbol]; !ok {
		return "", exception.Permanent(errors.Wrap(exception.ErrUnknownSymbol, symbol))
	}
	if !side.IsAvailable() || !amount.IsPositive() || !price.IsPositive() {
		return "", exception.Permanent(errors.Wrapf(exception.ErrConnectorRejected, "%s %s %s @ %s", side, symbol, amount, price))
	}

	o := &simOrder{
		id:     uuid.NewString(),
		symbol: symbol,
		side:   side,
		amount: amount,
		price:  price,
		status: enum.OrderStatusOpen,
		filled: decimal.Zero,
	}
	s.orders[o.id] = o
	s.log.Debug("simulated order placed", zap.String("orderID", o.id), zap.String("symbol", symbol), zap.Stringer("side", side))
	return o.id, nil
}

func (s *Simulator) CancelOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return exception.Permanent(errors.Wrap(exception.ErrOrderUnknown, orderID))
	}
	if o.status != enum.OrderStatusOpen {
		return exception.Permanent(errors.Wrap(exception.ErrOrderNotCancellable, o.status.String()))
	}
	o.status = enum.OrderStatusCancelled
	return nil
}

func (s *Simulator) GetOrderStatus(_ context.Context, orderID string) (model.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return model.OrderState{}, exception.Permanent(errors.Wrap(exception.ErrOrderUnknown, orderID))
	}
	st := model.OrderState{Status: o.status, FilledAmount: o.filled}
	if o.filled.IsPositive() {
		st.AvgFillPrice = o.price
	}
	return st, nil
}

func (s *Simulator) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

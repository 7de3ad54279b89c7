package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fatfinger/internal/alert"
	"fatfinger/internal/connector"
	"fatfinger/internal/connector/connectortest"
	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/internal/order"
	"fatfinger/internal/scanner"
	"fatfinger/pkg/backoff"
	"fatfinger/pkg/exception"
)

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordingSink struct {
	mu  sync.Mutex
	vol []model.Candidate
}

func (s *recordingSink) SaveOrder(context.Context, model.Order) error { return nil }
func (s *recordingSink) SaveTrade(context.Context, model.Trade) error { return nil }
func (s *recordingSink) Close() error                                 { return nil }

func (s *recordingSink) SaveVolatility(_ context.Context, c model.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vol = append(s.vol, c)
	return nil
}

type harness struct {
	driver *Driver
	fake   *connectortest.Fake
	bus    *alert.Bus
	clk    *clock.Mock
	sink   *recordingSink
	orders *order.Manager
}

type options struct {
	symbols       []string
	maxCandidates int
	market        func(*connectortest.Fake) connector.MarketData
}

func newHarness(t *testing.T, opt options) *harness {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(t0)
	fake := connectortest.New()
	bus := alert.NewBus(alert.Config{HistorySize: 100}, zap.NewNop(), clk, nil)
	sink := &recordingSink{}

	om, err := order.NewManager(order.Config{
		DiscountPercent:        15,
		MaxPositionSize:        d("1000"),
		MaxConcurrentPositions: 5,
		DailyLossLimit:         d("100"),
		MaxDailyTrades:         20,
		OrderTimeout:           30 * time.Minute,
		MaxRetries:             3,
		AmountPrecision:        8,
		PricePrecision:         8,
		TierPlan:               model.DefaultTierPlan(),
		Concurrency:            4,
		Backoff:                backoff.Default(),
	}, fake, bus, sink, zap.NewNop(), clk, nil)
	require.NoError(t, err)
	om.SetWaitFunc(func(context.Context, time.Duration) error { return nil })

	sc := scanner.New(scanner.Config{
		MinVolatility: 5,
		WindowSize:    60,
		Interval:      "1m",
		StaleAfter:    5 * time.Minute,
		Symbols:       opt.symbols,
		Concurrency:   4,
	}, zap.NewNop(), clk)

	var md connector.MarketData = fake
	if opt.market != nil {
		md = opt.market(fake)
	}
	maxCandidates := opt.maxCandidates
	if maxCandidates == 0 {
		maxCandidates = 1
	}
	drv, err := NewDriver(Config{
		CycleInterval:            time.Second,
		MaxCandidates:            maxCandidates,
		MinVolatility:            5,
		HighVolatilityMultiplier: 2,
	}, sc, md, om, bus, sink, zap.NewNop(), clk, nil)
	require.NoError(t, err)

	return &harness{driver: drv, fake: fake, bus: bus, clk: clk, sink: sink, orders: om}
}

// market seeds one candle a minute ago spanning [low, high] and a ticker now.
func (h *harness) market(symbol, high, low, last, volume string) {
	h.fake.SetCandles(symbol, []model.Candle{{
		Timestamp: t0.Add(-time.Minute),
		Open:      d(last),
		High:      d(high),
		Low:       d(low),
		Close:     d(last),
		Volume:    d(volume),
	}})
	h.fake.SetTicker(model.Ticker{Symbol: symbol, LastPrice: d(last), Volume: d(volume), Timestamp: h.clk.Now()})
}

func TestCycleBuysTopCandidate(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT", "ETH/USDT"}})
	h.market("BTC/USDT", "50000", "40000", "42000", "100")
	h.market("ETH/USDT", "2010", "2000", "2005", "100")

	report, err := h.driver.Cycle(t.Context())
	require.NoError(t, err)

	require.Len(t, report.Candidates, 1)
	assert.Equal(t, "BTC/USDT", report.Candidates[0].Symbol)
	assert.InDelta(t, 25.0, report.Candidates[0].Volatility, 1e-9)
	assert.ElementsMatch(t, []string{"BTC/USDT", "ETH/USDT"}, report.Refresh.Updated)

	require.Len(t, report.Placed, 1)
	assert.True(t, report.Placed[0].Price.Equal(d("35700")), report.Placed[0].Price.String())
	assert.Equal(t, enum.OrderSideBuy, report.Placed[0].Side)

	high := h.bus.Recent(10, alert.HighVolatility)
	require.Len(t, high, 1)
	payload := high[0].Payload.(alert.VolatilityPayload)
	assert.Equal(t, 10.0, payload.Threshold)

	assert.Len(t, h.sink.vol, 1)
	assert.Equal(t, report.Candidates, h.driver.Candidates())
}

func TestCycleEvaluatesOnlyTopCandidates(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"A/USDT", "B/USDT", "C/USDT"}, maxCandidates: 2})
	h.market("A/USDT", "106", "100", "103", "10")
	h.market("B/USDT", "130", "100", "110", "10")
	h.market("C/USDT", "120", "100", "105", "10")

	report, err := h.driver.Cycle(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Candidates, 3)

	placed := h.fake.Placed()
	require.Len(t, placed, 2)
	assert.Equal(t, "B/USDT", placed[0].Symbol)
	assert.Equal(t, "C/USDT", placed[1].Symbol)
	assert.Len(t, h.bus.Recent(10, alert.HighVolatility), 2)
}

func TestCycleLaddersFillOnNextCycle(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT"}})
	h.market("BTC/USDT", "50000", "40000", "42000", "100")

	report, err := h.driver.Cycle(t.Context())
	require.NoError(t, err)
	require.Len(t, report.Placed, 1)
	buy := report.Placed[0]

	h.fake.Fill(buy.ID, buy.Amount, buy.Price)
	h.clk.Add(time.Second)
	h.fake.SetTicker(model.Ticker{Symbol: "BTC/USDT", LastPrice: d("42000"), Volume: d("100"), Timestamp: h.clk.Now()})

	_, err = h.driver.Cycle(t.Context())
	require.NoError(t, err)

	sells := 0
	for _, c := range h.fake.Placed() {
		if c.Side == enum.OrderSideSell {
			sells++
		}
	}
	assert.Equal(t, 3, sells)
	assert.Len(t, h.orders.Positions(), 1)
}

func TestCycleReconcilesWhenRefreshFails(t *testing.T) {
	h := newHarness(t, options{
		market: func(f *connectortest.Fake) connector.MarketData {
			return struct{ connector.MarketData }{f}
		},
	})

	_, err := h.orders.EvaluateCandidate(t.Context(), model.Candidate{Symbol: "BTC/USDT", Volatility: 9, LastPrice: d("1000")})
	require.NoError(t, err)

	_, err = h.driver.Cycle(t.Context())
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
	assert.Len(t, h.bus.Recent(10, alert.Error), 1)
	assert.Equal(t, 1, h.fake.Count(connectortest.OpStatus))
}

func TestCycleSkipsDataGaps(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT"}})
	h.market("BTC/USDT", "50000", "40000", "42000", "100")
	h.fake.SetTicker(model.Ticker{Symbol: "BTC/USDT", LastPrice: d("42000"), Timestamp: t0.Add(-time.Hour)})

	report, err := h.driver.Cycle(t.Context())
	require.NoError(t, err)
	require.Contains(t, report.Refresh.Failed, "BTC/USDT")
	assert.True(t, exception.IsDataGap(report.Refresh.Failed["BTC/USDT"]))
	assert.Empty(t, h.bus.Recent(10, alert.Error))
}

func TestStopEndsCyclesAndBuys(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT"}})
	h.market("BTC/USDT", "50000", "40000", "42000", "100")

	h.driver.Stop()
	h.driver.Stop()
	assert.True(t, h.driver.Stopped())
	assert.True(t, h.orders.Stopped())

	_, err := h.driver.Cycle(t.Context())
	assert.ErrorIs(t, err, exception.ErrStopped)
	assert.Empty(t, h.fake.Calls())
}

func TestRunCyclesUntilStopped(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT"}})
	h.market("BTC/USDT", "50000", "40000", "42000", "100")

	done := make(chan struct{})
	go func() {
		h.driver.Run(t.Context())
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return h.fake.Count(connectortest.OpPlace) == 1
	}, time.Second, 5*time.Millisecond)

	h.driver.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
}

func TestRunReturnsOnCancel(t *testing.T) {
	h := newHarness(t, options{symbols: []string{"BTC/USDT"}})
	ctx, cancel := context.WithCancel(t.Context())

	done := make(chan struct{})
	go func() {
		h.driver.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestNewDriverValidates(t *testing.T) {
	_, err := NewDriver(Config{CycleInterval: time.Second}, nil, nil, nil, nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, exception.ErrNilInstance)
}

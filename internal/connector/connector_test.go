package connector

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fatfinger/internal/model/enum"
	"fatfinger/pkg/exception"
)

var t0 = time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

func newSim(t *testing.T) (*Simulator, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(t0)
	return NewSimulator(SimulatorConfig{Seed: 7, FatFingerRate: 0}, nil, clk), clk
}

func TestSimulatorFillsCrossedLimitOrders(t *testing.T) {
	sim, _ := newSim(t)
	ctx := t.Context()

	buyID, err := sim.PlaceOrder(ctx, "BTC/USDT", enum.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(34000))
	require.NoError(t, err)
	sellID, err := sim.PlaceOrder(ctx, "BTC/USDT", enum.OrderSideSell, decimal.NewFromInt(1), decimal.NewFromInt(50000))
	require.NoError(t, err)
	assert.NotEqual(t, buyID, sellID)

	st, err := sim.GetOrderStatus(ctx, buyID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusOpen, st.Status)

	sim.SetPrice("BTC/USDT", decimal.NewFromInt(33000))
	st, err = sim.GetOrderStatus(ctx, buyID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFilled, st.Status)
	assert.True(t, st.FilledAmount.Equal(decimal.NewFromInt(1)))
	assert.True(t, st.AvgFillPrice.Equal(decimal.NewFromInt(34000)))

	st, err = sim.GetOrderStatus(ctx, sellID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusOpen, st.Status)

	sim.SetPrice("BTC/USDT", decimal.NewFromInt(50001))
	st, err = sim.GetOrderStatus(ctx, sellID)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusFilled, st.Status)
}

func TestSimulatorCancel(t *testing.T) {
	sim, _ := newSim(t)
	ctx := t.Context()

	id, err := sim.PlaceOrder(ctx, "ETH/USDT", enum.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.NoError(t, sim.CancelOrder(ctx, id))

	st, err := sim.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enum.OrderStatusCancelled, st.Status)

	err = sim.CancelOrder(ctx, id)
	assert.ErrorIs(t, err, exception.ErrOrderNotCancellable)
	assert.False(t, exception.IsTransient(err))

	_, err = sim.GetOrderStatus(ctx, "missing")
	assert.ErrorIs(t, err, exception.ErrOrderUnknown)
}

func TestSimulatorRejectsBadOrders(t *testing.T) {
	sim, _ := newSim(t)
	ctx := t.Context()

	_, err := sim.PlaceOrder(ctx, "NOPE/USDT", enum.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, exception.ErrUnknownSymbol)
	assert.ErrorIs(t, err, exception.ErrConnectorPermanent)

	_, err = sim.PlaceOrder(ctx, "BTC/USDT", enum.OrderSideBuy, decimal.Zero, decimal.NewFromInt(1))
	assert.ErrorIs(t, err, exception.ErrConnectorRejected)
}

func TestSimulatorMarketData(t *testing.T) {
	sim, clk := newSim(t)
	ctx := t.Context()

	markets, err := sim.Markets(ctx)
	require.NoError(t, err)
	assert.Len(t, markets, 5)

	candles, err := sim.GetOHLCV(ctx, "LTC/USDT", "1m", 60)
	require.NoError(t, err)
	require.Len(t, candles, 60)
	for i, c := range candles {
		assert.True(t, c.High.GreaterThanOrEqual(c.Low))
		assert.True(t, c.Low.IsPositive())
		if i > 0 {
			assert.True(t, c.Timestamp.After(candles[i-1].Timestamp))
		}
	}

	tk, err := sim.GetTicker(ctx, "LTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Timestamp.After(candles[59].Timestamp), "ticker is newer than the backfill")
	assert.True(t, tk.LastPrice.Equal(decimal.NewFromInt(150)))

	clk.Add(10 * time.Minute)
	sim.Step()
	tk2, err := sim.GetTicker(ctx, "LTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), tk2.Timestamp)
	assert.False(t, tk2.LastPrice.Equal(tk.LastPrice))
}

func TestSimulatorFatFingerDrop(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(t0)
	sim := NewSimulator(SimulatorConfig{
		Symbols:          []string{"X/USDT"},
		InitialPrices:    map[string]float64{"X/USDT": 100},
		Seed:             1,
		FatFingerRate:    1,
		FatFingerMinDrop: 20,
		FatFingerMaxDrop: 20,
	}, nil, clk)

	sim.Step()
	p, ok := sim.Price("X/USDT")
	require.True(t, ok)
	assert.True(t, p.Equal(decimal.NewFromInt(80)), p.String())
}

func TestSimulatorIsDeterministicPerSeed(t *testing.T) {
	run := func() []string {
		clk := clock.NewMock()
		clk.Set(t0)
		sim := NewSimulator(SimulatorConfig{Seed: 42, FatFingerRate: 0.5}, nil, clk)
		var out []string
		for range 5 {
			clk.Add(time.Minute)
			sim.Step()
			p, _ := sim.Price("ETH/USDT")
			out = append(out, p.String())
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestLimitedPassesThrough(t *testing.T) {
	sim, _ := newSim(t)
	l := NewLimited(sim, 1000, 5)
	ctx := t.Context()

	markets, err := l.Markets(ctx)
	require.NoError(t, err)
	assert.Len(t, markets, 5)

	id, err := l.PlaceOrder(ctx, "ADA/USDT", enum.OrderSideBuy, decimal.NewFromInt(10), decimal.NewFromFloat(0.5))
	require.NoError(t, err)
	require.NoError(t, l.CancelOrder(ctx, id))
}

func TestLimitedHonoursContext(t *testing.T) {
	sim, _ := newSim(t)
	l := NewLimited(sim, 0.001, 1)

	_, err := l.GetTicker(t.Context(), "ADA/USDT")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = l.GetTicker(ctx, "ADA/USDT")
	assert.Error(t, err)
}

func TestChaosInjectsTransientErrors(t *testing.T) {
	sim, _ := newSim(t)
	c, err := NewChaos(sim, ChaosConfig{Seed: 3, ErrorRate: 1})
	require.NoError(t, err)

	_, err = c.GetTicker(t.Context(), "BTC/USDT")
	assert.ErrorIs(t, err, exception.ErrChaosInjected)
	assert.True(t, exception.IsTransient(err))

	_, err = c.PlaceOrder(t.Context(), "BTC/USDT", enum.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.True(t, exception.IsTransient(err))
}

func TestChaosRejectsAndDelays(t *testing.T) {
	sim, _ := newSim(t)
	c, err := NewChaos(sim, ChaosConfig{Seed: 3, RejectRate: 1, MaxDelay: time.Second})
	require.NoError(t, err)
	var waited time.Duration
	c.wait = func(_ context.Context, d time.Duration) error {
		waited += d
		return nil
	}

	_, err = c.PlaceOrder(t.Context(), "BTC/USDT", enum.OrderSideBuy, decimal.NewFromInt(1), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, exception.ErrConnectorRejected)
	assert.False(t, exception.IsTransient(err))

	_, err = c.GetTicker(t.Context(), "BTC/USDT")
	require.NoError(t, err)
	assert.LessOrEqual(t, waited, 2*time.Second)
}

func TestChaosConfigValidate(t *testing.T) {
	assert.Error(t, ChaosConfig{ErrorRate: 2}.Validate())
	assert.Error(t, ChaosConfig{RejectRate: -1}.Validate())
	assert.Error(t, ChaosConfig{MaxDelay: -time.Second}.Validate())
	assert.NoError(t, ChaosConfig{}.Validate())
	assert.False(t, ChaosConfig{}.Enabled())
	_, err := NewChaos(nil, ChaosConfig{ErrorRate: 2})
	assert.Error(t, err)
}

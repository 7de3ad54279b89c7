package main

import (
	"context"
	"flag"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/yanun0323/logs"
	"go.uber.org/zap"

	"fatfinger/internal/alert"
	"fatfinger/internal/connector"
	"fatfinger/internal/core"
	"fatfinger/internal/ops"
	"fatfinger/internal/order"
	"fatfinger/internal/scanner"
	"fatfinger/internal/storage"
)

// paper runs the full engine against the simulator on a virtual clock, one
// simulated minute per cycle, and prints what happened.
func main() {
	configPath := flag.String("config", "", "Path to YAML config (default: built-in)")
	cycles := flag.Int("cycles", 720, "Number of cycles to run")
	step := flag.Duration("step", time.Minute, "Virtual time between cycles")
	seed := flag.Int64("seed", 0, "Simulator seed override (0=config)")
	fatFinger := flag.Float64("fat-finger-rate", 0, "Fat finger rate override (0=config)")
	storePath := flag.String("pebble", "", "Record to a pebble directory (default: discard)")
	chaosRate := flag.Float64("chaos-error-rate", 0, "Inject transient connector errors at this rate")
	verbose := flag.Bool("v", false, "Log engine events")
	flag.Parse()

	if *cycles <= 0 {
		logs.Errorf("cycles must be > 0")
		os.Exit(2)
	}

	loaded, err := loadConfig(*configPath)
	if err != nil {
		logs.Errorf("load config, err: %+v", err)
		os.Exit(1)
	}
	if *seed != 0 {
		loaded.Simulator.Seed = *seed
	}
	if *fatFinger > 0 {
		loaded.Simulator.FatFingerRate = *fatFinger
	}
	if *chaosRate > 0 {
		loaded.Chaos.ErrorRate = *chaosRate
		if err := loaded.Chaos.Validate(); err != nil {
			logs.Errorf("chaos, err: %+v", err)
			os.Exit(2)
		}
	}

	var store storage.Sink = storage.Nop{}
	if *storePath != "" {
		p, err := storage.OpenPebble(*storePath)
		if err != nil {
			logs.Errorf("open pebble, err: %+v", err)
			os.Exit(1)
		}
		store = p
	}
	defer func() { _ = store.Close() }()

	log := zap.NewNop()
	if *verbose {
		if log, err = ops.NewLogger("debug", ""); err != nil {
			logs.Errorf("new logger, err: %+v", err)
			os.Exit(1)
		}
	}

	sum, err := run(context.Background(), loaded, store, log, *cycles, *step)
	if err != nil {
		logs.Errorf("paper, err: %+v", err)
		os.Exit(1)
	}
	report(sum)
}

type summary struct {
	Cycles    int
	Evaluated int
	Placed    int
	Stats     order.Stats
	Closed    int
	Alerts    map[alert.Type]int
	Elapsed   time.Duration
}

func run(ctx context.Context, loaded ops.Loaded, store storage.Sink, log *zap.Logger, cycles int, step time.Duration) (summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clk := clock.NewMock()
	clk.Set(time.Now().UTC().Truncate(time.Minute))

	sim := connector.NewSimulator(loaded.Simulator, log, clk)
	bus := alert.NewBus(loaded.Alert, log, clk, nil)

	var (
		mu     sync.Mutex
		counts = make(map[alert.Type]int)
	)
	if _, err := bus.Subscribe(alert.Wildcard, func(a alert.Alert) {
		mu.Lock()
		counts[a.Type]++
		mu.Unlock()
	}); err != nil {
		return summary{}, err
	}
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		bus.Run(ctx)
	}()

	var exchange connector.Connector = sim
	if loaded.Chaos.Enabled() {
		chaos, err := connector.NewChaos(sim, loaded.Chaos)
		if err != nil {
			return summary{}, err
		}
		exchange = chaos
	}

	orders, err := order.NewManager(loaded.Order, exchange, bus, store, log, clk, nil)
	if err != nil {
		return summary{}, err
	}
	// the virtual clock never advances during a retry wait
	orders.SetWaitFunc(func(context.Context, time.Duration) error { return nil })

	sc := scanner.New(loaded.Scanner, log, clk)
	driver, err := core.NewDriver(loaded.Driver, sc, exchange, orders, bus, store, log, clk, nil)
	if err != nil {
		return summary{}, err
	}

	started := time.Now()
	sum := summary{Cycles: cycles}
	for i := 0; i < cycles; i++ {
		clk.Add(step)
		sim.Step()
		rep, err := driver.Cycle(ctx)
		if err != nil {
			logs.Errorf("cycle %d, err: %+v", i, err)
		}
		sum.Evaluated += len(rep.Candidates)
		sum.Placed += len(rep.Placed)
	}
	driver.Stop()

	bus.Close()
	cancel()
	<-busDone

	sum.Stats = orders.Stats()
	sum.Closed = len(orders.ClosedPositions())
	sum.Elapsed = time.Since(started)
	mu.Lock()
	sum.Alerts = counts
	mu.Unlock()
	return sum, nil
}

func report(sum summary) {
	logs.Infof("paper completed: cycles=%d evaluated=%d placed=%d elapsed=%s",
		sum.Cycles, sum.Evaluated, sum.Placed, sum.Elapsed)
	logs.Infof("book: active_orders=%d open_positions=%d closed_positions=%d daily_trades=%d daily_pnl=%s suspended=%t",
		sum.Stats.ActiveOrders, sum.Stats.OpenPositions, sum.Closed, sum.Stats.DailyTrades, sum.Stats.DailyPnL.String(), sum.Stats.Suspended)

	types := make([]alert.Type, 0, len(sum.Alerts))
	for t := range sum.Alerts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		logs.Infof("alerts %s=%d", t, sum.Alerts[t])
	}
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		cfg := ops.Default()
		cfg.Storage.Driver = ops.StorageNone
		return cfg.Resolve()
	}
	return ops.Load(path, "")
}

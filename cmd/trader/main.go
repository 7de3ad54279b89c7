package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/pkg/sys"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fatfinger/internal/alert"
	"fatfinger/internal/api"
	"fatfinger/internal/connector"
	"fatfinger/internal/core"
	"fatfinger/internal/obs"
	"fatfinger/internal/ops"
	"fatfinger/internal/order"
	"fatfinger/internal/scanner"
	"fatfinger/internal/storage"
	"fatfinger/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		log.Printf("trader: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	envPath := flag.String("env", ".env", "Path to dotenv file (optional)")
	stepEvery := flag.Duration("sim-step", time.Second, "Simulator price step interval")
	flag.Parse()

	loaded, err := ops.Load(*configPath, *envPath)
	if err != nil {
		return err
	}

	logger, err := ops.NewLogger(loaded.Log.Level, loaded.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "fatfinger.trader",
			ServerAddress:   loaded.Profiling.ServerAddress,
			Logger:          logger.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "start pyroscope")
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logger.Info("shutdown signal received")
		cancel()
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := obs.NewMetrics(reg)
	clk := clock.New()

	sim := connector.NewSimulator(loaded.Simulator, logger, clk)
	var exchange connector.Connector = connector.NewLimited(sim, loaded.Exchange.RateLimit, loaded.Exchange.Burst)
	if loaded.Chaos.Enabled() {
		chaos, err := connector.NewChaos(exchange, loaded.Chaos)
		if err != nil {
			return err
		}
		logger.Warn("chaos connector enabled", zap.Float64("errorRate", loaded.Chaos.ErrorRate))
		exchange = chaos
	}

	store, err := openStorage(loaded.Storage)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close storage", zap.Error(err))
		}
	}()

	bus := alert.NewBus(loaded.Alert, logger, clk, metrics)
	orders, err := order.NewManager(loaded.Order, exchange, bus, store, logger, clk, metrics)
	if err != nil {
		return err
	}
	sc := scanner.New(loaded.Scanner, logger, clk)
	driver, err := core.NewDriver(loaded.Driver, sc, exchange, orders, bus, store, logger, clk, metrics)
	if err != nil {
		return err
	}
	server, err := api.NewServer(api.Config(loaded.API), bus, orders, driver, reg, logger)
	if err != nil {
		return err
	}

	logger.Info("trader starting",
		zap.String("exchange", loaded.Exchange.Name),
		zap.Strings("symbols", loaded.Simulator.Symbols),
		zap.String("storage", loaded.Storage.Driver),
		zap.Duration("cycle", loaded.Driver.CycleInterval),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		bus.Run(ctx)
		return nil
	})
	eg.Go(func() error {
		stepSimulator(ctx, sim, clk, *stepEvery)
		return nil
	})
	eg.Go(func() error {
		return server.Run(ctx)
	})
	eg.Go(func() error {
		driver.Run(ctx)
		return nil
	})

	if err := eg.Wait(); err != nil {
		return err
	}
	driver.Stop()

	stats := orders.Stats()
	logger.Info("trader stopped",
		zap.Int("activeOrders", stats.ActiveOrders),
		zap.Int("openPositions", stats.OpenPositions),
		zap.String("dailyPnl", stats.DailyPnL.String()),
		zap.Int("dailyTrades", stats.DailyTrades),
	)
	return nil
}

func openStorage(cfg ops.StorageConfig) (storage.Sink, error) {
	switch cfg.Driver {
	case ops.StoragePebble:
		return storage.OpenPebble(cfg.Path)
	case ops.StoragePostgres:
		return storage.OpenPostgres(conn.Option{ConnString: cfg.DSN})
	default:
		return storage.Nop{}, nil
	}
}

func stepSimulator(ctx context.Context, sim *connector.Simulator, clk clock.Clock, every time.Duration) {
	ticker := clk.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sim.Step()
		}
	}
}

package ops

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"fatfinger/internal/alert"
	"fatfinger/internal/connector"
	"fatfinger/internal/core"
	"fatfinger/internal/model"
	"fatfinger/internal/order"
	"fatfinger/internal/scanner"
	"fatfinger/pkg/backoff"
	"fatfinger/pkg/exception"
)

const (
	EnvAPIKey    = "FATFINGER_API_KEY"
	EnvAPISecret = "FATFINGER_API_SECRET"
	EnvPGDSN     = "FATFINGER_PG_DSN"
)

// Storage drivers.
const (
	StorageNone     = "none"
	StoragePebble   = "pebble"
	StoragePostgres = "postgres"
)

// FileConfig mirrors the YAML config layout.
type FileConfig struct {
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Scanner   ScannerConfig   `yaml:"scanner"`
	Order     OrderConfig     `yaml:"order"`
	Driver    DriverConfig    `yaml:"driver"`
	Alert     AlertConfig     `yaml:"alert"`
	Storage   StorageConfig   `yaml:"storage"`
	API       APIConfig       `yaml:"api"`
	Log       LogConfig       `yaml:"log"`
	Profiling ProfilingConfig `yaml:"profiling"`
	Chaos     ChaosConfig     `yaml:"chaos"`
}

// ExchangeConfig selects the connector.
type ExchangeConfig struct {
	Name      string  `yaml:"name"`
	Sandbox   bool    `yaml:"sandbox"`
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
	Seed      int64   `yaml:"seed"`
	// FatFingerRate is the simulator's chance per step of a sharp drop.
	FatFingerRate float64 `yaml:"fat_finger_rate"`
	APIKey        string  `yaml:"-"`
	APISecret     string  `yaml:"-"`
}

// ScannerConfig describes the volatility scanner.
type ScannerConfig struct {
	MinVolatility            float64       `yaml:"min_volatility"`
	WindowSize               int           `yaml:"window_size"`
	Interval                 string        `yaml:"interval"`
	StaleAfter               time.Duration `yaml:"stale_after"`
	Symbols                  []string      `yaml:"symbols"`
	MaxCandidates            int           `yaml:"max_candidates"`
	HighVolatilityMultiplier float64       `yaml:"high_volatility_multiplier"`
}

// OrderConfig describes entries, exits and risk limits.
type OrderConfig struct {
	DiscountPercentage     float64        `yaml:"discount_percentage"`
	MaxPositionSize        float64        `yaml:"max_position_size"`
	MaxConcurrentPositions int            `yaml:"max_concurrent_positions"`
	DailyLossLimit         float64        `yaml:"daily_loss_limit"`
	MaxDailyTrades         int            `yaml:"max_daily_trades"`
	OrderTimeout           time.Duration  `yaml:"order_timeout"`
	MaxRetries             int            `yaml:"max_retries"`
	AmountPrecision        int32          `yaml:"amount_precision"`
	PricePrecision         int32          `yaml:"price_precision"`
	TierPlan               model.TierPlan `yaml:"tier_plan"`
}

// DriverConfig describes cycle scheduling.
type DriverConfig struct {
	CycleInterval time.Duration `yaml:"cycle_interval"`
	Concurrency   int           `yaml:"concurrency"`
}

// AlertConfig sizes the alert bus.
type AlertConfig struct {
	HistorySize int `yaml:"history_size"`
	QueueSize   int `yaml:"queue_size"`
}

// StorageConfig selects the record sink.
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// APIConfig describes the HTTP feed.
type APIConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LogConfig describes the logger.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ServerAddress string `yaml:"server_address"`
}

// ChaosConfig injects connector faults for drills.
type ChaosConfig struct {
	Seed       int64         `yaml:"seed"`
	ErrorRate  float64       `yaml:"error_rate"`
	RejectRate float64       `yaml:"reject_rate"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Exchange  ExchangeConfig
	Simulator connector.SimulatorConfig
	Chaos     connector.ChaosConfig
	Scanner   scanner.Config
	Order     order.Config
	Driver    core.Config
	Alert     alert.Config
	Storage   StorageConfig
	API       APIConfig
	Log       LogConfig
	Profiling ProfilingConfig
}

// Default returns the stock configuration.
func Default() FileConfig {
	return FileConfig{
		Exchange: ExchangeConfig{
			Name:          "simulator",
			Sandbox:       true,
			RateLimit:     10,
			Burst:         5,
			FatFingerRate: 0.01,
		},
		Scanner: ScannerConfig{
			MinVolatility:            5,
			WindowSize:               60,
			Interval:                 "1m",
			StaleAfter:               5 * time.Minute,
			MaxCandidates:            1,
			HighVolatilityMultiplier: 2,
		},
		Order: OrderConfig{
			DiscountPercentage:     15,
			MaxPositionSize:        100,
			MaxConcurrentPositions: 5,
			DailyLossLimit:         100,
			MaxDailyTrades:         20,
			OrderTimeout:           30 * time.Minute,
			MaxRetries:             3,
			AmountPrecision:        8,
			PricePrecision:         8,
			TierPlan:               model.DefaultTierPlan(),
		},
		Driver: DriverConfig{
			CycleInterval: time.Second,
			Concurrency:   8,
		},
		Alert: AlertConfig{
			HistorySize: 100,
			QueueSize:   1024,
		},
		Storage: StorageConfig{
			Driver: StoragePebble,
			Path:   "data/journal",
		},
		API: APIConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Log: LogConfig{
			Level: "info",
		},
		Profiling: ProfilingConfig{
			ServerAddress: "http://localhost:4040",
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and resolves the result. An empty path uses the defaults. The
// .env file at envPath, or ./.env when empty, is loaded if present.
func Load(path, envPath string) (Loaded, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrapf(exception.ErrInvalidConfig, "parse %s: %s", path, err)
		}
	}

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}
	cfg.ApplyEnv(os.Getenv)

	return cfg.Resolve()
}

// ApplyEnv overrides secrets from the environment.
func (cfg *FileConfig) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIKey); v != "" {
		cfg.Exchange.APIKey = v
	}
	if v := getenv(EnvAPISecret); v != "" {
		cfg.Exchange.APISecret = v
	}
	if v := getenv(EnvPGDSN); v != "" {
		cfg.Storage.DSN = v
	}
}

// Validate checks every setting the engine cannot run without.
func (cfg FileConfig) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Wrapf(exception.ErrInvalidConfig, format, args...)
	}

	if cfg.Exchange.Name != "simulator" {
		return invalid("exchange %q is not supported", cfg.Exchange.Name)
	}
	if cfg.Exchange.RateLimit < 0 || cfg.Exchange.Burst < 0 {
		return invalid("exchange rate limit must be >= 0")
	}
	if cfg.Exchange.FatFingerRate < 0 || cfg.Exchange.FatFingerRate > 1 {
		return invalid("exchange fat finger rate must be in [0, 1]")
	}

	s := cfg.Scanner
	if s.MinVolatility < 0 {
		return invalid("scanner min volatility must be >= 0")
	}
	if s.WindowSize < 2 {
		return invalid("scanner window size must be >= 2, got %d", s.WindowSize)
	}
	if s.StaleAfter <= 0 {
		return invalid("scanner stale after must be > 0")
	}
	if s.MaxCandidates <= 0 {
		return invalid("scanner max candidates must be > 0")
	}
	if s.HighVolatilityMultiplier < 0 {
		return invalid("scanner high volatility multiplier must be >= 0")
	}

	o := cfg.Order
	if o.DiscountPercentage <= 0 || o.DiscountPercentage >= 100 {
		return invalid("order discount percentage must be in (0, 100), got %v", o.DiscountPercentage)
	}
	if o.MaxPositionSize <= 0 {
		return invalid("order max position size must be > 0")
	}
	if o.MaxConcurrentPositions <= 0 {
		return invalid("order max concurrent positions must be > 0")
	}
	if o.DailyLossLimit < 0 || o.MaxDailyTrades < 0 {
		return invalid("order daily limits must be >= 0")
	}
	if o.OrderTimeout <= 0 {
		return invalid("order timeout must be > 0")
	}
	if o.MaxRetries < 0 {
		return invalid("order max retries must be >= 0")
	}
	if o.AmountPrecision < 0 || o.PricePrecision < 0 {
		return invalid("order precision must be >= 0")
	}
	if err := o.TierPlan.Validate(); err != nil {
		return invalid("order tier plan: %s", err)
	}

	if cfg.Driver.CycleInterval <= 0 {
		return invalid("driver cycle interval must be > 0")
	}
	if cfg.Driver.Concurrency <= 0 {
		return invalid("driver concurrency must be > 0")
	}
	if cfg.Alert.HistorySize <= 0 || cfg.Alert.QueueSize <= 0 {
		return invalid("alert sizes must be > 0")
	}

	switch cfg.Storage.Driver {
	case StorageNone:
	case StoragePebble:
		if cfg.Storage.Path == "" {
			return invalid("storage path is required for pebble")
		}
	case StoragePostgres:
		if cfg.Storage.DSN == "" {
			return invalid("storage dsn is required for postgres")
		}
	default:
		return invalid("storage driver %q is unknown", cfg.Storage.Driver)
	}

	if _, err := ParseLevel(cfg.Log.Level); err != nil {
		return err
	}
	if err := cfg.chaos().Validate(); err != nil {
		return invalid("chaos: %s", err)
	}
	return nil
}

// Resolve validates the file config and builds the component configs.
func (cfg FileConfig) Resolve() (Loaded, error) {
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if err := cfg.Validate(); err != nil {
		return Loaded{}, err
	}

	sim := connector.DefaultSimulatorConfig()
	sim.Seed = cfg.Exchange.Seed
	sim.FatFingerRate = cfg.Exchange.FatFingerRate
	if len(cfg.Scanner.Symbols) > 0 {
		sim.Symbols = cfg.Scanner.Symbols
	}

	return Loaded{
		Exchange:  cfg.Exchange,
		Simulator: sim,
		Chaos:     cfg.chaos(),
		Scanner: scanner.Config{
			MinVolatility: cfg.Scanner.MinVolatility,
			WindowSize:    cfg.Scanner.WindowSize,
			Interval:      cfg.Scanner.Interval,
			StaleAfter:    cfg.Scanner.StaleAfter,
			Symbols:       cfg.Scanner.Symbols,
			Concurrency:   cfg.Driver.Concurrency,
		},
		Order: order.Config{
			DiscountPercent:        cfg.Order.DiscountPercentage,
			MaxPositionSize:        decimal.NewFromFloat(cfg.Order.MaxPositionSize),
			MaxConcurrentPositions: cfg.Order.MaxConcurrentPositions,
			DailyLossLimit:         decimal.NewFromFloat(cfg.Order.DailyLossLimit),
			MaxDailyTrades:         cfg.Order.MaxDailyTrades,
			OrderTimeout:           cfg.Order.OrderTimeout,
			MaxRetries:             cfg.Order.MaxRetries,
			AmountPrecision:        cfg.Order.AmountPrecision,
			PricePrecision:         cfg.Order.PricePrecision,
			TierPlan:               cfg.Order.TierPlan,
			Concurrency:            cfg.Driver.Concurrency,
			Backoff:                backoff.Default(),
		},
		Driver: core.Config{
			CycleInterval:            cfg.Driver.CycleInterval,
			MaxCandidates:            cfg.Scanner.MaxCandidates,
			MinVolatility:            cfg.Scanner.MinVolatility,
			HighVolatilityMultiplier: cfg.Scanner.HighVolatilityMultiplier,
		},
		Alert: alert.Config{
			HistorySize: cfg.Alert.HistorySize,
			QueueSize:   cfg.Alert.QueueSize,
		},
		Storage:   cfg.Storage,
		API:       cfg.API,
		Log:       cfg.Log,
		Profiling: cfg.Profiling,
	}, nil
}

func (cfg FileConfig) chaos() connector.ChaosConfig {
	return connector.ChaosConfig{
		Seed:       cfg.Chaos.Seed,
		ErrorRate:  cfg.Chaos.ErrorRate,
		RejectRate: cfg.Chaos.RejectRate,
		MaxDelay:   cfg.Chaos.MaxDelay,
	}
}

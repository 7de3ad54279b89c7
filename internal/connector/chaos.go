package connector

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"fatfinger/internal/model"
	"fatfinger/internal/model/enum"
	"fatfinger/pkg/backoff"
	"fatfinger/pkg/exception"
)

// ChaosConfig controls fault injection.
type ChaosConfig struct {
	Seed int64 `json:"seed"`
	// ErrorRate is the chance a call fails with a transient error before
	// reaching the exchange.
	ErrorRate float64 `json:"errorRate"`
	// RejectRate is the chance an order placement is rejected permanently.
	RejectRate float64       `json:"rejectRate"`
	MaxDelay   time.Duration `json:"maxDelay"`
}

// Validate ensures the config is within supported ranges.
func (c ChaosConfig) Validate() error {
	if c.ErrorRate < 0 || c.ErrorRate > 1 {
		return fmt.Errorf("errorRate must be between 0 and 1")
	}
	if c.RejectRate < 0 || c.RejectRate > 1 {
		return fmt.Errorf("rejectRate must be between 0 and 1")
	}
	if c.MaxDelay < 0 {
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Enabled reports whether the config injects anything.
func (c ChaosConfig) Enabled() bool {
	return c.ErrorRate > 0 || c.RejectRate > 0 || c.MaxDelay > 0
}

// Chaos wraps a connector and injects latency and failures from a seeded
// source, so a run can be replayed.
type Chaos struct {
	next Connector
	cfg  ChaosConfig
	wait backoff.WaitFunc

	mu  sync.Mutex
	rng *rand.Rand
}

// NewChaos creates a fault-injecting connector with validation.
func NewChaos(next Connector, cfg ChaosConfig) (*Chaos, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Chaos{
		next: next,
		cfg:  cfg,
		wait: backoff.Sleep,
		rng:  rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (c *Chaos) disturb(ctx context.Context, op string) error {
	c.mu.Lock()
	var delay time.Duration
	if c.cfg.MaxDelay > 0 {
		delay = time.Duration(c.rng.Int63n(c.cfg.MaxDelay.Nanoseconds() + 1))
	}
	fail := c.cfg.ErrorRate > 0 && c.rng.Float64() < c.cfg.ErrorRate
	c.mu.Unlock()

	if delay > 0 {
		if err := c.wait(ctx, delay); err != nil {
			return errors.Wrap(err, op)
		}
	}
	if fail {
		return exception.Transient(errors.Wrap(exception.ErrChaosInjected, op))
	}
	return nil
}

func (c *Chaos) reject() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.RejectRate > 0 && c.rng.Float64() < c.cfg.RejectRate
}

func (c *Chaos) Markets(ctx context.Context) ([]string, error) {
	lister, ok := c.next.(MarketLister)
	if !ok {
		return nil, errors.Wrap(exception.ErrUnsupported, "market listing")
	}
	return lister.Markets(ctx)
}

func (c *Chaos) GetOHLCV(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error) {
	if err := c.disturb(ctx, "get ohlcv"); err != nil {
		return nil, err
	}
	return c.next.GetOHLCV(ctx, symbol, interval, limit)
}

func (c *Chaos) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	if err := c.disturb(ctx, "get ticker"); err != nil {
		return model.Ticker{}, err
	}
	return c.next.GetTicker(ctx, symbol)
}

func (c *Chaos) PlaceOrder(ctx context.Context, symbol string, side enum.OrderSide, amount, price decimal.Decimal) (string, error) {
	if err := c.disturb(ctx, "place order"); err != nil {
		return "", err
	}
	if c.reject() {
		return "", exception.Permanent(errors.Wrap(exception.ErrConnectorRejected, "insufficient balance"))
	}
	return c.next.PlaceOrder(ctx, symbol, side, amount, price)
}

func (c *Chaos) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.disturb(ctx, "cancel order"); err != nil {
		return err
	}
	return c.next.CancelOrder(ctx, orderID)
}

func (c *Chaos) GetOrderStatus(ctx context.Context, orderID string) (model.OrderState, error) {
	if err := c.disturb(ctx, "get order status"); err != nil {
		return model.OrderState{}, err
	}
	return c.next.GetOrderStatus(ctx, orderID)
}

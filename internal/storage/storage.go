package storage

import (
	"context"

	"fatfinger/internal/model"
)

// Sink receives the engine's write-only records. A failing sink never stops
// trading; callers log and count its errors.
type Sink interface {
	SaveOrder(ctx context.Context, o model.Order) error
	SaveTrade(ctx context.Context, t model.Trade) error
	SaveVolatility(ctx context.Context, c model.Candidate) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) SaveOrder(context.Context, model.Order) error          { return nil }
func (Nop) SaveTrade(context.Context, model.Trade) error          { return nil }
func (Nop) SaveVolatility(context.Context, model.Candidate) error { return nil }
func (Nop) Close() error                                          { return nil }

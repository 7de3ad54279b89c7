package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fatfinger/internal/model"
	"fatfinger/pkg/conn"
)

type orderRow struct {
	ID           string          `gorm:"primaryKey;size:64"`
	Symbol       string          `gorm:"size:32;index"`
	Side         string          `gorm:"size:8"`
	Kind         string          `gorm:"size:8"`
	Amount       decimal.Decimal `gorm:"type:numeric"`
	Price        decimal.Decimal `gorm:"type:numeric"`
	Status       string          `gorm:"size:20;index"`
	Tier         int
	PositionID   string          `gorm:"size:64;index"`
	FilledAmount decimal.Decimal `gorm:"type:numeric"`
	AvgFillPrice decimal.Decimal `gorm:"type:numeric"`
	Reason       string
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

func (orderRow) TableName() string { return "orders" }

type tradeRow struct {
	ID            uint            `gorm:"primaryKey"`
	OrderID       string          `gorm:"size:64;index"`
	PositionID    string          `gorm:"size:64;index"`
	Symbol        string          `gorm:"size:32"`
	Side          string          `gorm:"size:8"`
	Amount        decimal.Decimal `gorm:"type:numeric"`
	Price         decimal.Decimal `gorm:"type:numeric"`
	Tier          int
	ProfitPercent float64
	Timestamp     time.Time `gorm:"index"`
}

func (tradeRow) TableName() string { return "trades" }

type volatilityRow struct {
	ID         uint   `gorm:"primaryKey"`
	Symbol     string `gorm:"size:32;index"`
	Volatility float64
	LastPrice  decimal.Decimal `gorm:"type:numeric"`
	Volume     decimal.Decimal `gorm:"type:numeric"`
	Timestamp  time.Time       `gorm:"index"`
}

func (volatilityRow) TableName() string { return "volatility_history" }

// Postgres writes records through gorm. Orders are upserted on id.
type Postgres struct {
	client *conn.Client
	db     *gorm.DB
}

// OpenPostgres connects and migrates the schema.
func OpenPostgres(opt conn.Option) (*Postgres, error) {
	client, err := conn.New(opt)
	if err != nil {
		return nil, errors.Wrap(err, "connect postgres")
	}
	if err := client.DB().AutoMigrate(&orderRow{}, &tradeRow{}, &volatilityRow{}); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "migrate postgres")
	}
	return &Postgres{client: client, db: client.DB()}, nil
}

func (p *Postgres) SaveOrder(ctx context.Context, o model.Order) error {
	row := newOrderRow(o)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return errors.Wrap(err, "upsert order")
	}
	return nil
}

func (p *Postgres) SaveTrade(ctx context.Context, t model.Trade) error {
	row := newTradeRow(t)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert trade")
	}
	return nil
}

func (p *Postgres) SaveVolatility(ctx context.Context, c model.Candidate) error {
	row := newVolatilityRow(c)
	if err := p.db.WithContext(ctx).Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert volatility")
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.client.Close()
}

func newOrderRow(o model.Order) orderRow {
	return orderRow{
		ID:           o.ID,
		Symbol:       o.Symbol,
		Side:         o.Side.String(),
		Kind:         o.Kind.String(),
		Amount:       o.Amount,
		Price:        o.Price,
		Status:       o.Status.String(),
		Tier:         o.Tier,
		PositionID:   o.PositionID,
		FilledAmount: o.FilledAmount,
		AvgFillPrice: o.AvgFillPrice,
		Reason:       o.Reason,
		CreatedAt:    o.CreatedAt.UTC(),
		UpdatedAt:    o.UpdatedAt.UTC(),
	}
}

func newTradeRow(t model.Trade) tradeRow {
	return tradeRow{
		OrderID:       t.OrderID,
		PositionID:    t.PositionID,
		Symbol:        t.Symbol,
		Side:          t.Side.String(),
		Amount:        t.Amount,
		Price:         t.Price,
		Tier:          t.Tier,
		ProfitPercent: t.ProfitPercent,
		Timestamp:     t.Timestamp.UTC(),
	}
}

func newVolatilityRow(c model.Candidate) volatilityRow {
	return volatilityRow{
		Symbol:     c.Symbol,
		Volatility: c.Volatility,
		LastPrice:  c.LastPrice,
		Volume:     c.Volume,
		Timestamp:  c.Timestamp.UTC(),
	}
}

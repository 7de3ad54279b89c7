package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bar as returned by a connector.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Ticker is the latest trade summary of a symbol.
type Ticker struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarketSnapshot is a single observation held in a volatility window.
type MarketSnapshot struct {
	Symbol    string          `json:"symbol"`
	LastPrice decimal.Decimal `json:"lastPrice"`
	Volume    decimal.Decimal `json:"volume"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Timestamp time.Time       `json:"timestamp"`
}

// SnapshotFromCandle uses the bar close as the last price.
func SnapshotFromCandle(symbol string, c Candle) MarketSnapshot {
	return MarketSnapshot{
		Symbol:    symbol,
		LastPrice: c.Close,
		Volume:    c.Volume,
		High:      c.High,
		Low:       c.Low,
		Timestamp: c.Timestamp,
	}
}

// SnapshotFromTicker treats the last trade as a zero-range bar.
func SnapshotFromTicker(t Ticker) MarketSnapshot {
	return MarketSnapshot{
		Symbol:    t.Symbol,
		LastPrice: t.LastPrice,
		Volume:    t.Volume,
		High:      t.LastPrice,
		Low:       t.LastPrice,
		Timestamp: t.Timestamp,
	}
}

// Candidate is a scanner output. It is never mutated after Scan returns it.
type Candidate struct {
	Symbol     string          `json:"symbol"`
	Volatility float64         `json:"volatility"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
	Volume     decimal.Decimal `json:"volume"`
	Timestamp  time.Time       `json:"timestamp"`
}

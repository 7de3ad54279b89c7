package exception

import "errors"

var (
	// ErrDataGap marks missing or stale market data; the symbol is skipped for the cycle.
	ErrDataGap = errors.New("market data: gap")

	ErrUnknownSymbol = errors.New("market data: unknown symbol")
)

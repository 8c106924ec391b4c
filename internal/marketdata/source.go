package marketdata

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData marks a fetch that produced nothing usable. Callers must
// treat it as a failure, never as an empty-but-fine result.
var ErrNoData = errors.New("no market data")

// Quote is the latest traded state of a symbol.
type Quote struct {
	Symbol    string
	Price     decimal.Decimal
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	PrevClose decimal.Decimal
	Volume    int64
	AsOf      time.Time
}

// Candle is one daily OHLCV bar.
type Candle struct {
	Date   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume int64
}

// Source is the market-data capability: live quote plus recent daily
// candles. Implementations return typed errors on failure.
type Source interface {
	Quote(ctx context.Context, symbol string) (Quote, error)
	Candles(ctx context.Context, symbol string, days int) ([]Candle, error)
}

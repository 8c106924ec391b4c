package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
)

// YahooSource fetches quotes and daily candles from Yahoo Finance.
type YahooSource struct{}

func NewYahooSource() *YahooSource { return &YahooSource{} }

func (y *YahooSource) Quote(ctx context.Context, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Quote{}, fmt.Errorf("%w: empty symbol", ErrNoData)
	}
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	q, err := quote.Get(symbol)
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	if q == nil || q.RegularMarketPrice <= 0 {
		return Quote{}, fmt.Errorf("%w: quote %s", ErrNoData, symbol)
	}
	return Quote{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(q.RegularMarketPrice),
		Open:      decimal.NewFromFloat(q.RegularMarketOpen),
		High:      decimal.NewFromFloat(q.RegularMarketDayHigh),
		Low:       decimal.NewFromFloat(q.RegularMarketDayLow),
		PrevClose: decimal.NewFromFloat(q.RegularMarketPreviousClose),
		Volume:    int64(q.RegularMarketVolume),
		AsOf:      time.Now(),
	}, nil
}

func (y *YahooSource) Candles(ctx context.Context, symbol string, days int) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || days <= 0 {
		return nil, fmt.Errorf("%w: symbol=%q days=%d", ErrNoData, symbol, days)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	end := time.Now()
	start := end.AddDate(0, 0, -days)
	iter := chart.Get(&chart.Params{
		Symbol:   symbol,
		Start:    datetime.New(&start),
		End:      datetime.New(&end),
		Interval: datetime.OneDay,
	})
	var out []Candle
	for iter.Next() {
		bar := iter.Bar()
		out = append(out, Candle{
			Date:   time.Unix(int64(bar.Timestamp), 0),
			Open:   bar.Open,
			High:   bar.High,
			Low:    bar.Low,
			Close:  bar.Close,
			Volume: int64(bar.Volume),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: candles %s", ErrNoData, symbol)
	}
	return out, nil
}

var _ Source = (*YahooSource)(nil)

package marketdata

import (
	"fmt"
	"strings"

	talib "github.com/markcheno/go-talib"
)

// IndicatorSnapshot is the technical context handed to the market
// analyst: a compact numeric view of recent price action.
type IndicatorSnapshot struct {
	Close      float64
	RSI14      float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	EMA20      float64
	EMA50      float64
	ATR14      float64
}

const minIndicatorBars = 60

// ComputeIndicators derives the snapshot from daily candles, newest
// last. Needs at least 60 bars for the slowest lookback.
func ComputeIndicators(candles []Candle) (IndicatorSnapshot, error) {
	if len(candles) < minIndicatorBars {
		return IndicatorSnapshot{}, fmt.Errorf("%w: %d candles, need %d", ErrNoData, len(candles), minIndicatorBars)
	}
	n := len(candles)
	closes := make([]float64, n)
	highs := make([]float64, n)
	lows := make([]float64, n)
	for i, c := range candles {
		closes[i], _ = c.Close.Float64()
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
	}
	rsi := talib.Rsi(closes, 14)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)
	ema20 := talib.Ema(closes, 20)
	ema50 := talib.Ema(closes, 50)
	atr := talib.Atr(highs, lows, closes, 14)
	last := n - 1
	return IndicatorSnapshot{
		Close:      closes[last],
		RSI14:      rsi[last],
		MACD:       macd[last],
		MACDSignal: signal[last],
		MACDHist:   hist[last],
		EMA20:      ema20[last],
		EMA50:      ema50[last],
		ATR14:      atr[last],
	}, nil
}

// Render formats the snapshot as the prompt block the market analyst
// receives.
func (s IndicatorSnapshot) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "close=%.2f\n", s.Close)
	fmt.Fprintf(&b, "RSI(14)=%.2f\n", s.RSI14)
	fmt.Fprintf(&b, "MACD=%.4f signal=%.4f hist=%.4f\n", s.MACD, s.MACDSignal, s.MACDHist)
	fmt.Fprintf(&b, "EMA20=%.2f EMA50=%.2f\n", s.EMA20, s.EMA50)
	fmt.Fprintf(&b, "ATR(14)=%.2f", s.ATR14)
	return b.String()
}

package monitor

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/marketdata"
)

type AlertKind string

const (
	AlertPriceChange AlertKind = "price_change"
	AlertVolumeSpike AlertKind = "volume_spike"
	AlertGap         AlertKind = "gap"
)

// Alert is a threshold crossing observed by the monitor. Magnitude is
// the observed value in the unit of its threshold (percent or ratio).
type Alert struct {
	Kind      AlertKind
	Symbol    string
	Magnitude float64
	Price     decimal.Decimal
	At        time.Time
}

// Repeat alerts of the same kind for the same symbol are suppressed
// for this long, so a level hovering around its threshold does not
// re-fire every poll.
const alertCooldown = 30 * time.Minute

// Monitor polls quotes independently of the pipeline cadence and
// publishes alerts on a buffered channel. Consumers that fall behind
// lose alerts (dropped with a warning) rather than blocking the poll
// loop.
type Monitor struct {
	source    marketdata.Source
	cfgFn     func() (config.MonitorConfig, []string)
	alerts    chan Alert
	onQuote   func(symbol string, q marketdata.Quote)
	volumes   map[string][]int64
	lastFired map[string]time.Time
	nowFn     func() time.Time
}

// New builds a monitor. cfgFn returns the current thresholds and
// watchlist so a config reload takes effect on the next poll. onQuote,
// if set, receives every successful quote (used to keep the ledger's
// mark prices fresh); it must not block.
func New(source marketdata.Source, cfgFn func() (config.MonitorConfig, []string), onQuote func(string, marketdata.Quote)) *Monitor {
	cfg, _ := cfgFn()
	return &Monitor{
		source:    source,
		cfgFn:     cfgFn,
		alerts:    make(chan Alert, cfg.AlertBuffer),
		onQuote:   onQuote,
		volumes:   make(map[string][]int64),
		lastFired: make(map[string]time.Time),
		nowFn:     time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (m *Monitor) SetClock(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// Alerts is the read side of the monitor.
func (m *Monitor) Alerts() <-chan Alert { return m.alerts }

// Poll runs one pass over the watchlist.
func (m *Monitor) Poll(ctx context.Context) {
	cfg, watchlist := m.cfgFn()
	for _, symbol := range watchlist {
		select {
		case <-ctx.Done():
			return
		default:
		}
		q, err := m.source.Quote(ctx, symbol)
		if err != nil {
			logger.Warnf("monitor: quote %s failed: %v", symbol, err)
			continue
		}
		if m.onQuote != nil {
			m.onQuote(symbol, q)
		}
		m.evaluate(cfg, q)
	}
}

func (m *Monitor) evaluate(cfg config.MonitorConfig, q marketdata.Quote) {
	now := m.nowFn()

	if q.PrevClose.GreaterThan(decimal.Zero) {
		changePct, _ := q.Price.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100)).Float64()
		if abs(changePct) >= cfg.PriceChangePct {
			m.fire(Alert{Kind: AlertPriceChange, Symbol: q.Symbol, Magnitude: changePct, Price: q.Price, At: now})
		}
		if q.Open.GreaterThan(decimal.Zero) {
			gapPct, _ := q.Open.Sub(q.PrevClose).Div(q.PrevClose).Mul(decimal.NewFromInt(100)).Float64()
			if abs(gapPct) >= cfg.GapPct {
				m.fire(Alert{Kind: AlertGap, Symbol: q.Symbol, Magnitude: gapPct, Price: q.Price, At: now})
			}
		}
	}

	window := m.volumes[q.Symbol]
	if len(window) >= cfg.BaselineWindow {
		var sum int64
		for _, v := range window {
			sum += v
		}
		baseline := float64(sum) / float64(len(window))
		if baseline > 0 {
			ratio := float64(q.Volume) / baseline
			if ratio >= cfg.VolumeSpikeRatio {
				m.fire(Alert{Kind: AlertVolumeSpike, Symbol: q.Symbol, Magnitude: ratio, Price: q.Price, At: now})
			}
		}
	}
	window = append(window, q.Volume)
	if len(window) > cfg.BaselineWindow {
		window = window[len(window)-cfg.BaselineWindow:]
	}
	m.volumes[q.Symbol] = window
}

func (m *Monitor) fire(a Alert) {
	key := a.Symbol + "/" + string(a.Kind)
	if last, ok := m.lastFired[key]; ok && a.At.Sub(last) < alertCooldown {
		return
	}
	m.lastFired[key] = a.At
	select {
	case m.alerts <- a:
		logger.Infof("monitor alert: %s %s magnitude=%.2f price=%s", a.Symbol, a.Kind, a.Magnitude, a.Price)
	default:
		logger.Warnf("monitor alert dropped, buffer full: %s %s", a.Symbol, a.Kind)
	}
}

// Run polls on the configured interval until ctx is done. It owns its
// goroutine: a slow quote fetch delays the next poll, nothing else.
// gate, if non-nil, is consulted before each pass; false skips the
// poll (market closed, monitor disabled).
func (m *Monitor) Run(ctx context.Context, interval time.Duration, gate func() bool) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if gate != nil && !gate() {
				continue
			}
			m.Poll(ctx)
		}
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

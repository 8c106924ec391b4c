package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"quorum/internal/agents"
	"quorum/internal/config"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/marketdata"
	"quorum/internal/monitor"
	"quorum/internal/notifier"
	"quorum/internal/pipeline"
	"quorum/internal/provider"
	"quorum/internal/risk"
	"quorum/internal/scheduler"
	"quorum/internal/store"
	httpapi "quorum/internal/transport/http"
)

// App owns the wired service: config watcher, ledger, risk manager,
// pipeline runner, monitor, scheduler and the HTTP surface.
type App struct {
	watcher *config.Watcher
	book    *ledger.SimLedger
	journal *store.GormStore
	riskMgr *risk.Manager
	runner  *pipeline.Runner
	monitor *monitor.Monitor
	sched   *scheduler.Scheduler
	http    *httpapi.Server
	notify  notifier.TextNotifier
	cfgFn   func() *config.Config
	llmLog  *os.File
}

// Builder assembles an App. The overridable constructors exist for
// tests; production uses the defaults.
type Builder struct {
	ConfigPath string

	// Overrides, nil means default.
	Invoker provider.Invoker
	Market  marketdata.Source
	Journal *store.GormStore
	Notify  notifier.TextNotifier
}

func (b *Builder) Build(ctx context.Context) (*App, error) {
	cfg, err := config.Load(b.ConfigPath)
	if err != nil {
		return nil, err
	}
	watcher := config.NewWatcher(b.ConfigPath, cfg)
	cfgFn := watcher.Snapshot

	logger.SetLevel(cfg.App.LogLevel)

	var llmLog *os.File
	if path := strings.TrimSpace(cfg.App.LLMLogPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		llmLog, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		logger.SetLLMWriter(llmLog)
	}

	invoker := &swappableInvoker{}
	if b.Invoker != nil {
		invoker.swap(b.Invoker)
	} else {
		registry, err := provider.NewRegistry(cfg.AI)
		if err != nil {
			return nil, err
		}
		invoker.swap(registry)
	}
	watcher.OnSwap(func(next *config.Config) {
		logger.SetLevel(next.App.LogLevel)
		if b.Invoker == nil {
			if registry, err := provider.NewRegistry(next.AI); err != nil {
				logger.Errorf("config reload: rebuilding providers failed, keeping previous: %v", err)
			} else {
				invoker.swap(registry)
			}
		}
	})

	prompts, err := agents.LoadPrompts(cfg.AI.PromptsPath)
	if err != nil {
		return nil, err
	}

	journal := b.Journal
	if journal == nil && cfg.Store.Path != "" {
		journal, err = store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
	}

	var orderJournal ledger.Journal
	if journal != nil {
		orderJournal = journal
	}
	book := ledger.New(ledger.Options{
		InitialCash:        decimal.NewFromFloat(cfg.Trading.InitialCash),
		SlippageRate:       decimal.NewFromFloat(cfg.Trading.SlippageRate),
		CommissionPerShare: decimal.NewFromFloat(cfg.Trading.CommissionPerShare),
		CommissionMin:      decimal.NewFromFloat(cfg.Trading.CommissionMin),
		Journal:            orderJournal,
	})

	riskMgr := risk.NewManager(book, func() risk.Limits {
		return risk.LimitsFromConfig(cfgFn().Risk)
	})

	notify := b.Notify
	if notify == nil {
		notify = notifier.FromConfig(cfg.Notify)
	}

	market := b.Market
	if market == nil {
		market = marketdata.NewYahooSource()
	}

	machine := pipeline.NewMachine(pipeline.MachineOptions{
		Invoker: invoker,
		Prompts: prompts,
		Market:  market,
		Book:    book,
		Prices:  book,
		RiskMgr: riskMgr,
		Journal: journal,
		Notify:  func(text string) { notifier.Push(notify, text) },
		CfgFn:   cfgFn,
	})
	runner := pipeline.NewRunner(machine, func() time.Duration {
		return time.Duration(cfgFn().Pipeline.MinRunIntervalSec) * time.Second
	})

	mon := monitor.New(market, func() (config.MonitorConfig, []string) {
		c := cfgFn()
		return c.Monitor, c.Trading.Watchlist
	}, func(symbol string, q marketdata.Quote) {
		book.UpdatePrice(symbol, q.Price)
	})

	a := &App{
		watcher: watcher,
		book:    book,
		journal: journal,
		riskMgr: riskMgr,
		runner:  runner,
		monitor: mon,
		notify:  notify,
		cfgFn:   cfgFn,
		llmLog:  llmLog,
	}

	a.sched = scheduler.New(cfgFn, scheduler.Tasks{
		Analyze: func(ctx context.Context, symbol string) {
			runner.Trigger(ctx, symbol, pipeline.TriggerInterval)
		},
		Sweep: func(ctx context.Context) {
			closed, err := riskMgr.Sweep(ctx)
			if err != nil {
				logger.Errorf("risk sweep failed: %v", err)
				return
			}
			for _, o := range closed {
				notifier.Push(notify, fmt.Sprintf("%s closed %s qty=%s @ %s (%s)",
					o.Origin, o.Symbol, o.Quantity, o.FillPrice, o.Reason))
			}
		},
		DailyReport: func(ctx context.Context) {
			a.sendDailyReport(ctx)
		},
	})

	a.http, err = httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Book:    book,
		Runner:  runner,
		RiskMgr: riskMgr,
		Store:   journal,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// swappableInvoker lets a config reload replace the provider registry
// without restarting in-flight consumers.
type swappableInvoker struct {
	mu    sync.RWMutex
	inner provider.Invoker
}

func (s *swappableInvoker) swap(inv provider.Invoker) {
	s.mu.Lock()
	s.inner = inv
	s.mu.Unlock()
}

func (s *swappableInvoker) Invoke(ctx context.Context, role, system, user string) (provider.Result, error) {
	s.mu.RLock()
	inv := s.inner
	s.mu.RUnlock()
	return inv.Invoke(ctx, role, system, user)
}

// Run starts every component and blocks until ctx is cancelled. In-
// flight pipeline runs are waited out before returning.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.watcher.Run(gctx) })
	g.Go(func() error { return a.sched.Run(gctx) })
	g.Go(func() error { return a.http.Start(gctx) })
	g.Go(func() error {
		// Own goroutine: a slow Yahoo call delays the next quote
		// poll, never the scheduler's analysis and sweep ticks.
		interval := time.Duration(a.cfgFn().Trading.MonitorIntervalSec) * time.Second
		a.monitor.Run(gctx, interval, a.monitorOpen)
		return nil
	})
	g.Go(func() error {
		a.consumeAlerts(gctx)
		return nil
	})

	err := g.Wait()
	a.runner.Wait()
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.llmLog != nil {
		_ = a.llmLog.Close()
	}
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// monitorOpen gates the quote poller: only while the monitor is
// enabled and the market is in session.
func (a *App) monitorOpen() bool {
	cfg := a.cfgFn()
	if !cfg.Monitor.Enabled {
		return false
	}
	w, err := scheduler.ParseWindow(cfg.Trading)
	if err != nil {
		return false
	}
	return w.Contains(time.Now())
}

// consumeAlerts feeds monitor alerts into the pipeline when the config
// allows alert-triggered runs.
func (a *App) consumeAlerts(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-a.monitor.Alerts():
			if !a.cfgFn().Monitor.TriggerPipelineRun {
				continue
			}
			logger.Infof("alert %s on %s (%.2f), triggering run", alert.Kind, alert.Symbol, alert.Magnitude)
			a.runner.Trigger(ctx, alert.Symbol, pipeline.TriggerAlert)
		}
	}
}

func (a *App) sendDailyReport(ctx context.Context) {
	acct, err := a.book.AccountInfo(ctx)
	if err != nil {
		logger.Errorf("daily report: account info failed: %v", err)
		return
	}
	positions, err := a.book.Positions(ctx)
	if err != nil {
		logger.Errorf("daily report: positions failed: %v", err)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Daily report*\n")
	fmt.Fprintf(&b, "total=%s cash=%s positions=%s\n", acct.TotalValue.Round(2), acct.Cash.Round(2), acct.PositionValue.Round(2))
	fmt.Fprintf(&b, "realized today=%s orders today=%d\n", a.book.TodayRealizedPnL().Round(2), a.book.TodayOrderCount())
	for _, p := range positions {
		fmt.Fprintf(&b, "%s qty=%s avg=%s last=%s unrealized=%s%%\n",
			p.Symbol, p.Quantity, p.AvgPrice.Round(2), p.LastPrice.Round(2),
			p.UnrealizedRatio().Mul(decimal.NewFromInt(100)).Round(2))
	}
	if halted := a.riskMgr.Halted(); len(halted) > 0 {
		fmt.Fprintf(&b, "halted: %v\n", halted)
	}
	report := b.String()
	logger.InfoBlock(report)
	notifier.Push(a.notify, report)
}

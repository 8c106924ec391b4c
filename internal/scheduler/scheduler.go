package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"quorum/internal/config"
	"quorum/internal/logger"
)

// Tasks are the callbacks the scheduler drives. All of them must be
// non-blocking or dispatch their real work asynchronously; a slow task
// stalls every loop sharing its ticker.
type Tasks struct {
	// Analyze is invoked per watchlist symbol on the analysis cadence.
	Analyze func(ctx context.Context, symbol string)
	// Sweep runs the stop-loss/take-profit pass.
	Sweep func(ctx context.Context)
	// DailyReport fires on the configured cron expression.
	DailyReport func(ctx context.Context)
}

// Scheduler drives the periodic work: analysis runs and risk sweeps
// inside the trading window, and the daily report on its cron
// expression. The quote monitor runs its own loop elsewhere so its
// network fetches never sit on this timer goroutine. Interval and
// watchlist changes picked up from the config snapshot each tick.
type Scheduler struct {
	cfgFn func() *config.Config
	tasks Tasks
	nowFn func() time.Time
}

func New(cfgFn func() *config.Config, tasks Tasks) *Scheduler {
	return &Scheduler{cfgFn: cfgFn, tasks: tasks, nowFn: time.Now}
}

// SetClock overrides the time source (tests only).
func (s *Scheduler) SetClock(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// Run blocks until ctx is cancelled. The tickers are created from the
// config snapshot at start; interval changes require a restart, window
// and watchlist changes do not.
func (s *Scheduler) Run(ctx context.Context) error {
	cfg := s.cfgFn()
	window, err := ParseWindow(cfg.Trading)
	if err != nil {
		return err
	}

	c := cron.New(cron.WithLocation(window.Location()))
	if s.tasks.DailyReport != nil && cfg.Trading.DailyReportCron != "" {
		_, err := c.AddFunc(cfg.Trading.DailyReportCron, func() { s.tasks.DailyReport(ctx) })
		if err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	analysisTick := time.NewTicker(secondsOr(cfg.Trading.AnalysisIntervalSec, 300))
	defer analysisTick.Stop()
	riskTick := time.NewTicker(secondsOr(cfg.Trading.RiskCheckIntervalSec, 60))
	defer riskTick.Stop()

	logger.Infof("scheduler started: analysis=%ds risk=%ds report=%q",
		cfg.Trading.AnalysisIntervalSec, cfg.Trading.RiskCheckIntervalSec,
		cfg.Trading.DailyReportCron)

	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler stopped")
			return ctx.Err()

		case <-analysisTick.C:
			if !s.inWindow(window) {
				logger.Debugf("analysis tick outside trading window, dropped")
				continue
			}
			if s.tasks.Analyze == nil {
				continue
			}
			for _, symbol := range s.cfgFn().Trading.Watchlist {
				s.tasks.Analyze(ctx, symbol)
			}

		case <-riskTick.C:
			if s.tasks.Sweep == nil || !s.inWindow(window) {
				continue
			}
			s.tasks.Sweep(ctx)
		}
	}
}

// inWindow re-parses the window from the current config snapshot so
// hot-reloaded session times take effect; the startup window is the
// fallback when the snapshot fails to parse.
func (s *Scheduler) inWindow(initial Window) bool {
	w, err := ParseWindow(s.cfgFn().Trading)
	if err != nil {
		w = initial
	}
	return w.Contains(s.nowFn())
}

func secondsOr(sec, fallback int) time.Duration {
	if sec <= 0 {
		sec = fallback
	}
	return time.Duration(sec) * time.Second
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/agents"
	"quorum/internal/broker"
	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/marketdata"
	"quorum/internal/pkg/text"
	"quorum/internal/provider"
	"quorum/internal/risk"
	"quorum/internal/store"
)

// PriceSink receives fresh quotes so the book's mark prices stay
// current while a run executes.
type PriceSink interface {
	UpdatePrice(symbol string, price decimal.Decimal)
}

// DecisionJournal persists terminal decisions. Optional; failures are
// logged, never fail the run.
type DecisionJournal interface {
	AppendDecision(ctx context.Context, d store.DecisionRecord) error
}

// Machine executes one run through the staged pipeline:
// AnalyzingParallel → Debating → Synthesizing → RiskDiscussing →
// Gating → Terminal. Every run works against the config snapshot
// captured when it starts; hot reloads only affect later runs.
type Machine struct {
	invoker provider.Invoker
	prompts *agents.Prompts
	market  marketdata.Source
	book    risk.Book
	prices  PriceSink
	riskMgr *risk.Manager
	journal DecisionJournal
	notify  func(text string)
	cfgFn   func() *config.Config
	nowFn   func() time.Time
}

type MachineOptions struct {
	Invoker provider.Invoker
	Prompts *agents.Prompts
	Market  marketdata.Source
	Book    risk.Book
	Prices  PriceSink
	RiskMgr *risk.Manager
	Journal DecisionJournal
	Notify  func(text string)
	CfgFn   func() *config.Config
}

func NewMachine(opts MachineOptions) *Machine {
	m := &Machine{
		invoker: opts.Invoker,
		prompts: opts.Prompts,
		market:  opts.Market,
		book:    opts.Book,
		prices:  opts.Prices,
		riskMgr: opts.RiskMgr,
		journal: opts.Journal,
		notify:  opts.Notify,
		cfgFn:   opts.CfgFn,
		nowFn:   time.Now,
	}
	return m
}

// SetClock overrides the time source (tests only).
func (m *Machine) SetClock(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

// advance moves the run to the next stage, bumping the step counter
// and enforcing the recursion limit. Returns false when the run must
// terminate instead.
func (m *Machine) advance(run *Run, next Stage, limit int) bool {
	run.Steps++
	if run.Steps > limit {
		m.fail(run, run.Stage, FailReasonRecursion,
			fmt.Sprintf("step counter %d exceeded limit %d", run.Steps, limit))
		return false
	}
	run.Stage = next
	logger.Debugf("run %s: %s (step %d)", run.ID, next, run.Steps)
	return true
}

// checkpoint is the cooperative cancellation point between stages.
func (m *Machine) checkpoint(ctx context.Context, run *Run) bool {
	if err := ctx.Err(); err != nil {
		run.Stage = StageTerminal
		run.Status = StatusAborted
		run.FailReason = "cancelled between stages"
		run.Trail = append(run.Trail, "run cancelled between stages")
		return false
	}
	return true
}

func (m *Machine) fail(run *Run, at Stage, reason, detail string) {
	run.Stage = StageTerminal
	run.Status = StatusFailed
	run.FailStage = at
	run.FailReason = reason
	run.Trail = append(run.Trail, fmt.Sprintf("failed at %s: %s (%s)", at, reason, detail))
	logger.Warnf("run %s failed at %s: %s (%s)", run.ID, at, reason, detail)
}

// withRetry runs fn up to 1+retries times with backoff. Used for stage
// calls whose failure is likely transient.
func (m *Machine) withRetry(ctx context.Context, retries int, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, agents.ErrInsufficientAnalysts) || attempt == retries {
			return err
		}
		wait := 500 * time.Millisecond << attempt
		logger.Warnf("stage call failed (attempt %d/%d), retrying in %s: %v", attempt+1, retries, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}

// Execute drives the run to a terminal status. It never returns a
// non-terminal run.
func (m *Machine) Execute(ctx context.Context, run *Run) *Run {
	cfg := m.cfgFn()
	limit := cfg.Pipeline.MaxRecursionLimit
	retries := cfg.Pipeline.StageRetries
	defer m.finish(run)

	// AnalyzingParallel
	if !m.checkpoint(ctx, run) || !m.advance(run, StageAnalyzing, limit) {
		return run
	}
	marketCtx := m.gatherMarketContext(ctx, run.Symbol)
	runner := agents.NewAnalystRunner(m.invoker, m.prompts, config.AnalystRoles, cfg.AI.MaxParallelCalls)
	err := m.withRetry(ctx, retries, func() error {
		outputs, aerr := runner.Run(ctx, run.Symbol, run.AsOf, marketCtx)
		run.Analysts = outputs
		return aerr
	})
	if err != nil {
		reason := "analysis_failed"
		if errors.Is(err, agents.ErrInsufficientAnalysts) {
			reason = agents.ErrInsufficientAnalysts.Error()
		}
		m.fail(run, StageAnalyzing, reason, err.Error())
		return run
	}
	run.Trail = append(run.Trail, fmt.Sprintf("analysis: %d reports collected", countSuccessful(run.Analysts)))

	// Debating
	if !m.checkpoint(ctx, run) || !m.advance(run, StageDebating, limit) {
		return run
	}
	debate := agents.NewDebateCoordinator(m.invoker, m.prompts, cfg.Pipeline.MaxDebateRounds)
	err = m.withRetry(ctx, retries, func() error {
		verdict, turns, derr := debate.Run(ctx, run.Symbol, run.Analysts)
		run.Turns = turns
		if derr == nil {
			run.Verdict = verdict
		}
		return derr
	})
	if err != nil {
		m.fail(run, StageDebating, "debate_synthesis_failed", err.Error())
		return run
	}
	run.Trail = append(run.Trail, fmt.Sprintf("debate: %d turns, verdict %s", len(run.Turns), run.Verdict.Side))

	// Synthesizing
	if !m.checkpoint(ctx, run) || !m.advance(run, StageSynthesizing, limit) {
		return run
	}
	synth := agents.NewSynthesizer(m.invoker, m.prompts)
	proposal := synth.Propose(ctx, run.Symbol, run.Analysts, run.Verdict)
	run.Proposal = &proposal
	run.Trail = append(run.Trail, fmt.Sprintf("proposal: %s qty=%s confidence=%.2f: %s",
		proposal.Direction, proposal.Quantity, proposal.Confidence, text.Truncate(proposal.Rationale, 240)))

	if proposal.Direction == agents.DirectionHold {
		m.terminalDecision(run, FinalDecision{
			Direction:   agents.DirectionHold,
			Gating:      "approved",
			ReasonTrail: append(append([]string{}, run.Trail...), "hold: nothing to admit"),
		}, StatusApproved)
		return run
	}

	// RiskDiscussing
	if !m.checkpoint(ctx, run) || !m.advance(run, StageRiskDiscussing, limit) {
		return run
	}
	riskRounds := agents.NewRiskRoundCoordinator(m.invoker, m.prompts, cfg.Pipeline.MaxRiskRounds, cfg.AI.MaxParallelCalls)
	err = m.withRetry(ctx, retries, func() error {
		opinions, advisory, rerr := riskRounds.Run(ctx, proposal)
		run.Opinions = opinions
		if rerr == nil {
			run.Advisory = &advisory
		}
		return rerr
	})
	if err != nil {
		m.fail(run, StageRiskDiscussing, "risk_gate_failed", err.Error())
		return run
	}
	run.Trail = append(run.Trail, fmt.Sprintf("risk discussion: %d opinions; portfolio manager approve=%v: %s",
		len(run.Opinions), run.Advisory.Approve, text.Truncate(run.Advisory.Reason, 240)))

	// Gating
	if !m.checkpoint(ctx, run) || !m.advance(run, StageGating, limit) {
		return run
	}
	m.gate(ctx, run, cfg, proposal)
	return run
}

// gate runs the numeric admission and writes the terminal decision.
func (m *Machine) gate(ctx context.Context, run *Run, cfg *config.Config, proposal agents.TradeProposal) {
	qty := m.sizeProposal(cfg, proposal)
	res, err := m.riskMgr.Admit(ctx, risk.AdmitRequest{
		Symbol:          run.Symbol,
		Direction:       broker.OrderSide(proposal.Direction),
		Quantity:        qty,
		AdvisoryApprove: run.Advisory.Approve,
		Trail:           run.Trail,
	})
	if err != nil {
		m.fail(run, StageGating, "ledger_error", err.Error())
		return
	}
	run.Trail = res.Trail
	if res.Admitted {
		m.terminalDecision(run, FinalDecision{
			Direction:   proposal.Direction,
			Quantity:    res.Quantity,
			Gating:      "approved",
			ReasonTrail: res.Trail,
		}, StatusApproved)
		return
	}
	m.terminalDecision(run, FinalDecision{
		Direction:   proposal.Direction,
		Quantity:    qty,
		Gating:      "rejected",
		ReasonTrail: append(append([]string{}, res.Trail...), "reason: "+res.Reason),
	}, StatusRejected)
	run.FailReason = res.Reason
}

// sizeProposal resolves a zero sizing hint to the configured default
// position value (buys) or the full held quantity (sells).
func (m *Machine) sizeProposal(cfg *config.Config, proposal agents.TradeProposal) decimal.Decimal {
	if proposal.Quantity.GreaterThan(decimal.Zero) {
		return proposal.Quantity
	}
	switch proposal.Direction {
	case agents.DirectionBuy:
		price, ok := m.book.LastPrice(proposal.Symbol)
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(cfg.Risk.DefaultPositionValue).Div(price).Floor()
	case agents.DirectionSell:
		if pos, ok := m.book.Position(proposal.Symbol); ok {
			return pos.Quantity
		}
	}
	return decimal.Zero
}

func (m *Machine) terminalDecision(run *Run, decision FinalDecision, status Status) {
	run.Stage = StageTerminal
	run.Status = status
	run.Decision = &decision
	logger.Infof("run %s terminal: %s %s qty=%s gating=%s",
		run.ID, run.Symbol, decision.Direction, decision.Quantity, decision.Gating)
}

// finish stamps the end time, journals the terminal artifact and
// pushes the notification. Runs exactly once per run.
func (m *Machine) finish(run *Run) {
	if !run.Status.Terminal() {
		// Defensive close for unexpected exits.
		run.Status = StatusFailed
		run.Stage = StageTerminal
		if run.FailReason == "" {
			run.FailReason = "incomplete run"
		}
	}
	run.FinishedAt = m.nowFn()

	if m.journal != nil {
		rec := store.DecisionRecord{
			RunID:       run.ID,
			Symbol:      run.Symbol,
			Trigger:     string(run.Trigger),
			Gating:      string(run.Status),
			FailStage:   string(run.FailStage),
			ReasonTrail: run.Trail,
			StartedAt:   run.StartedAt,
			FinishedAt:  run.FinishedAt,
		}
		if run.Decision != nil {
			rec.Direction = string(run.Decision.Direction)
			rec.Quantity = run.Decision.Quantity.String()
			rec.Gating = run.Decision.Gating
			rec.ReasonTrail = run.Decision.ReasonTrail
		}
		if run.Proposal != nil {
			rec.Confidence = run.Proposal.Confidence
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.journal.AppendDecision(ctx, rec); err != nil {
			logger.Errorf("journaling decision %s failed: %v", run.ID, err)
		}
	}
	if m.notify != nil {
		m.notify(summarize(run))
	}
}

func summarize(run *Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s %s: %s", run.Symbol, run.ID[:8], run.Status)
	if run.Decision != nil {
		fmt.Fprintf(&b, " %s qty=%s", run.Decision.Direction, run.Decision.Quantity)
	}
	if run.FailReason != "" {
		fmt.Fprintf(&b, " (%s)", run.FailReason)
	}
	return b.String()
}

// gatherMarketContext assembles the quote and indicator block for the
// analysts. Missing market data degrades the context, it never blocks
// the run.
func (m *Machine) gatherMarketContext(ctx context.Context, symbol string) string {
	if m.market == nil {
		return "(no market data source configured)"
	}
	var b strings.Builder
	q, err := m.market.Quote(ctx, symbol)
	if err != nil {
		logger.Warnf("quote %s unavailable for run context: %v", symbol, err)
		b.WriteString("(live quote unavailable)\n")
	} else {
		if m.prices != nil {
			m.prices.UpdatePrice(symbol, q.Price)
		}
		fmt.Fprintf(&b, "## Quote\nprice=%s open=%s high=%s low=%s prev_close=%s volume=%d\n",
			q.Price, q.Open, q.High, q.Low, q.PrevClose, q.Volume)
	}
	candles, err := m.market.Candles(ctx, symbol, 120)
	if err != nil {
		logger.Warnf("candles %s unavailable for run context: %v", symbol, err)
		return strings.TrimSpace(b.String())
	}
	snap, err := marketdata.ComputeIndicators(candles)
	if err == nil {
		fmt.Fprintf(&b, "\n## Indicators\n%s\n", snap.Render())
	}
	return strings.TrimSpace(b.String())
}

func countSuccessful(outputs []agents.AnalystOutput) int {
	n := 0
	for _, o := range outputs {
		if o.Success {
			n++
		}
	}
	return n
}

package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quorum/internal/agents"
	"quorum/internal/broker"
	"quorum/internal/config"
	"quorum/internal/ledger"
	"quorum/internal/provider"
	"quorum/internal/risk"
)

// fakeInvoker scripts replies per role. An unscripted role replies with
// a generic line; errs force failures; gate blocks every call until
// released when set.
type fakeInvoker struct {
	mu      sync.Mutex
	replies map[string]string
	errs    map[string]error
	calls   map[string]int
	gate    chan struct{}
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		replies: make(map[string]string),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, role, system, user string) (provider.Result, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return provider.Result{}, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls[role]++
	err := f.errs[role]
	reply, ok := f.replies[role]
	f.mu.Unlock()
	if err != nil {
		return provider.Result{}, err
	}
	if !ok {
		reply = "generic reply from " + role
	}
	return provider.Result{Text: reply, Model: "fake"}, nil
}

func (f *fakeInvoker) callCount(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

// bullishScript makes every stage succeed and end in a buy proposal.
func bullishScript(f *fakeInvoker) {
	f.replies[config.RoleResearchManager] = "```json\n{\"side\": \"favor_bull\", \"summary\": \"upside\"}\n```"
	f.replies[config.RoleTrader] = "```json\n{\"direction\": \"buy\", \"quantity\": 10, \"confidence\": 0.8, \"rationale\": \"momentum\"}\n```"
	f.replies[config.RoleRiskyAnalyst] = "APPROVE: asymmetric upside."
	f.replies[config.RoleSafeAnalyst] = "MODIFY: trim the size."
	f.replies[config.RoleNeutralAnalyst] = "APPROVE: balanced."
	f.replies[config.RolePortfolioManager] = "```json\n{\"decision\": \"approve\", \"reason\": \"risk acceptable\"}\n```"
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Pipeline.MaxDebateRounds = 1
	cfg.Pipeline.MaxRiskRounds = 1
	cfg.Pipeline.MaxRecursionLimit = 12
	cfg.Pipeline.StageRetries = 0
	cfg.Pipeline.MinRunIntervalSec = 300
	cfg.Risk.MaxPositionPerStock = 0.2
	cfg.Risk.MaxPortfolioRisk = 0.8
	cfg.Risk.MaxDailyLoss = 0.05
	cfg.Risk.MaxOrdersPerDay = 10
	cfg.Risk.MinOrderIntervalSec = 0
	cfg.Risk.DefaultPositionValue = 5000
	cfg.AI.MaxParallelCalls = 4
	return cfg
}

type fixture struct {
	invoker *fakeInvoker
	book    *ledger.SimLedger
	machine *Machine
	cfg     *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	invoker := newFakeInvoker()
	book := ledger.New(ledger.Options{InitialCash: decimal.NewFromInt(100000)})
	book.UpdatePrice("AAPL", decimal.NewFromInt(100))
	prompts, err := agents.LoadPrompts("")
	require.NoError(t, err)
	riskMgr := risk.NewManager(book, func() risk.Limits { return risk.LimitsFromConfig(cfg.Risk) })
	machine := NewMachine(MachineOptions{
		Invoker: invoker,
		Prompts: prompts,
		Book:    book,
		Prices:  book,
		RiskMgr: riskMgr,
		CfgFn:   func() *config.Config { return cfg },
	})
	return &fixture{invoker: invoker, book: book, machine: machine, cfg: cfg}
}

func TestBullishRunApprovedWithOneFilledOrder(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusApproved, run.Status)
	require.Equal(t, StageTerminal, run.Stage)
	require.NotNil(t, run.Decision)
	require.Equal(t, agents.DirectionBuy, run.Decision.Direction)
	require.True(t, run.Decision.Quantity.Equal(decimal.NewFromInt(10)))
	require.NotEmpty(t, run.Decision.ReasonTrail)

	orders := fx.book.TodayOrders()
	require.Len(t, orders, 1)
	require.Equal(t, broker.StatusFilled, orders[0].Status)
	require.Equal(t, broker.SideBuy, orders[0].Side)
}

func TestStepsIncreaseAndStayWithinLimit(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, 5, run.Steps) // one per stage transition
	require.LessOrEqual(t, run.Steps, fx.cfg.Pipeline.MaxRecursionLimit)
}

func TestRecursionLimitTerminatesRun(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.cfg.Pipeline.MaxRecursionLimit = 2

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, FailReasonRecursion, run.FailReason)
	require.Empty(t, fx.book.TodayOrders())
}

func TestExhaustedPositionCapRejectsWithoutOrder(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)

	// Fill the per-symbol cap up front: 20% of ~100k at 100/share.
	_, err := fx.book.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Side: broker.SideBuy, Quantity: decimal.NewFromInt(200), Type: broker.TypeMarket,
	})
	require.NoError(t, err)
	before := fx.book.TodayOrderCount()

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusRejected, run.Status)
	require.Equal(t, risk.ReasonPositionCap, run.FailReason)
	require.Equal(t, "rejected", run.Decision.Gating)
	require.Equal(t, before, fx.book.TodayOrderCount())
}

func TestAllAnalystsFailingFailsRunWithoutProposal(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	for _, role := range config.AnalystRoles {
		fx.invoker.errs[role] = context.DeadlineExceeded
	}

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusFailed, run.Status)
	require.Equal(t, StageAnalyzing, run.FailStage)
	require.Equal(t, agents.ErrInsufficientAnalysts.Error(), run.FailReason)
	require.Nil(t, run.Proposal)
	require.Empty(t, fx.book.TodayOrders())
	require.Zero(t, fx.invoker.callCount(config.RoleTrader))
}

func TestHoldProposalShortCircuitsRiskStages(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.invoker.replies[config.RoleTrader] = "```json\n{\"direction\": \"hold\", \"rationale\": \"no edge\"}\n```"

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusApproved, run.Status)
	require.Equal(t, agents.DirectionHold, run.Decision.Direction)
	require.Empty(t, fx.book.TodayOrders())
	require.Zero(t, fx.invoker.callCount(config.RolePortfolioManager))
	require.Zero(t, fx.invoker.callCount(config.RoleRiskyAnalyst))
}

func TestAdvisoryRejectEndsRejectedWithoutOrder(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.invoker.replies[config.RolePortfolioManager] = "```json\n{\"decision\": \"reject\", \"reason\": \"too risky\"}\n```"

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusRejected, run.Status)
	require.Equal(t, risk.ReasonAdvisoryReject, run.FailReason)
	require.Empty(t, fx.book.TodayOrders())
}

func TestDefaultSizingWhenTraderOmitsQuantity(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.invoker.replies[config.RoleTrader] = "```json\n{\"direction\": \"buy\", \"quantity\": 0, \"confidence\": 0.6, \"rationale\": \"go\"}\n```"

	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(context.Background(), run)

	require.Equal(t, StatusApproved, run.Status)
	// 5000 default position value at price 100 = 50 shares.
	require.True(t, run.Decision.Quantity.Equal(decimal.NewFromInt(50)),
		"got %s", run.Decision.Quantity)
}

func TestCancelledContextAbortsRun(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	run := NewRun("AAPL", TriggerInterval, time.Now())
	fx.machine.Execute(ctx, run)

	require.Equal(t, StatusAborted, run.Status)
	require.Empty(t, fx.book.TodayOrders())
}

func TestRunnerCoalescesConcurrentTriggers(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.invoker.gate = make(chan struct{})

	runner := NewRunner(fx.machine, func() time.Duration { return 0 })
	first, ok := runner.Trigger(context.Background(), "AAPL", TriggerInterval)
	require.True(t, ok)
	require.NotNil(t, first)

	second, ok := runner.Trigger(context.Background(), "AAPL", TriggerInterval)
	require.False(t, ok)
	require.Nil(t, second)

	close(fx.invoker.gate)
	runner.Wait()
	require.Equal(t, StatusApproved, first.Status)

	// With the first run terminal, a new trigger dispatches again.
	_, ok = runner.Trigger(context.Background(), "AAPL", TriggerInterval)
	require.True(t, ok)
	runner.Wait()
}

func TestRunnerEnforcesAlertMinInterval(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)

	now := time.Now()
	runner := NewRunner(fx.machine, func() time.Duration { return 5 * time.Minute })
	runner.SetClock(func() time.Time { return now })

	first, ok := runner.Trigger(context.Background(), "AAPL", TriggerAlert)
	require.True(t, ok)
	runner.Wait()
	require.True(t, first.Status.Terminal())

	// Too soon for another alert run.
	_, ok = runner.Trigger(context.Background(), "AAPL", TriggerAlert)
	require.False(t, ok)

	// Interval triggers ignore the alert spacing rule.
	_, ok = runner.Trigger(context.Background(), "AAPL", TriggerInterval)
	require.True(t, ok)
	runner.Wait()

	// After the interval passes, alerts run again.
	now = now.Add(6 * time.Minute)
	_, ok = runner.Trigger(context.Background(), "AAPL", TriggerAlert)
	require.True(t, ok)
	runner.Wait()
}

func TestRunnerIndependentSymbolsRunConcurrently(t *testing.T) {
	fx := newFixture(t)
	bullishScript(fx.invoker)
	fx.book.UpdatePrice("MSFT", decimal.NewFromInt(100))
	fx.invoker.gate = make(chan struct{})

	runner := NewRunner(fx.machine, func() time.Duration { return 0 })
	_, ok := runner.Trigger(context.Background(), "AAPL", TriggerInterval)
	require.True(t, ok)
	_, ok = runner.Trigger(context.Background(), "MSFT", TriggerInterval)
	require.True(t, ok)
	require.Len(t, runner.ActiveRuns(), 2)

	close(fx.invoker.gate)
	runner.Wait()
	require.Empty(t, runner.ActiveRuns())
}

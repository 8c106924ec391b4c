package agents

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/pkg/jsonutil"
	"quorum/internal/provider"
)

var riskPersonas = []string{
	config.RoleRiskyAnalyst,
	config.RoleSafeAnalyst,
	config.RoleNeutralAnalyst,
}

// RiskRoundCoordinator runs the bounded persona discussion over a
// proposal. Unlike the debate, personas within a round are independent
// and run in parallel; each round sees the prior rounds' opinions.
// After the rounds the portfolio manager issues the advisory verdict.
type RiskRoundCoordinator struct {
	invoker     provider.Invoker
	prompts     *Prompts
	rounds      int
	maxParallel int
}

func NewRiskRoundCoordinator(invoker provider.Invoker, prompts *Prompts, rounds, maxParallel int) *RiskRoundCoordinator {
	if rounds < 1 {
		rounds = 1
	}
	if maxParallel <= 0 {
		maxParallel = len(riskPersonas)
	}
	return &RiskRoundCoordinator{invoker: invoker, prompts: prompts, rounds: rounds, maxParallel: maxParallel}
}

// Run collects the persona opinions and the advisory gate decision.
// The error is non-nil only when the portfolio-manager call fails; a
// silent persona just contributes no opinion.
func (r *RiskRoundCoordinator) Run(ctx context.Context, proposal TradeProposal) ([]RiskOpinion, Advisory, error) {
	var opinions []RiskOpinion
	for round := 1; round <= r.rounds; round++ {
		opinions = append(opinions, r.playRound(ctx, round, proposal, opinions)...)
	}
	advisory, err := r.gate(ctx, proposal, opinions)
	if err != nil {
		return opinions, Advisory{}, err
	}
	logger.Infof("risk discussion for %s: %d opinions, advisory approve=%v", proposal.Symbol, len(opinions), advisory.Approve)
	return opinions, advisory, nil
}

func (r *RiskRoundCoordinator) playRound(ctx context.Context, round int, proposal TradeProposal, prior []RiskOpinion) []RiskOpinion {
	results := make([]RiskOpinion, len(riskPersonas))
	ok := make([]bool, len(riskPersonas))
	var mu sync.Mutex

	user := r.renderContext(proposal, prior)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxParallel)
	for i, persona := range riskPersonas {
		i, persona := i, persona
		g.Go(func() error {
			res, err := r.invoker.Invoke(gctx, persona, r.prompts.For(persona), user)
			if err != nil || strings.TrimSpace(res.Text) == "" {
				logger.Warnf("risk persona %s silent in round %d: %v", persona, round, err)
				return nil
			}
			mu.Lock()
			results[i] = RiskOpinion{Persona: persona, Round: round, Stance: parseStance(res.Text), Text: res.Text}
			ok[i] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]RiskOpinion, 0, len(riskPersonas))
	for i := range results {
		if ok[i] {
			out = append(out, results[i])
		}
	}
	return out
}

func (r *RiskRoundCoordinator) gate(ctx context.Context, proposal TradeProposal, opinions []RiskOpinion) (Advisory, error) {
	user := r.renderContext(proposal, opinions) + "\n\nMake the final call."
	res, err := r.invoker.Invoke(ctx, config.RolePortfolioManager, r.prompts.For(config.RolePortfolioManager), user)
	if err != nil {
		return Advisory{}, fmt.Errorf("portfolio manager gate: %w", err)
	}
	return parseAdvisory(res.Text), nil
}

func (r *RiskRoundCoordinator) renderContext(proposal TradeProposal, opinions []RiskOpinion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock: %s\n\n## Proposed trade\ndirection=%s quantity=%s confidence=%.2f\nrationale: %s\n",
		proposal.Symbol, proposal.Direction, proposal.Quantity, proposal.Confidence, proposal.Rationale)
	if len(opinions) > 0 {
		fmt.Fprintf(&b, "\n## Risk discussion so far\n%s\n", renderOpinions(opinions))
	}
	return b.String()
}

// parseStance reads the leading APPROVE/MODIFY/REJECT marker; replies
// that skip the convention count as modify (engaged, but not a vote).
func parseStance(text string) Stance {
	head := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.HasPrefix(head, "approve"):
		return StanceApprove
	case strings.HasPrefix(head, "reject"):
		return StanceReject
	default:
		return StanceModify
	}
}

// parseAdvisory reads the manager's json decision. An unparseable
// reply is a reject: the gate never defaults open.
func parseAdvisory(raw string) Advisory {
	doc, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return Advisory{Approve: false, Reason: "unparseable portfolio manager reply"}
	}
	decision := strings.ToLower(gjson.Get(doc, "decision").String())
	reason := gjson.Get(doc, "reason").String()
	if reason == "" {
		reason = strings.TrimSpace(raw)
	}
	return Advisory{Approve: decision == "approve", Reason: reason}
}

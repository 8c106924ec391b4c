package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/pkg/jsonutil"
	"quorum/internal/provider"
)

// DebateCoordinator runs the bounded bull/bear exchange. The debate is
// strictly sequential: each turn sees the full transcript so far. A
// failing turn is retried once, then the debate truncates early — the
// run never fails just because a researcher went quiet.
type DebateCoordinator struct {
	invoker provider.Invoker
	prompts *Prompts
	rounds  int
}

func NewDebateCoordinator(invoker provider.Invoker, prompts *Prompts, rounds int) *DebateCoordinator {
	if rounds < 1 {
		rounds = 1
	}
	return &DebateCoordinator{invoker: invoker, prompts: prompts, rounds: rounds}
}

// Run plays the configured rounds and synthesizes the verdict from the
// transcript. Returns the verdict and the full transcript; the error
// is only non-nil when the synthesis call itself fails.
func (d *DebateCoordinator) Run(ctx context.Context, symbol string, analysts []AnalystOutput) (DebateVerdict, []DebateTurn, error) {
	reports := renderAnalystReports(analysts)
	var turns []DebateTurn

rounds:
	for round := 1; round <= d.rounds; round++ {
		for _, speaker := range []string{config.RoleBullResearcher, config.RoleBearResearcher} {
			text, ok := d.turn(ctx, speaker, symbol, reports, turns)
			if !ok {
				logger.Warnf("debate truncated at round %d for %s: %s failed twice", round, symbol, speaker)
				break rounds
			}
			turns = append(turns, DebateTurn{Round: round, Speaker: speaker, Text: text})
		}
	}

	verdict, err := d.synthesize(ctx, symbol, reports, turns)
	if err != nil {
		return DebateVerdict{}, turns, err
	}
	logger.Infof("debate verdict for %s after %d turns: %s", symbol, len(turns), verdict.Side)
	return verdict, turns, nil
}

// turn asks one speaker for their next argument, retrying once.
func (d *DebateCoordinator) turn(ctx context.Context, speaker, symbol, reports string, turns []DebateTurn) (string, bool) {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock: %s\n\n## Analyst reports\n%s\n", symbol, reports)
	if len(turns) > 0 {
		fmt.Fprintf(&b, "\n## Debate so far\n%s\n", renderTranscript(turns))
	}
	b.WriteString("\nMake your next argument.")
	user := b.String()

	for attempt := 0; attempt < 2; attempt++ {
		select {
		case <-ctx.Done():
			return "", false
		default:
		}
		res, err := d.invoker.Invoke(ctx, speaker, d.prompts.For(speaker), user)
		if err == nil && strings.TrimSpace(res.Text) != "" {
			return res.Text, true
		}
		if err != nil {
			logger.Warnf("debate turn %s failed (attempt %d): %v", speaker, attempt+1, err)
		}
	}
	return "", false
}

func (d *DebateCoordinator) synthesize(ctx context.Context, symbol, reports string, turns []DebateTurn) (DebateVerdict, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Stock: %s\n\n## Analyst reports\n%s\n", symbol, reports)
	if len(turns) > 0 {
		fmt.Fprintf(&b, "\n## Debate transcript\n%s\n", renderTranscript(turns))
	} else {
		b.WriteString("\n(The debate produced no turns; judge from the reports alone.)\n")
	}
	b.WriteString("\nIssue your verdict.")

	res, err := d.invoker.Invoke(ctx, config.RoleResearchManager, d.prompts.For(config.RoleResearchManager), b.String())
	if err != nil {
		return DebateVerdict{}, fmt.Errorf("verdict synthesis: %w", err)
	}
	return parseVerdict(res.Text), nil
}

// parseVerdict extracts the side from the manager's json reply; an
// unparseable reply counts as neutral, never as a failure.
func parseVerdict(raw string) DebateVerdict {
	verdict := DebateVerdict{Side: Neutral, Summary: strings.TrimSpace(raw)}
	doc, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return verdict
	}
	switch VerdictSide(gjson.Get(doc, "side").String()) {
	case FavorBull:
		verdict.Side = FavorBull
	case FavorBear:
		verdict.Side = FavorBear
	}
	if summary := gjson.Get(doc, "summary").String(); summary != "" {
		verdict.Summary = summary
	}
	return verdict
}

package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"quorum/internal/config"
	"quorum/internal/logger"
	"quorum/internal/pkg/jsonutil"
	"quorum/internal/provider"
)

// proposalSchema validates the shape of the trader's reply before any
// field is trusted.
var proposalSchema = jsonschema.MustCompileString("trade_proposal.json", `{
	"type": "object",
	"required": ["direction"],
	"properties": {
		"direction": {"type": "string", "enum": ["buy", "sell", "hold"]},
		"quantity": {"type": "number", "minimum": 0},
		"confidence": {"type": "number"},
		"rationale": {"type": "string"}
	}
}`)

// Synthesizer turns analyst reports plus the debate verdict into
// exactly one TradeProposal. It never fails: anything unusable —
// provider error, missing json, schema violation, no successful
// analyst — degrades to an explicit hold.
type Synthesizer struct {
	invoker provider.Invoker
	prompts *Prompts
}

func NewSynthesizer(invoker provider.Invoker, prompts *Prompts) *Synthesizer {
	return &Synthesizer{invoker: invoker, prompts: prompts}
}

func (s *Synthesizer) Propose(ctx context.Context, symbol string, analysts []AnalystOutput, verdict DebateVerdict) TradeProposal {
	hold := func(why string) TradeProposal {
		logger.Infof("synthesizer: holding %s: %s", symbol, why)
		return TradeProposal{Symbol: symbol, Direction: DirectionHold, Rationale: why}
	}

	anySuccess := false
	for _, a := range analysts {
		if a.Success {
			anySuccess = true
			break
		}
	}
	if !anySuccess {
		return hold("no analyst output to act on")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Stock: %s\n\n## Analyst reports\n%s\n", symbol, renderAnalystReports(analysts))
	fmt.Fprintf(&b, "\n## Research verdict (%s)\n%s\n", verdict.Side, verdict.Summary)
	b.WriteString("\nPropose your action.")

	res, err := s.invoker.Invoke(ctx, config.RoleTrader, s.prompts.For(config.RoleTrader), b.String())
	if err != nil {
		return hold(fmt.Sprintf("trader call failed: %v", err))
	}
	proposal, err := parseProposal(symbol, res.Text)
	if err != nil {
		return hold(fmt.Sprintf("unusable trader reply: %v", err))
	}
	logger.Infof("proposal for %s: %s qty=%s confidence=%.2f", symbol, proposal.Direction, proposal.Quantity, proposal.Confidence)
	return proposal
}

func parseProposal(symbol, raw string) (TradeProposal, error) {
	doc, ok := jsonutil.ExtractJSON(raw)
	if !ok {
		return TradeProposal{}, fmt.Errorf("no json object in reply")
	}
	var v any
	if err := json.Unmarshal([]byte(doc), &v); err != nil {
		return TradeProposal{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := proposalSchema.Validate(v); err != nil {
		return TradeProposal{}, fmt.Errorf("schema: %w", err)
	}
	p := TradeProposal{
		Symbol:     symbol,
		Direction:  Direction(gjson.Get(doc, "direction").String()),
		Quantity:   decimal.NewFromFloat(gjson.Get(doc, "quantity").Float()),
		Confidence: clamp01(gjson.Get(doc, "confidence").Float()),
		Rationale:  gjson.Get(doc, "rationale").String(),
	}
	if p.Quantity.IsNegative() {
		p.Quantity = decimal.Zero
	}
	return p, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

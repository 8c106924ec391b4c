package agents

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AnalystOutput is one analyst role's report. Immutable once produced.
type AnalystOutput struct {
	Role       string
	Content    string
	ProducedAt time.Time
	Success    bool
}

// DebateTurn is one utterance in the bull/bear exchange. Turns are
// append-only within a run; round and speaker identify the turn.
type DebateTurn struct {
	Round   int
	Speaker string // bull_researcher or bear_researcher
	Text    string
}

type VerdictSide string

const (
	FavorBull VerdictSide = "favor_bull"
	FavorBear VerdictSide = "favor_bear"
	Neutral   VerdictSide = "neutral"
)

// DebateVerdict is the research manager's synthesis of the debate.
type DebateVerdict struct {
	Side    VerdictSide
	Summary string
}

type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	DirectionHold Direction = "hold"
)

// TradeProposal is the synthesizer's single output: what to do, how
// much, and how sure. Quantity is a sizing hint in shares; zero means
// "use the default position size".
type TradeProposal struct {
	Symbol     string
	Direction  Direction
	Quantity   decimal.Decimal
	Confidence float64
	Rationale  string
}

type Stance string

const (
	StanceApprove Stance = "approve"
	StanceModify  Stance = "modify"
	StanceReject  Stance = "reject"
)

// RiskOpinion is one persona's take in one risk round.
type RiskOpinion struct {
	Persona string
	Round   int
	Stance  Stance
	Text    string
}

// Advisory is the portfolio manager's gate decision. It is advisory:
// the numeric risk checks still run and can turn an approve into a
// reject, never the reverse.
type Advisory struct {
	Approve bool
	Reason  string
}

func renderAnalystReports(outputs []AnalystOutput) string {
	var b strings.Builder
	for _, o := range outputs {
		if !o.Success {
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", o.Role, strings.TrimSpace(o.Content))
	}
	return strings.TrimSpace(b.String())
}

func renderTranscript(turns []DebateTurn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "[round %d] %s: %s\n", t.Round, t.Speaker, strings.TrimSpace(t.Text))
	}
	return strings.TrimSpace(b.String())
}

func renderOpinions(opinions []RiskOpinion) string {
	var b strings.Builder
	for _, o := range opinions {
		fmt.Fprintf(&b, "[round %d] %s (%s): %s\n", o.Round, o.Persona, o.Stance, strings.TrimSpace(o.Text))
	}
	return strings.TrimSpace(b.String())
}

package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quorum/internal/agents"
)

// Stage of the decision pipeline. Transitions are strictly forward; no
// stage is ever revisited within a run.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageAnalyzing      Stage = "analyzing_parallel"
	StageDebating       Stage = "debating"
	StageSynthesizing   Stage = "synthesizing"
	StageRiskDiscussing Stage = "risk_discussing"
	StageGating         Stage = "gating"
	StageTerminal       Stage = "terminal"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
	StatusAborted  Status = "aborted"
)

func (s Status) Terminal() bool { return s != StatusRunning }

type Trigger string

const (
	TriggerInterval Trigger = "interval"
	TriggerAlert    Trigger = "alert"
	TriggerManual   Trigger = "manual"
)

// FailReasonRecursion is recorded when the step counter exceeds the
// configured recursion limit, whatever stage the run was in.
const FailReasonRecursion = "recursion_exceeded"

// FinalDecision is the immutable terminal artifact of a run: the only
// data the pipeline exposes to the outside.
type FinalDecision struct {
	Direction   agents.Direction
	Quantity    decimal.Decimal
	Gating      string // approved | rejected
	ReasonTrail []string
}

// Run is one end-to-end pipeline invocation for a symbol. Owned
// exclusively by the state machine until it reaches a terminal status.
type Run struct {
	ID         string
	Symbol     string
	AsOf       time.Time
	Trigger    Trigger
	Stage      Stage
	Steps      int
	Status     Status
	StartedAt  time.Time
	FinishedAt time.Time

	Analysts []agents.AnalystOutput
	Turns    []agents.DebateTurn
	Verdict  agents.DebateVerdict
	Proposal *agents.TradeProposal
	Opinions []agents.RiskOpinion
	Advisory *agents.Advisory

	Decision   *FinalDecision
	FailStage  Stage
	FailReason string
	Trail      []string
}

func NewRun(symbol string, trigger Trigger, now time.Time) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		AsOf:      now,
		Trigger:   trigger,
		Stage:     StageIdle,
		Status:    StatusRunning,
		StartedAt: now,
	}
}

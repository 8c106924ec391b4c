package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/config"
)

// Reason codes for rejected admissions. These are expected outcomes,
// not errors; they end up in the decision reason trail.
const (
	ReasonPositionCap      = "position_cap_exceeded"
	ReasonPortfolioRisk    = "portfolio_risk_exceeded"
	ReasonDailyLoss        = "daily_loss_exceeded"
	ReasonOrderLimit       = "order_limit_reached"
	ReasonOrderInterval    = "order_interval_too_short"
	ReasonInvalidQuantity  = "invalid_quantity"
	ReasonInsufficientCash = "insufficient_cash"
	ReasonAdvisoryReject   = "advisory_reject"
	ReasonSymbolHalted     = "symbol_halted"
	// Trail marker, not a rejection: quantity was clamped down to the
	// largest admissible size.
	NoteSizeReduced = "size_reduced"
)

// Limits is the numeric rule set one admission check runs against. It
// is captured once at the start of a check; a config reload mid-check
// never changes the rules under it.
type Limits struct {
	MaxPositionPerStock decimal.Decimal // fraction of total account value
	MaxPortfolioRisk    decimal.Decimal // fraction of total account value
	MaxDailyLoss        decimal.Decimal // fraction of initial cash
	StopLossRatio       decimal.Decimal
	TakeProfitRatio     decimal.Decimal
	MaxOrdersPerDay     int
	MinOrderInterval    time.Duration
}

func LimitsFromConfig(rc config.RiskConfig) Limits {
	return Limits{
		MaxPositionPerStock: decimal.NewFromFloat(rc.MaxPositionPerStock),
		MaxPortfolioRisk:    decimal.NewFromFloat(rc.MaxPortfolioRisk),
		MaxDailyLoss:        decimal.NewFromFloat(rc.MaxDailyLoss),
		StopLossRatio:       decimal.NewFromFloat(rc.StopLossRatio),
		TakeProfitRatio:     decimal.NewFromFloat(rc.TakeProfitRatio),
		MaxOrdersPerDay:     rc.MaxOrdersPerDay,
		MinOrderInterval:    time.Duration(rc.MinOrderIntervalSec) * time.Second,
	}
}

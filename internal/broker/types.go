package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderStatus transitions are one-directional: new → filled | rejected |
// cancelled. A terminal order is never mutated again.
type OrderStatus string

const (
	StatusNew       OrderStatus = "new"
	StatusFilled    OrderStatus = "filled"
	StatusRejected  OrderStatus = "rejected"
	StatusCancelled OrderStatus = "cancelled"
)

func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

type Order struct {
	ID          string
	Symbol      string
	Side        OrderSide
	Quantity    decimal.Decimal
	Type        OrderType
	Status      OrderStatus
	SubmittedAt time.Time
	FilledAt    time.Time
	FillPrice   decimal.Decimal
	Commission  decimal.Decimal
	// Why the order exists: pipeline decision, stop_loss, take_profit.
	Origin string
	Reason string
}

// Position is keyed uniquely by symbol. Quantity is signed (long > 0);
// AvgPrice is the weighted-average entry cost and is never negative.
type Position struct {
	Symbol    string
	Quantity  decimal.Decimal
	AvgPrice  decimal.Decimal
	LastPrice decimal.Decimal
	UpdatedAt time.Time
}

// MarketValue is quantity × last known price.
func (p Position) MarketValue() decimal.Decimal {
	return p.Quantity.Mul(p.LastPrice)
}

// UnrealizedRatio is the fractional gain/loss against entry cost,
// e.g. -0.06 means the position is 6% under water.
func (p Position) UnrealizedRatio() decimal.Decimal {
	if p.AvgPrice.IsZero() || p.Quantity.IsZero() {
		return decimal.Zero
	}
	return p.LastPrice.Sub(p.AvgPrice).Div(p.AvgPrice)
}

// Account is a point-in-time snapshot of the simulated account.
type Account struct {
	Cash          decimal.Decimal
	InitialCash   decimal.Decimal
	PositionValue decimal.Decimal
	TotalValue    decimal.Decimal
	RealizedPnL   decimal.Decimal
	AsOf          time.Time
}

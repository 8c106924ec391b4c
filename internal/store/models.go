package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"quorum/internal/broker"
)

type orderRecordModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	OrderID     string `gorm:"size:64;uniqueIndex"`
	Symbol      string `gorm:"size:32;index"`
	Side        string `gorm:"size:8"`
	Quantity    string `gorm:"size:32"`
	Type        string `gorm:"size:16"`
	Status      string `gorm:"size:16;index"`
	FillPrice   string `gorm:"size:32"`
	Commission  string `gorm:"size:32"`
	Origin      string `gorm:"size:32"`
	Reason      string `gorm:"type:text"`
	SubmittedAt time.Time `gorm:"index"`
	FilledAt    time.Time
}

func (orderRecordModel) TableName() string { return "order_records" }

func orderModelFrom(o broker.Order) orderRecordModel {
	return orderRecordModel{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Quantity:    o.Quantity.String(),
		Type:        string(o.Type),
		Status:      string(o.Status),
		FillPrice:   o.FillPrice.String(),
		Commission:  o.Commission.String(),
		Origin:      o.Origin,
		Reason:      o.Reason,
		SubmittedAt: o.SubmittedAt,
		FilledAt:    o.FilledAt,
	}
}

func (m orderRecordModel) toOrder() broker.Order {
	qty, _ := decimal.NewFromString(m.Quantity)
	fill, _ := decimal.NewFromString(m.FillPrice)
	comm, _ := decimal.NewFromString(m.Commission)
	return broker.Order{
		ID:          m.OrderID,
		Symbol:      m.Symbol,
		Side:        broker.OrderSide(m.Side),
		Quantity:    qty,
		Type:        broker.OrderType(m.Type),
		Status:      broker.OrderStatus(m.Status),
		FillPrice:   fill,
		Commission:  comm,
		Origin:      m.Origin,
		Reason:      m.Reason,
		SubmittedAt: m.SubmittedAt,
		FilledAt:    m.FilledAt,
	}
}

type decisionRecordModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	RunID       string `gorm:"size:64;uniqueIndex"`
	Symbol      string `gorm:"size:32;index"`
	Trigger     string `gorm:"size:16"`
	Direction   string `gorm:"size:8"`
	Quantity    string `gorm:"size:32"`
	Confidence  float64
	Gating      string         `gorm:"size:16;index"`
	FailStage   string         `gorm:"size:32"`
	ReasonTrail datatypes.JSON `gorm:"type:json"`
	StartedAt   time.Time
	FinishedAt  time.Time `gorm:"index"`
}

func (decisionRecordModel) TableName() string { return "decision_records" }

func (m decisionRecordModel) toRecord() DecisionRecord {
	var trail []string
	_ = json.Unmarshal(m.ReasonTrail, &trail)
	return DecisionRecord{
		RunID:       m.RunID,
		Symbol:      m.Symbol,
		Trigger:     m.Trigger,
		Direction:   m.Direction,
		Quantity:    m.Quantity,
		Confidence:  m.Confidence,
		Gating:      m.Gating,
		FailStage:   m.FailStage,
		ReasonTrail: trail,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
	}
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"quorum/internal/broker"
)

// DecisionRecord is the durable terminal artifact of a pipeline run.
type DecisionRecord struct {
	RunID       string
	Symbol      string
	Trigger     string
	Direction   string
	Quantity    string
	Confidence  float64
	Gating      string
	FailStage   string
	ReasonTrail []string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// GormStore persists orders and decisions in SQLite via Gorm.
type GormStore struct {
	db *gorm.DB
}

func Open(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: empty database path")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&orderRecordModel{}, &decisionRecordModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little parallelism for concurrent HTTP reads
	// while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AppendOrder records one terminal order. Satisfies ledger.Journal.
func (s *GormStore) AppendOrder(ctx context.Context, o broker.Order) error {
	m := orderModelFrom(o)
	return s.db.WithContext(ctx).Create(&m).Error
}

// AppendDecision records one terminal pipeline decision.
func (s *GormStore) AppendDecision(ctx context.Context, d DecisionRecord) error {
	trail, err := json.Marshal(d.ReasonTrail)
	if err != nil {
		return fmt.Errorf("store: encode reason trail: %w", err)
	}
	m := decisionRecordModel{
		RunID:       d.RunID,
		Symbol:      d.Symbol,
		Trigger:     d.Trigger,
		Direction:   d.Direction,
		Quantity:    d.Quantity,
		Confidence:  d.Confidence,
		Gating:      d.Gating,
		FailStage:   d.FailStage,
		ReasonTrail: datatypes.JSON(trail),
		StartedAt:   d.StartedAt,
		FinishedAt:  d.FinishedAt,
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

// RecentOrders returns the newest orders, most recent first.
func (s *GormStore) RecentOrders(ctx context.Context, limit int) ([]broker.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []orderRecordModel
	if err := s.db.WithContext(ctx).Order("submitted_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]broker.Order, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toOrder())
	}
	return out, nil
}

// RecentDecisions returns the newest decisions, most recent first.
func (s *GormStore) RecentDecisions(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []decisionRecordModel
	if err := s.db.WithContext(ctx).Order("finished_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]DecisionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toRecord())
	}
	return out, nil
}

// DecisionsBySymbol returns a symbol's decisions, most recent first.
func (s *GormStore) DecisionsBySymbol(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []decisionRecordModel
	err := s.db.WithContext(ctx).
		Where("symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).
		Order("finished_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]DecisionRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toRecord())
	}
	return out, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

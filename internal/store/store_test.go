package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quorum/internal/broker"
)

func openTemp(t *testing.T) *GormStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "quorum.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOrderRoundTrip(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	err := s.AppendOrder(ctx, broker.Order{
		ID:          "ord-1",
		Symbol:      "AAPL",
		Side:        broker.SideBuy,
		Quantity:    decimal.NewFromInt(10),
		Type:        broker.TypeMarket,
		Status:      broker.StatusFilled,
		FillPrice:   decimal.RequireFromString("100.1"),
		Commission:  decimal.RequireFromString("5"),
		Origin:      "pipeline",
		SubmittedAt: now,
		FilledAt:    now,
	})
	require.NoError(t, err)

	orders, err := s.RecentOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, "ord-1", orders[0].ID)
	require.True(t, orders[0].Quantity.Equal(decimal.NewFromInt(10)))
	require.True(t, orders[0].FillPrice.Equal(decimal.RequireFromString("100.1")))
	require.Equal(t, broker.StatusFilled, orders[0].Status)
}

func TestDecisionRoundTripPreservesTrail(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	trail := []string{"analysis: 4 reports collected", "risk: admitted buy 10 @ 100.1"}
	err := s.AppendDecision(ctx, DecisionRecord{
		RunID:       "run-1",
		Symbol:      "AAPL",
		Trigger:     "interval",
		Direction:   "buy",
		Quantity:    "10",
		Confidence:  0.8,
		Gating:      "approved",
		ReasonTrail: trail,
		StartedAt:   time.Now().Add(-time.Minute),
		FinishedAt:  time.Now(),
	})
	require.NoError(t, err)

	decisions, err := s.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
	require.Equal(t, trail, decisions[0].ReasonTrail)
	require.Equal(t, "approved", decisions[0].Gating)
}

func TestDecisionsBySymbolOrdersNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	base := time.Now()
	for i, sym := range []string{"AAPL", "MSFT", "AAPL"} {
		err := s.AppendDecision(ctx, DecisionRecord{
			RunID:      string(rune('a' + i)),
			Symbol:     sym,
			Gating:     "rejected",
			FinishedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	decisions, err := s.DecisionsBySymbol(ctx, "aapl", 10)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	require.Equal(t, "c", decisions[0].RunID)
	require.Equal(t, "a", decisions[1].RunID)
}

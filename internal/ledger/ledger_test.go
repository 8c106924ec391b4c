package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/broker"
)

func dec(v string) decimal.Decimal {
	d, _ := decimal.NewFromString(v)
	return d
}

func newTestLedger() *SimLedger {
	return New(Options{
		InitialCash:        dec("100000"),
		CommissionPerShare: dec("0.0003"),
		CommissionMin:      dec("5"),
	})
}

func TestBuyCreatesPositionAndDebitsCash(t *testing.T) {
	l := newTestLedger()
	l.UpdatePrice("NVDA", dec("100"))

	order, err := l.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "nvda", Side: broker.SideBuy, Quantity: dec("10"),
	})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusFilled, order.Status)
	assert.True(t, order.FillPrice.Equal(dec("100")), "no slippage configured")
	assert.True(t, order.Commission.Equal(dec("5")), "commission floor applies")

	pos, ok := l.Position("NVDA")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("10")))
	assert.True(t, pos.AvgPrice.Equal(dec("100")))

	acct, err := l.AccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(dec("98995")), "100000 - 1000 - 5, got %s", acct.Cash)
}

func TestWeightedAverageOnAddFills(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.UpdatePrice("NVDA", dec("100"))
	_, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("10")})
	require.NoError(t, err)

	l.UpdatePrice("NVDA", dec("200"))
	_, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("30")})
	require.NoError(t, err)

	pos, ok := l.Position("NVDA")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(dec("40")))
	// (10*100 + 30*200) / 40 = 175
	assert.True(t, pos.AvgPrice.Equal(dec("175")), "avg=%s", pos.AvgPrice)
}

func TestQuantityMatchesSumOfSignedFills(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	l.UpdatePrice("AAPL", dec("50"))

	fills := []struct {
		side broker.OrderSide
		qty  string
	}{
		{broker.SideBuy, "100"},
		{broker.SideBuy, "40"},
		{broker.SideSell, "60"},
		{broker.SideBuy, "20"},
		{broker.SideSell, "30"},
	}
	net := decimal.Zero
	for _, f := range fills {
		o, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "AAPL", Side: f.side, Quantity: dec(f.qty)})
		require.NoError(t, err)
		require.Equal(t, broker.StatusFilled, o.Status)
		if f.side == broker.SideBuy {
			net = net.Add(dec(f.qty))
		} else {
			net = net.Sub(dec(f.qty))
		}
	}
	pos, ok := l.Position("AAPL")
	require.True(t, ok)
	assert.True(t, pos.Quantity.Equal(net), "want %s got %s", net, pos.Quantity)
}

func TestSellBooksRealizedPnL(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.UpdatePrice("NVDA", dec("100"))
	_, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("10")})
	require.NoError(t, err)

	l.UpdatePrice("NVDA", dec("150"))
	_, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideSell, Quantity: dec("10")})
	require.NoError(t, err)

	// (150-100)*10 - 5 commission = 495
	assert.True(t, l.TodayRealizedPnL().Equal(dec("495")), "got %s", l.TodayRealizedPnL())

	_, held := l.Position("NVDA")
	assert.False(t, held, "fully closed position is removed")
}

func TestSlippageAppliedDirectionally(t *testing.T) {
	l := New(Options{
		InitialCash:   dec("100000"),
		SlippageRate:  dec("0.001"),
		CommissionMin: dec("5"),
	})
	ctx := context.Background()
	l.UpdatePrice("NVDA", dec("1000"))

	buy, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)
	assert.True(t, buy.FillPrice.Equal(dec("1001")), "buy pays up, got %s", buy.FillPrice)

	sell, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideSell, Quantity: dec("1")})
	require.NoError(t, err)
	assert.True(t, sell.FillPrice.Equal(dec("999")), "sell gives up, got %s", sell.FillPrice)
}

func TestRejectionsAreRecordedNotErrors(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	// No price yet.
	o, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)

	l.UpdatePrice("NVDA", dec("100"))

	// Selling what we do not hold.
	o, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideSell, Quantity: dec("1")})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient position")

	// More than the account can pay for.
	o, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("100000")})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)
	assert.Contains(t, o.Reason, "insufficient cash")

	// Non-positive quantity.
	o, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: decimal.Zero})
	require.NoError(t, err)
	assert.Equal(t, broker.StatusRejected, o.Status)

	assert.Equal(t, 0, l.TodayOrderCount(), "rejections never count against the daily cap")
	assert.Len(t, l.TodayOrders(), 4, "rejected orders stay in history")
}

func TestHistoryIsAppendOnly(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()
	l.UpdatePrice("NVDA", dec("100"))

	first, err := l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)
	_, err = l.PlaceOrder(ctx, broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)

	orders := l.TodayOrders()
	require.Len(t, orders, 2)
	assert.Equal(t, first.ID, orders[0].ID)
	assert.Equal(t, broker.StatusFilled, orders[0].Status)

	err = l.CancelOrder(ctx, first.ID)
	assert.Error(t, err, "terminal orders are immutable")
}

func TestLastOrderTimeTracked(t *testing.T) {
	l := newTestLedger()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return base })
	l.UpdatePrice("NVDA", dec("100"))

	_, ok := l.LastOrderTime("NVDA")
	assert.False(t, ok)

	_, err := l.PlaceOrder(context.Background(), broker.OrderRequest{Symbol: "NVDA", Side: broker.SideBuy, Quantity: dec("1")})
	require.NoError(t, err)

	ts, ok := l.LastOrderTime("NVDA")
	require.True(t, ok)
	assert.Equal(t, base, ts)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"quorum/internal/broker"
	"quorum/internal/logger"
)

// ErrInconsistent marks a bookkeeping invariant violation. The risk
// manager halts further admissions for the affected symbol when it
// sees this; it is never produced in normal operation.
var ErrInconsistent = errors.New("ledger inconsistency")

// Journal receives every terminal order for durable append-only storage.
// Delivery failures are logged, never propagated into fill accounting.
type Journal interface {
	AppendOrder(ctx context.Context, o broker.Order) error
}

// Options mirror the execution-cost knobs of the simulated exchange.
type Options struct {
	InitialCash        decimal.Decimal
	SlippageRate       decimal.Decimal
	CommissionPerShare decimal.Decimal
	CommissionMin      decimal.Decimal
	Journal            Journal
}

// SimLedger is the simulated broker and the book of record: orders,
// fills, positions and realized P&L. Orders fill immediately at the
// last known price adjusted for slippage. History is append-only; a
// terminal order is never rewritten.
type SimLedger struct {
	mu        sync.RWMutex
	cash      decimal.Decimal
	initial   decimal.Decimal
	positions map[string]*broker.Position
	orders    []broker.Order
	lastPrice map[string]decimal.Decimal
	lastOrder map[string]time.Time
	realized  decimal.Decimal
	// Realized P&L per day key (YYYY-MM-DD), for the daily-loss cap.
	realizedByDay map[string]decimal.Decimal

	slippage      decimal.Decimal
	commPerShare  decimal.Decimal
	commMin       decimal.Decimal
	journal       Journal
	nowFn         func() time.Time
}

func New(opts Options) *SimLedger {
	if opts.InitialCash.LessThanOrEqual(decimal.Zero) {
		opts.InitialCash = decimal.NewFromInt(100000)
	}
	return &SimLedger{
		cash:          opts.InitialCash,
		initial:       opts.InitialCash,
		positions:     make(map[string]*broker.Position),
		lastPrice:     make(map[string]decimal.Decimal),
		lastOrder:     make(map[string]time.Time),
		realizedByDay: make(map[string]decimal.Decimal),
		slippage:      opts.SlippageRate,
		commPerShare:  opts.CommissionPerShare,
		commMin:       opts.CommissionMin,
		journal:       opts.Journal,
		nowFn:         time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (l *SimLedger) SetClock(fn func() time.Time) {
	if fn != nil {
		l.nowFn = fn
	}
}

func (l *SimLedger) Connect(ctx context.Context) error { return nil }

// UpdatePrice records the latest market price for a symbol. Fills and
// valuation both use the most recent price seen here.
func (l *SimLedger) UpdatePrice(symbol string, price decimal.Decimal) {
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	symbol = normalize(symbol)
	l.mu.Lock()
	l.lastPrice[symbol] = price
	if pos, ok := l.positions[symbol]; ok {
		pos.LastPrice = price
	}
	l.mu.Unlock()
}

// PlaceOrder fills (or rejects) immediately against the last known
// price. Buys apply positive slippage, sells negative; commission is
// per-share with a floor.
func (l *SimLedger) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error) {
	symbol := normalize(req.Symbol)
	now := l.nowFn()
	order := broker.Order{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		Type:        req.Type,
		Status:      broker.StatusNew,
		SubmittedAt: now,
		Origin:      req.Origin,
		Reason:      req.Reason,
	}
	if order.Type == "" {
		order.Type = broker.TypeMarket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	reject := func(why string) (broker.Order, error) {
		order.Status = broker.StatusRejected
		order.Reason = joinReason(order.Reason, why)
		l.orders = append(l.orders, order)
		l.journalAsync(order)
		logger.Warnf("order rejected symbol=%s side=%s qty=%s: %s", symbol, req.Side, req.Quantity, why)
		return order, nil
	}

	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return reject("non-positive quantity")
	}
	price, ok := l.lastPrice[symbol]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return reject("no market price for symbol")
	}

	fill := l.fillPrice(price, req.Side)
	commission := l.commission(req.Quantity)

	switch req.Side {
	case broker.SideBuy:
		cost := fill.Mul(req.Quantity).Add(commission)
		if cost.GreaterThan(l.cash) {
			return reject("insufficient cash")
		}
		l.cash = l.cash.Sub(cost)
		l.applyBuy(symbol, req.Quantity, fill, now)
	case broker.SideSell:
		pos, held := l.positions[symbol]
		if !held || pos.Quantity.LessThan(req.Quantity) {
			return reject("insufficient position")
		}
		proceeds := fill.Mul(req.Quantity).Sub(commission)
		l.cash = l.cash.Add(proceeds)
		pnl := fill.Sub(pos.AvgPrice).Mul(req.Quantity).Sub(commission)
		l.realized = l.realized.Add(pnl)
		day := now.Format("2006-01-02")
		l.realizedByDay[day] = l.realizedByDay[day].Add(pnl)
		l.applySell(symbol, pos, req.Quantity, now)
	default:
		return reject(fmt.Sprintf("unknown side %q", req.Side))
	}

	order.Status = broker.StatusFilled
	order.FilledAt = now
	order.FillPrice = fill
	order.Commission = commission
	l.orders = append(l.orders, order)
	l.lastOrder[symbol] = now
	l.journalAsync(order)

	if err := l.checkInvariantsLocked(symbol); err != nil {
		return order, err
	}
	logger.Infof("order filled id=%s symbol=%s side=%s qty=%s price=%s commission=%s",
		order.ID, symbol, order.Side, order.Quantity, fill, commission)
	return order, nil
}

func (l *SimLedger) fillPrice(price decimal.Decimal, side broker.OrderSide) decimal.Decimal {
	if l.slippage.IsZero() {
		return price
	}
	adj := price.Mul(l.slippage)
	if side == broker.SideBuy {
		return price.Add(adj)
	}
	return price.Sub(adj)
}

func (l *SimLedger) commission(qty decimal.Decimal) decimal.Decimal {
	c := qty.Mul(l.commPerShare)
	if c.LessThan(l.commMin) {
		return l.commMin
	}
	return c
}

// applyBuy folds a fill into the position with weighted-average cost.
func (l *SimLedger) applyBuy(symbol string, qty, fill decimal.Decimal, now time.Time) {
	pos, ok := l.positions[symbol]
	if !ok {
		l.positions[symbol] = &broker.Position{
			Symbol:    symbol,
			Quantity:  qty,
			AvgPrice:  fill,
			LastPrice: fill,
			UpdatedAt: now,
		}
		return
	}
	total := pos.Quantity.Add(qty)
	pos.AvgPrice = pos.AvgPrice.Mul(pos.Quantity).Add(fill.Mul(qty)).Div(total)
	pos.Quantity = total
	pos.LastPrice = fill
	pos.UpdatedAt = now
}

func (l *SimLedger) applySell(symbol string, pos *broker.Position, qty decimal.Decimal, now time.Time) {
	pos.Quantity = pos.Quantity.Sub(qty)
	pos.UpdatedAt = now
	if pos.Quantity.IsZero() {
		delete(l.positions, symbol)
	}
}

func (l *SimLedger) checkInvariantsLocked(symbol string) error {
	if l.cash.IsNegative() {
		return fmt.Errorf("%w: negative cash %s after trading %s", ErrInconsistent, l.cash, symbol)
	}
	if pos, ok := l.positions[symbol]; ok {
		if pos.Quantity.IsNegative() || pos.AvgPrice.IsNegative() {
			return fmt.Errorf("%w: symbol=%s qty=%s avg=%s", ErrInconsistent, symbol, pos.Quantity, pos.AvgPrice)
		}
	}
	return nil
}

func (l *SimLedger) journalAsync(o broker.Order) {
	if l.journal == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.journal.AppendOrder(ctx, o); err != nil {
			logger.Errorf("journaling order %s failed: %v", o.ID, err)
		}
	}()
}

// CancelOrder exists for interface completeness; simulated fills are
// immediate, so there is never a cancellable in-flight order.
func (l *SimLedger) CancelOrder(ctx context.Context, orderID string) error {
	return fmt.Errorf("order %s is not cancellable: simulated fills are immediate", orderID)
}

func (l *SimLedger) AccountInfo(ctx context.Context) (broker.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountLocked(), nil
}

func (l *SimLedger) accountLocked() broker.Account {
	posValue := decimal.Zero
	for _, pos := range l.positions {
		posValue = posValue.Add(pos.MarketValue())
	}
	return broker.Account{
		Cash:          l.cash,
		InitialCash:   l.initial,
		PositionValue: posValue,
		TotalValue:    l.cash.Add(posValue),
		RealizedPnL:   l.realized,
		AsOf:          l.nowFn(),
	}
}

func (l *SimLedger) Positions(ctx context.Context) ([]broker.Position, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]broker.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// Position returns the current position for symbol, if any.
func (l *SimLedger) Position(symbol string) (broker.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[normalize(symbol)]
	if !ok {
		return broker.Position{}, false
	}
	return *pos, true
}

// TodayOrders returns filled and rejected orders submitted today,
// oldest first.
func (l *SimLedger) TodayOrders() []broker.Order {
	day := l.nowFn().Format("2006-01-02")
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []broker.Order
	for _, o := range l.orders {
		if o.SubmittedAt.Format("2006-01-02") == day {
			out = append(out, o)
		}
	}
	return out
}

// TodayOrderCount counts only filled orders, matching the daily cap.
func (l *SimLedger) TodayOrderCount() int {
	n := 0
	for _, o := range l.TodayOrders() {
		if o.Status == broker.StatusFilled {
			n++
		}
	}
	return n
}

// TodayRealizedPnL is the realized profit/loss booked today.
func (l *SimLedger) TodayRealizedPnL() decimal.Decimal {
	day := l.nowFn().Format("2006-01-02")
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.realizedByDay[day]
}

// LastOrderTime returns when the symbol last had a filled order.
func (l *SimLedger) LastOrderTime(symbol string) (time.Time, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.lastOrder[normalize(symbol)]
	return t, ok
}

// LastPrice returns the most recent price seen for symbol.
func (l *SimLedger) LastPrice(symbol string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	p, ok := l.lastPrice[normalize(symbol)]
	return p, ok
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func joinReason(base, extra string) string {
	if base == "" {
		return extra
	}
	return base + "; " + extra
}

var _ broker.Broker = (*SimLedger)(nil)

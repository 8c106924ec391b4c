package risk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/broker"
	"quorum/internal/ledger"
	"quorum/internal/logger"
)

// Book is the slice of the ledger the risk manager reads and trades
// against.
type Book interface {
	Position(symbol string) (broker.Position, bool)
	Positions(ctx context.Context) ([]broker.Position, error)
	AccountInfo(ctx context.Context) (broker.Account, error)
	LastPrice(symbol string) (decimal.Decimal, bool)
	LastOrderTime(symbol string) (time.Time, bool)
	TodayOrderCount() int
	TodayRealizedPnL() decimal.Decimal
	PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Order, error)
}

// AdmitRequest carries a proposed trade plus the advisory verdict from
// the portfolio-manager persona.
type AdmitRequest struct {
	Symbol          string
	Direction       broker.OrderSide
	Quantity        decimal.Decimal
	AdvisoryApprove bool
	Trail           []string
}

// AdmitResult is the outcome of one admission check. Rejection is an
// expected result, not an error; Reason carries the code.
type AdmitResult struct {
	Admitted bool
	Reason   string
	Quantity decimal.Decimal
	Order    *broker.Order
	Trail    []string
}

// Manager gates every order through numeric checks and runs the
// stop-loss/take-profit sweep. Admission check plus order submission
// for one symbol form a single critical section; symbols are
// independent of each other.
type Manager struct {
	book     Book
	limitsFn func() Limits

	mu      sync.Mutex
	symLock map[string]*sync.Mutex
	halted  map[string]string

	// Daily loss and order-cap budgets are portfolio-wide, so the
	// check-and-submit pair also holds this lock; otherwise two
	// symbols could each pass a nearly exhausted cap.
	admitMu sync.Mutex

	nowFn func() time.Time
}

func NewManager(book Book, limitsFn func() Limits) *Manager {
	return &Manager{
		book:     book,
		limitsFn: limitsFn,
		symLock:  make(map[string]*sync.Mutex),
		halted:   make(map[string]string),
		nowFn:    time.Now,
	}
}

// SetClock overrides the time source (tests only).
func (m *Manager) SetClock(fn func() time.Time) {
	if fn != nil {
		m.nowFn = fn
	}
}

func (m *Manager) lockFor(symbol string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lk, ok := m.symLock[symbol]
	if !ok {
		lk = &sync.Mutex{}
		m.symLock[symbol] = lk
	}
	return lk
}

// Halt blocks all further admissions for symbol until ClearHalt. Used
// when the ledger reports an inconsistency; trading blind on a broken
// book is worse than not trading.
func (m *Manager) Halt(symbol, why string) {
	symbol = normalize(symbol)
	m.mu.Lock()
	m.halted[symbol] = why
	m.mu.Unlock()
	logger.Errorf("admissions HALTED for %s: %s", symbol, why)
}

// ClearHalt re-opens admissions for symbol after manual review.
func (m *Manager) ClearHalt(symbol string) {
	symbol = normalize(symbol)
	m.mu.Lock()
	delete(m.halted, symbol)
	m.mu.Unlock()
	logger.Warnf("admissions halt cleared for %s", symbol)
}

func (m *Manager) haltReason(symbol string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	why, ok := m.halted[symbol]
	return why, ok
}

// Halted lists symbols currently blocked, for the status endpoint.
func (m *Manager) Halted() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.halted))
	for k, v := range m.halted {
		out[k] = v
	}
	return out
}

// Admit runs the numeric checks against the current book and, on
// approval, submits the order. An advisory reject is final; an
// advisory approve can still be rejected, or clamped to a smaller
// admissible size (recorded as size_reduced in the trail).
func (m *Manager) Admit(ctx context.Context, req AdmitRequest) (AdmitResult, error) {
	symbol := normalize(req.Symbol)
	limits := m.limitsFn()
	trail := append([]string{}, req.Trail...)

	lk := m.lockFor(symbol)
	lk.Lock()
	defer lk.Unlock()

	reject := func(code, detail string) (AdmitResult, error) {
		trail = append(trail, fmt.Sprintf("risk: rejected (%s) %s", code, detail))
		logger.Infof("admission rejected symbol=%s reason=%s %s", symbol, code, detail)
		return AdmitResult{Reason: code, Quantity: req.Quantity, Trail: trail}, nil
	}

	if why, ok := m.haltReason(symbol); ok {
		return reject(ReasonSymbolHalted, why)
	}

	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	// The numeric checks run even when the advisory verdict is a
	// reject, so the trail keeps what the book would have said; the
	// advisory reject still decides the outcome.
	qty, code, detail, err := m.check(ctx, symbol, req, limits, &trail)
	if err != nil {
		return AdmitResult{}, err
	}
	if !req.AdvisoryApprove {
		if code != "" {
			trail = append(trail, fmt.Sprintf("risk: numeric check also failed (%s) %s", code, detail))
		}
		return reject(ReasonAdvisoryReject, "portfolio manager advised against the trade")
	}
	if code != "" {
		return reject(code, detail)
	}

	order, err := m.book.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   symbol,
		Side:     req.Direction,
		Quantity: qty,
		Type:     broker.TypeMarket,
		Origin:   "pipeline",
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInconsistent) {
			m.Halt(symbol, err.Error())
		}
		return AdmitResult{Trail: trail}, err
	}
	if order.Status != broker.StatusFilled {
		code := ReasonInvalidQuantity
		if strings.Contains(order.Reason, "cash") {
			code = ReasonInsufficientCash
		}
		return reject(code, order.Reason)
	}
	trail = append(trail, fmt.Sprintf("risk: admitted %s %s @ %s", order.Side, order.Quantity, order.FillPrice))
	return AdmitResult{Admitted: true, Quantity: qty, Order: &order, Trail: trail}, nil
}

// check runs every numeric admission rule against the current book,
// clamping buys and sells to the largest admissible size. It returns
// the (possibly reduced) quantity and, on failure, the first failing
// reason code with its detail.
func (m *Manager) check(ctx context.Context, symbol string, req AdmitRequest, limits Limits, trail *[]string) (decimal.Decimal, string, string, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return req.Quantity, ReasonInvalidQuantity, "quantity must be positive", nil
	}

	acct, err := m.book.AccountInfo(ctx)
	if err != nil {
		return req.Quantity, "", "", err
	}

	// Daily loss cap first: once breached, no trade has merit today.
	if limits.MaxDailyLoss.GreaterThan(decimal.Zero) && acct.InitialCash.GreaterThan(decimal.Zero) {
		lossFrac := m.book.TodayRealizedPnL().Neg().Div(acct.InitialCash)
		if lossFrac.GreaterThanOrEqual(limits.MaxDailyLoss) {
			return req.Quantity, ReasonDailyLoss, fmt.Sprintf("daily loss %s of initial cash", lossFrac.Round(4)), nil
		}
	}
	if limits.MaxOrdersPerDay > 0 && m.book.TodayOrderCount() >= limits.MaxOrdersPerDay {
		return req.Quantity, ReasonOrderLimit, fmt.Sprintf("%d orders today", m.book.TodayOrderCount()), nil
	}
	if limits.MinOrderInterval > 0 {
		if last, ok := m.book.LastOrderTime(symbol); ok {
			if since := m.nowFn().Sub(last); since < limits.MinOrderInterval {
				return req.Quantity, ReasonOrderInterval, fmt.Sprintf("last order %s ago", since.Truncate(time.Second)), nil
			}
		}
	}

	price, ok := m.book.LastPrice(symbol)
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return req.Quantity, ReasonInvalidQuantity, "no market price for symbol", nil
	}

	qty := req.Quantity
	switch req.Direction {
	case broker.SideBuy:
		var code, detail string
		qty, code, detail = m.clampBuy(symbol, qty, price, acct, limits, trail)
		if code != "" {
			return qty, code, detail, nil
		}
	case broker.SideSell:
		pos, held := m.book.Position(symbol)
		if !held || pos.Quantity.LessThanOrEqual(decimal.Zero) {
			return qty, ReasonInvalidQuantity, "no position to sell", nil
		}
		if qty.GreaterThan(pos.Quantity) {
			*trail = append(*trail, fmt.Sprintf("risk: %s sell %s clamped to held %s", NoteSizeReduced, qty, pos.Quantity))
			qty = pos.Quantity
		}
	default:
		return qty, ReasonInvalidQuantity, fmt.Sprintf("unsupported direction %q", req.Direction), nil
	}
	return qty, "", "", nil
}

// clampBuy applies the per-symbol cap, portfolio risk cap and cash
// check, shrinking the quantity to the largest admissible size instead
// of rejecting outright when some size would pass.
func (m *Manager) clampBuy(symbol string, qty, price decimal.Decimal, acct broker.Account, limits Limits, trail *[]string) (decimal.Decimal, string, string) {
	held := decimal.Zero
	if pos, ok := m.book.Position(symbol); ok {
		held = pos.Quantity
	}

	// Per-symbol cap on resulting position value.
	if limits.MaxPositionPerStock.GreaterThan(decimal.Zero) && acct.TotalValue.GreaterThan(decimal.Zero) {
		capValue := acct.TotalValue.Mul(limits.MaxPositionPerStock)
		after := held.Add(qty).Mul(price)
		if after.GreaterThan(capValue) {
			maxQty := capValue.Div(price).Floor().Sub(held)
			if maxQty.LessThanOrEqual(decimal.Zero) {
				return qty, ReasonPositionCap, fmt.Sprintf("position value %s over cap %s", after.Round(2), capValue.Round(2))
			}
			*trail = append(*trail, fmt.Sprintf("risk: %s buy %s clamped to %s by position cap", NoteSizeReduced, qty, maxQty))
			qty = maxQty
		}
	}

	// Portfolio-wide exposure cap.
	if limits.MaxPortfolioRisk.GreaterThan(decimal.Zero) && acct.TotalValue.GreaterThan(decimal.Zero) {
		riskCap := acct.TotalValue.Mul(limits.MaxPortfolioRisk)
		exposure := acct.PositionValue.Add(qty.Mul(price))
		if exposure.GreaterThan(riskCap) {
			maxQty := riskCap.Sub(acct.PositionValue).Div(price).Floor()
			if maxQty.LessThanOrEqual(decimal.Zero) {
				return qty, ReasonPortfolioRisk, fmt.Sprintf("exposure %s over cap %s", exposure.Round(2), riskCap.Round(2))
			}
			*trail = append(*trail, fmt.Sprintf("risk: %s buy clamped to %s by portfolio risk cap", NoteSizeReduced, maxQty))
			qty = maxQty
		}
	}

	// Cash check is a hard bound, never clamped below one share.
	if qty.Mul(price).GreaterThan(acct.Cash) {
		maxQty := acct.Cash.Div(price).Floor()
		if maxQty.LessThanOrEqual(decimal.Zero) {
			return qty, ReasonInsufficientCash, fmt.Sprintf("cost %s exceeds cash %s", qty.Mul(price).Round(2), acct.Cash.Round(2))
		}
		*trail = append(*trail, fmt.Sprintf("risk: %s buy clamped to %s by available cash", NoteSizeReduced, maxQty))
		qty = maxQty
	}
	return qty, "", ""
}

// Sweep walks all open positions and closes any whose unrealized
// gain/loss ratio crossed its threshold. Automatic closes skip the
// per-symbol interval check but still respect the daily order cap.
func (m *Manager) Sweep(ctx context.Context) ([]broker.Order, error) {
	limits := m.limitsFn()
	positions, err := m.book.Positions(ctx)
	if err != nil {
		return nil, err
	}
	var closed []broker.Order
	for _, pos := range positions {
		select {
		case <-ctx.Done():
			return closed, ctx.Err()
		default:
		}
		ratio := pos.UnrealizedRatio()
		var origin string
		switch {
		case limits.StopLossRatio.GreaterThan(decimal.Zero) && ratio.LessThanOrEqual(limits.StopLossRatio.Neg()):
			origin = "stop_loss"
		case limits.TakeProfitRatio.GreaterThan(decimal.Zero) && ratio.GreaterThanOrEqual(limits.TakeProfitRatio):
			origin = "take_profit"
		default:
			continue
		}
		order, ok := m.autoClose(ctx, pos, origin, ratio, limits)
		if ok {
			closed = append(closed, order)
		}
	}
	return closed, nil
}

func (m *Manager) autoClose(ctx context.Context, pos broker.Position, origin string, ratio decimal.Decimal, limits Limits) (broker.Order, bool) {
	symbol := normalize(pos.Symbol)
	lk := m.lockFor(symbol)
	lk.Lock()
	defer lk.Unlock()

	if _, halted := m.haltReason(symbol); halted {
		return broker.Order{}, false
	}

	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	if limits.MaxOrdersPerDay > 0 && m.book.TodayOrderCount() >= limits.MaxOrdersPerDay {
		logger.Warnf("sweep: %s crossed %s (%s) but daily order cap reached", symbol, origin, ratio.Round(4))
		return broker.Order{}, false
	}
	// Re-read: the position may have changed since the snapshot.
	current, held := m.book.Position(symbol)
	if !held || current.Quantity.LessThanOrEqual(decimal.Zero) {
		return broker.Order{}, false
	}
	order, err := m.book.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   symbol,
		Side:     broker.SideSell,
		Quantity: current.Quantity,
		Type:     broker.TypeMarket,
		Origin:   origin,
		Reason:   fmt.Sprintf("%s triggered at ratio %s", origin, ratio.Round(4)),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInconsistent) {
			m.Halt(symbol, err.Error())
		} else {
			logger.Errorf("sweep: auto close %s failed: %v", symbol, err)
		}
		return broker.Order{}, false
	}
	if order.Status != broker.StatusFilled {
		logger.Warnf("sweep: auto close %s rejected: %s", symbol, order.Reason)
		return order, false
	}
	logger.Infof("sweep: %s closed %s qty=%s ratio=%s", origin, symbol, order.Quantity, ratio.Round(4))
	return order, true
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

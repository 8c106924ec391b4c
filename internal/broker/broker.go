package broker

import (
	"context"

	"github.com/shopspring/decimal"
)

// OrderRequest is what the admission path hands to the execution side.
type OrderRequest struct {
	Symbol   string
	Side     OrderSide
	Quantity decimal.Decimal
	Type     OrderType
	Origin   string
	Reason   string
}

// Broker is the execution capability. The simulated ledger is the
// system of record; a live-broker adapter would implement the same
// surface and the ledger becomes a mirror.
type Broker interface {
	Connect(ctx context.Context) error
	AccountInfo(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]Position, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

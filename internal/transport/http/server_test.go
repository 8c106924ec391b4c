package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"quorum/internal/broker"
	"quorum/internal/ledger"
	"quorum/internal/risk"
)

func newTestServer(t *testing.T) (*Server, *ledger.SimLedger, *risk.Manager) {
	t.Helper()
	book := ledger.New(ledger.Options{InitialCash: decimal.NewFromInt(100000)})
	book.UpdatePrice("AAPL", decimal.NewFromInt(100))
	_, err := book.PlaceOrder(context.Background(), broker.OrderRequest{
		Symbol: "AAPL", Side: broker.SideBuy, Quantity: decimal.NewFromInt(10), Type: broker.TypeMarket,
	})
	require.NoError(t, err)

	riskMgr := risk.NewManager(book, func() risk.Limits { return risk.Limits{} })
	srv, err := NewServer(ServerConfig{Addr: ":0", Book: book, RiskMgr: riskMgr})
	require.NoError(t, err)
	return srv, book, riskMgr
}

func doGET(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rec, req)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, body := doGET(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestStatusReportsAccountAndHalts(t *testing.T) {
	srv, _, riskMgr := newTestServer(t)
	riskMgr.Halt("MSFT", "ledger inconsistency")

	code, body := doGET(t, srv, "/api/status")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, body, "cash")
	require.Contains(t, body, "total_value")
	require.EqualValues(t, 1, body["today_orders"])
	halted, ok := body["halted"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, halted, "MSFT")
}

func TestPositionsAndOrders(t *testing.T) {
	srv, _, _ := newTestServer(t)

	code, body := doGET(t, srv, "/api/positions")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = doGET(t, srv, "/api/orders")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])
}

func TestDecisionsWithoutStoreUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, _ := doGET(t, srv, "/api/decisions")
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestClearHalt(t *testing.T) {
	srv, _, riskMgr := newTestServer(t)
	riskMgr.Halt("AAPL", "test")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/halts/aapl/clear", nil)
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, riskMgr.Halted())
}

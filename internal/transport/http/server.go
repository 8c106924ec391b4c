package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quorum/internal/broker"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/pipeline"
	"quorum/internal/risk"
	"quorum/internal/store"
)

// Server is the read-mostly HTTP surface: account, positions, orders
// and decision history, plus manual run triggers and halt clearing.
type Server struct {
	addr   string
	router *gin.Engine
}

type ServerConfig struct {
	Addr    string
	Book    *ledger.SimLedger
	Runner  *pipeline.Runner
	RiskMgr *risk.Manager
	Store   *store.GormStore
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Book == nil {
		return nil, errors.New("http server requires the ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{book: cfg.Book, runner: cfg.Runner, riskMgr: cfg.RiskMgr, store: cfg.Store}
	api := router.Group("/api")
	api.GET("/status", h.status)
	api.GET("/positions", h.positions)
	api.GET("/orders", h.orders)
	api.GET("/decisions", h.decisions)
	if cfg.Runner != nil {
		api.POST("/runs/:symbol", h.triggerRun)
	}
	if cfg.RiskMgr != nil {
		api.POST("/halts/:symbol/clear", h.clearHalt)
	}

	return &Server{addr: cfg.Addr, router: router}, nil
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type handlers struct {
	book    *ledger.SimLedger
	runner  *pipeline.Runner
	riskMgr *risk.Manager
	store   *store.GormStore
}

func (h *handlers) status(c *gin.Context) {
	acct, err := h.book.AccountInfo(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	resp := gin.H{
		"cash":             acct.Cash,
		"initial_cash":     acct.InitialCash,
		"position_value":   acct.PositionValue,
		"total_value":      acct.TotalValue,
		"realized_pnl":     acct.RealizedPnL,
		"today_orders":     h.book.TodayOrderCount(),
		"today_realized":   h.book.TodayRealizedPnL(),
		"as_of":            acct.AsOf,
	}
	if h.runner != nil {
		resp["active_runs"] = h.runner.ActiveRuns()
	}
	if h.riskMgr != nil {
		resp["halted"] = h.riskMgr.Halted()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) positions(c *gin.Context) {
	positions, err := h.book.Positions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions, "count": len(positions)})
}

func (h *handlers) orders(c *gin.Context) {
	limit := queryLimit(c, 50)
	var (
		orders []broker.Order
		err    error
	)
	if h.store != nil && c.Query("scope") == "all" {
		orders, err = h.store.RecentOrders(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		orders = h.book.TodayOrders()
		if len(orders) > limit {
			orders = orders[len(orders)-limit:]
		}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (h *handlers) decisions(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision store not configured"})
		return
	}
	limit := queryLimit(c, 50)
	symbol := strings.TrimSpace(c.Query("symbol"))
	var (
		decisions []store.DecisionRecord
		err       error
	)
	if symbol != "" {
		decisions, err = h.store.DecisionsBySymbol(c.Request.Context(), symbol, limit)
	} else {
		decisions, err = h.store.RecentDecisions(c.Request.Context(), limit)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decisions": decisions, "count": len(decisions)})
}

func (h *handlers) triggerRun(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	run, ok := h.runner.Trigger(context.WithoutCancel(c.Request.Context()), symbol, pipeline.TriggerManual)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "run already in flight for " + symbol})
		return
	}
	logger.Infof("[api] manual run triggered ip=%s symbol=%s run=%s", c.ClientIP(), symbol, run.ID)
	c.JSON(http.StatusAccepted, gin.H{"run_id": run.ID, "symbol": symbol})
}

func (h *handlers) clearHalt(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	h.riskMgr.ClearHalt(symbol)
	logger.Infof("[api] halt cleared ip=%s symbol=%s", c.ClientIP(), symbol)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "symbol": symbol})
}

func queryLimit(c *gin.Context, fallback int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if limit <= 0 {
		limit = fallback
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

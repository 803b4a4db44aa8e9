package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/crypto_trade_core/internal/usecase"
	"go.uber.org/zap"
)

type Server struct {
	router   *http.ServeMux
	server   *http.Server
	core     *usecase.Core
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// NewServer exposes core over JSON. A nil gatherer leaves /metrics unrouted.
func NewServer(port int, core *usecase.Core, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	s := &Server{
		router:   http.NewServeMux(),
		core:     core,
		gatherer: gatherer,
		logger:   logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/status", s.handleStatus)

	// Positions
	s.router.HandleFunc("GET /api/positions", s.handleListPositions)
	s.router.HandleFunc("POST /api/positions/{symbol}/close", s.handleClosePosition)
	s.router.HandleFunc("POST /api/positions/{symbol}/partial-close", s.handlePartialClose)
	s.router.HandleFunc("POST /api/positions/{symbol}/stop-loss", s.handleMoveSL)
	s.router.HandleFunc("POST /api/positions/{symbol}/trading-stop", s.handleTradingStop)
	s.router.HandleFunc("POST /api/positions/{symbol}/breakeven", s.handleBreakeven)
	s.router.HandleFunc("POST /api/positions/{symbol}/ladder", s.handleLadder)
	s.router.HandleFunc("GET /api/positions/{symbol}/pnl", s.handleClosedPnL)

	// Orders
	s.router.HandleFunc("POST /api/orders", s.handlePlaceOrder)
	s.router.HandleFunc("GET /api/orders/{symbol}", s.handleOpenOrders)
	s.router.HandleFunc("DELETE /api/orders/{symbol}/{orderId}", s.handleCancelOrder)

	// Risk
	s.router.HandleFunc("GET /api/modes", s.handleModes)
	s.router.HandleFunc("POST /api/risk/check", s.handleRiskCheck)
	s.router.HandleFunc("POST /api/risk/result", s.handleRecordResult)
	s.router.HandleFunc("POST /api/risk/position-params", s.handlePositionParams)
	s.router.HandleFunc("GET /api/risk/symbol", s.handleSymbolCheck)

	if s.gatherer != nil {
		s.router.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

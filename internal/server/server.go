// Package server exposes the engines over HTTP: read-only market and
// position views, the full mutating entrypoint surface, and the
// operational endpoints (health probes, Prometheus metrics). Caller
// identity comes from the X-Caller-Address header; the gateway in
// front of this service is expected to authenticate it.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vammengine/internal/engine"
	"vammengine/internal/observability"
	"vammengine/internal/orders"
	"vammengine/internal/persistence"
)

// Dependencies carries everything the HTTP surface serves.
type Dependencies struct {
	Engine  *engine.PositionEngine
	Orders  *orders.OrderEngine
	Reader  *persistence.EventReader // optional, enables /events
	Health  *observability.HealthChecker
	Metrics *observability.Metrics
	Log     zerolog.Logger
}

// Server is the HTTP front of the engines.
type Server struct {
	deps   Dependencies
	router *mux.Router
	log    zerolog.Logger
}

func NewServer(deps Dependencies) *Server {
	s := &Server{deps: deps, log: deps.Log}
	s.router = s.routes()
	return s
}

// Handler returns the fully wired router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	if s.deps.Health != nil {
		r.HandleFunc("/healthz", s.deps.Health.LivenessHandler).Methods(http.MethodGet)
		r.HandleFunc("/readyz", s.deps.Health.ReadinessHandler).Methods(http.MethodGet)
	}
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()

	// Market views.
	api.HandleFunc("/price", s.handlePrice).Methods(http.MethodGet)
	api.HandleFunc("/vmm", s.handleVmm).Methods(http.MethodGet)
	api.HandleFunc("/funding/rate", s.handleFundingRate).Methods(http.MethodGet)
	api.HandleFunc("/funding/period", s.handleFundingPeriod).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/positions/{holder}", s.handlePositionData).Methods(http.MethodGet)

	// Position lifecycle.
	api.HandleFunc("/positions/increase", s.handleIncreasePosition).Methods(http.MethodPost)
	api.HandleFunc("/positions/decrease", s.handleDecreasePosition).Methods(http.MethodPost)
	api.HandleFunc("/positions/close", s.handleClosePosition).Methods(http.MethodPost)
	api.HandleFunc("/positions/{holder}/liquidate", s.handleLiquidate).Methods(http.MethodPost)
	api.HandleFunc("/margin/add", s.handleAddMargin).Methods(http.MethodPost)
	api.HandleFunc("/margin/remove", s.handleRemoveMargin).Methods(http.MethodPost)
	api.HandleFunc("/funding/distribute", s.handleDistributeFunding).Methods(http.MethodPost)

	// Orders.
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", s.handleOrderData).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleUpdatePendingOrder).Methods(http.MethodPut)
	api.HandleFunc("/orders/{id}/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/execute", s.handleExecuteLimitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/close", s.handleExecuteCloseOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/stop-loss", s.handleTriggerStopLoss).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/take-profit", s.handleTriggerTakeProfit).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/increase", s.handleIncreaseActiveOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/decrease", s.handleDecreaseActiveOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/margin/add", s.handleOrderAddMargin).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/margin/remove", s.handleOrderRemoveMargin).Methods(http.MethodPost)

	// Administration.
	api.HandleFunc("/admin/vmm", s.handleSetVmm).Methods(http.MethodPost)
	api.HandleFunc("/admin/propose", s.handleProposeAdmin).Methods(http.MethodPost)
	api.HandleFunc("/admin/confirm", s.handleConfirmAdmin).Methods(http.MethodPost)
	api.HandleFunc("/admin/status", s.handleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/admin/managers", s.handleAddManager).Methods(http.MethodPost)
	api.HandleFunc("/admin/managers/{address}", s.handleRemoveManager).Methods(http.MethodDelete)
	api.HandleFunc("/admin/fund-manager", s.handleUpdateFundManager).Methods(http.MethodPost)
	api.HandleFunc("/admin/funding-period", s.handleUpdateFundingPeriod).Methods(http.MethodPost)
	api.HandleFunc("/admin/fees", s.handleUpdateFees).Methods(http.MethodPost)
	api.HandleFunc("/admin/decimals", s.handleUpdateDecimals).Methods(http.MethodPost)

	if s.deps.Reader != nil {
		api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Package api serves the paper runner's state over REST and streams its
// events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go-smc/internal/backtest"
	"go-smc/internal/model"
	"go-smc/internal/paper"
	"go-smc/internal/storage"

	"go.uber.org/zap"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 500
)

// RunnerReader provides read-only access to the paper runner.
type RunnerReader interface {
	Status() paper.Status
	Trades() []model.Trade
}

// Server is the REST API + WebSocket server.
type Server struct {
	runner  RunnerReader
	ledger  storage.Ledger
	hub     *Hub
	logger  *zap.Logger
	mux     *http.ServeMux
	srv     *http.Server
	address string

	mu     sync.RWMutex
	report *backtest.Report
}

// NewServer creates an API server. The ledger may be nil.
func NewServer(address string, runner RunnerReader, ledger storage.Ledger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:  runner,
		ledger:  ledger,
		hub:     NewHub(logger),
		logger:  logger,
		mux:     http.NewServeMux(),
		address: address,
	}
	s.registerRoutes()
	return s
}

// Hub returns the WebSocket hub for broadcasting.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// SetReport replaces the report served by /api/report.
func (s *Server) SetReport(rep *backtest.Report) {
	s.mu.Lock()
	s.report = rep
	s.mu.Unlock()
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/trades", s.handleTrades)
	s.mux.HandleFunc("GET /api/report", s.handleReport)
	s.mux.HandleFunc("GET /api/runs", s.handleRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	s.mux.HandleFunc("GET /api/runs/{id}/trades", s.handleRunTrades)
	s.mux.HandleFunc("/ws", s.hub.ServeWS)
}

// Run starts the HTTP server and the WebSocket hub. It blocks until ctx is
// cancelled and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.srv = &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api_server_started", zap.String("address", s.address))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ok(w, map[string]any{"status": "ok", "ws_clients": s.hub.ClientCount()})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	ok(w, s.runner.Status())
}

func (s *Server) handleTrades(w http.ResponseWriter, _ *http.Request) {
	ok(w, s.runner.Trades())
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	rep := s.report
	s.mu.RUnlock()
	if rep == nil {
		fail(w, http.StatusNotFound, "no backtest report loaded")
		return
	}
	ok(w, rep)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		fail(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	runs, err := s.ledger.Runs(r.Context(), limitParam(r))
	if err != nil {
		s.logger.Error("api_runs_failed", zap.Error(err))
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		fail(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	run, err := s.ledger.Run(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		fail(w, http.StatusNotFound, err.Error())
	case err != nil:
		fail(w, http.StatusInternalServerError, err.Error())
	default:
		ok(w, run)
	}
}

func (s *Server) handleRunTrades(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		fail(w, http.StatusServiceUnavailable, "ledger not configured")
		return
	}
	trades, err := s.ledger.Trades(r.Context(), r.PathValue("id"), limitParam(r))
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	ok(w, trades)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return defaultRunLimit
	}
	return min(n, maxRunLimit)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, model.APIResponse{Data: data, Timestamp: time.Now().UTC()})
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.APIResponse{Error: msg, Timestamp: time.Now().UTC()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

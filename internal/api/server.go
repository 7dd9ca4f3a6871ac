// Package api provides the HTTP and WebSocket server for the strategy
// engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/internal/backtest"
	"github.com/tradeforge/strategy-engine/internal/data"
	"github.com/tradeforge/strategy-engine/internal/live"
	"github.com/tradeforge/strategy-engine/internal/rules"
	"github.com/tradeforge/strategy-engine/internal/workers"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server.
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     *types.ServerConfig
	engineCfg  types.EngineConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	store      *data.Store
	pool       *workers.Pool
	liveSvc    *live.Service
	hub        *Hub
	metrics    *Metrics
	backtests  map[string]*backtestState
	done       chan struct{}
}

// backtestState tracks one submitted backtest through its lifecycle.
type backtestState struct {
	ID        string
	Config    *types.BacktestConfig
	Runner    *backtest.Runner
	Result    *types.BacktestResult
	ErrMsg    string
	CreatedAt time.Time
}

// NewServer creates the API server and its worker pool.
func NewServer(logger *zap.Logger, config *types.ServerConfig, engineCfg types.EngineConfig, store *data.Store, liveSvc *live.Service) *Server {
	metrics := NewMetrics()

	poolCfg := workers.DefaultPoolConfig("backtests")
	if engineCfg.Workers > 0 {
		poolCfg.NumWorkers = engineCfg.Workers
	}
	if engineCfg.QueueSize > 0 {
		poolCfg.QueueSize = engineCfg.QueueSize
	}

	s := &Server{
		logger:    logger,
		config:    config,
		engineCfg: engineCfg,
		router:    mux.NewRouter(),
		store:     store,
		pool:      workers.NewPool(logger, poolCfg),
		liveSvc:   liveSvc,
		metrics:   metrics,
		backtests: make(map[string]*backtestState),
		done:      make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the dashboard runs on a separate origin
			},
		},
	}
	s.hub = NewHub(logger, metrics)
	s.pool.Start()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.metrics.instrument("health", s.handleHealth)).Methods("GET")

	api.HandleFunc("/backtests", s.metrics.instrument("backtests", s.handleRunBacktest)).Methods("POST")
	api.HandleFunc("/backtests", s.metrics.instrument("backtests", s.handleListBacktests)).Methods("GET")
	api.HandleFunc("/backtests/{id}", s.metrics.instrument("backtest", s.handleGetBacktest)).Methods("GET")
	api.HandleFunc("/backtests/{id}/trades", s.metrics.instrument("backtest_trades", s.handleGetBacktestTrades)).Methods("GET")
	api.HandleFunc("/backtests/{id}/cancel", s.metrics.instrument("backtest_cancel", s.handleCancelBacktest)).Methods("POST")

	api.HandleFunc("/strategies/validate", s.metrics.instrument("validate", s.handleValidateStrategy)).Methods("POST")

	api.HandleFunc("/live/strategies", s.metrics.instrument("live_strategies", s.handleActivateStrategy)).Methods("POST")
	api.HandleFunc("/live/strategies", s.metrics.instrument("live_strategies", s.handleListLiveStrategies)).Methods("GET")
	api.HandleFunc("/live/strategies/{id}", s.metrics.instrument("live_strategy", s.handleDeactivateStrategy)).Methods("DELETE")
	api.HandleFunc("/live/bars", s.metrics.instrument("live_bars", s.handleLiveBar)).Methods("POST")

	api.HandleFunc("/data/symbols", s.metrics.instrument("symbols", s.handleGetSymbols)).Methods("GET")
	api.HandleFunc("/data/history/{symbol:.+}", s.metrics.instrument("history", s.handleGetHistory)).Methods("GET")

	api.HandleFunc("/workers/stats", s.metrics.instrument("workers", s.handleWorkerStats)).Methods("GET")

	s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")

	wsPath := s.config.WebSocketPath
	if wsPath == "" {
		wsPath = "/ws"
	}
	s.router.HandleFunc(wsPath, s.handleWebSocket)
}

// Start launches the pool, the hub, the live event pump, and the HTTP
// listener. It blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run(s.done)
	go s.pumpLiveEvents()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("API server listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains the listener before stopping the pool, so in-flight
// handlers cannot submit to a stopping pool.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.pool.Stop()
	close(s.done)
	return err
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// pumpLiveEvents forwards live-service events and intents to the hub.
func (s *Server) pumpLiveEvents() {
	for {
		select {
		case <-s.done:
			return
		case event := <-s.liveSvc.Events():
			s.hub.Publish(MsgTypeLiveEvent, "live", event)
		case intent := <-s.liveSvc.Intents():
			s.hub.Publish(MsgTypeOrderIntent, "live", intent)
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Error("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

// runBacktestRequest is the POST /backtests payload.
type runBacktestRequest struct {
	Strategy       types.Strategy   `json:"strategy"`
	StartDate      time.Time        `json:"startDate"`
	EndDate        time.Time        `json:"endDate"`
	InitialCapital decimal.Decimal  `json:"initialCapital"`
	Commission     *decimal.Decimal `json:"commission,omitempty"`
	RiskFreeRate   *float64         `json:"riskFreeRate,omitempty"`
}

func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var req runBacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := rules.ValidateStrategy(&req.Strategy); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InitialCapital.LessThanOrEqual(decimal.Zero) {
		s.respondError(w, http.StatusBadRequest, "initialCapital must be positive")
		return
	}

	commission := s.engineCfg.DefaultCommission
	if req.Commission != nil {
		commission = *req.Commission
	}
	riskFree := s.engineCfg.DefaultRiskFreeRate
	if req.RiskFreeRate != nil {
		riskFree = *req.RiskFreeRate
	}

	id := uuid.New().String()
	config := &types.BacktestConfig{
		ID:             id,
		Strategy:       req.Strategy,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		InitialCapital: req.InitialCapital,
		Commission:     commission,
		RiskFreeRate:   riskFree,
	}

	runner := backtest.NewRunner(s.logger.Named("backtest"), config)
	channel := "backtest:" + id
	runner.OnProgress(func(p types.BacktestProgress) {
		s.hub.Publish(MsgTypeBacktestProgress, channel, p)
	})

	state := &backtestState{
		ID:        id,
		Config:    config,
		Runner:    runner,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.backtests[id] = state
	s.mu.Unlock()

	task := workers.TaskFunc(func(ctx context.Context) error {
		return s.executeBacktest(ctx, state, channel)
	})
	if err := s.pool.Submit(task); err != nil {
		s.mu.Lock()
		delete(s.backtests, id)
		s.mu.Unlock()
		s.respondError(w, http.StatusServiceUnavailable, "backtest queue full")
		return
	}

	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     id,
		"status": string(types.BacktestPending),
	})
}

func (s *Server) executeBacktest(ctx context.Context, state *backtestState, channel string) error {
	s.metrics.backtestRunning.Inc()
	defer s.metrics.backtestRunning.Dec()

	cfg := state.Config
	bars, err := s.store.LoadOHLCV(ctx, cfg.Strategy.Symbol, cfg.Strategy.Timeframe, cfg.StartDate, cfg.EndDate)
	if err != nil {
		s.finishBacktest(state, nil, err, channel)
		return err
	}

	result, err := state.Runner.Run(ctx, bars)
	s.finishBacktest(state, result, err, channel)
	return err
}

func (s *Server) finishBacktest(state *backtestState, result *types.BacktestResult, err error, channel string) {
	s.mu.Lock()
	state.Result = result
	if err != nil {
		state.ErrMsg = err.Error()
	}
	s.mu.Unlock()

	status := state.Runner.Status()
	s.metrics.backtestsTotal.WithLabelValues(string(status)).Inc()
	if result != nil {
		s.metrics.backtestBars.Add(float64(result.BarsProcessed))
		s.metrics.backtestSeconds.Observe(result.Duration.Seconds())
	}

	s.hub.Publish(MsgTypeBacktestDone, channel, map[string]interface{}{
		"id":     state.ID,
		"status": status,
		"error":  state.ErrMsg,
	})
}

// backtestSummary is the list/detail representation of a run.
type backtestSummary struct {
	ID        string                `json:"id"`
	Status    types.BacktestStatus  `json:"status"`
	Symbol    string                `json:"symbol"`
	CreatedAt time.Time             `json:"createdAt"`
	Error     string                `json:"error,omitempty"`
	Result    *types.BacktestResult `json:"result,omitempty"`
}

func (s *Server) summarize(state *backtestState, includeResult bool) backtestSummary {
	summary := backtestSummary{
		ID:        state.ID,
		Status:    state.Runner.Status(),
		Symbol:    state.Config.Strategy.Symbol,
		CreatedAt: state.CreatedAt,
		Error:     state.ErrMsg,
	}
	if includeResult {
		summary.Result = state.Result
	}
	return summary
}

func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	summaries := make([]backtestSummary, 0, len(s.backtests))
	for _, state := range s.backtests {
		summaries = append(summaries, s.summarize(state, false))
	}
	s.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	s.respondJSON(w, http.StatusOK, summaries)
}

func (s *Server) getBacktest(id string) *backtestState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backtests[id]
}

func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	state := s.getBacktest(mux.Vars(r)["id"])
	if state == nil {
		s.respondError(w, http.StatusNotFound, "backtest not found")
		return
	}
	s.respondJSON(w, http.StatusOK, s.summarize(state, true))
}

func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	state := s.getBacktest(mux.Vars(r)["id"])
	if state == nil {
		s.respondError(w, http.StatusNotFound, "backtest not found")
		return
	}
	s.mu.RLock()
	result := state.Result
	s.mu.RUnlock()
	if result == nil {
		s.respondError(w, http.StatusConflict, "backtest has no result yet")
		return
	}
	s.respondJSON(w, http.StatusOK, result.Trades)
}

func (s *Server) handleCancelBacktest(w http.ResponseWriter, r *http.Request) {
	state := s.getBacktest(mux.Vars(r)["id"])
	if state == nil {
		s.respondError(w, http.StatusNotFound, "backtest not found")
		return
	}
	state.Runner.Cancel()
	s.respondJSON(w, http.StatusOK, map[string]string{
		"id":     state.ID,
		"status": "cancelling",
	})
}

func (s *Server) handleValidateStrategy(w http.ResponseWriter, r *http.Request) {
	var strategy types.Strategy
	if err := json.NewDecoder(r.Body).Decode(&strategy); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := rules.ValidateStrategy(&strategy); err != nil {
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}

func (s *Server) handleActivateStrategy(w http.ResponseWriter, r *http.Request) {
	var strategy types.Strategy
	if err := json.NewDecoder(r.Body).Decode(&strategy); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strategy.ID == "" {
		strategy.ID = uuid.New().String()
	}
	if err := s.liveSvc.Activate(&strategy, nil); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"id": strategy.ID})
}

func (s *Server) handleListLiveStrategies(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.liveSvc.ActiveStrategies())
}

func (s *Server) handleDeactivateStrategy(w http.ResponseWriter, r *http.Request) {
	s.liveSvc.Deactivate(mux.Vars(r)["id"])
	w.WriteHeader(http.StatusNoContent)
}

// liveBarRequest feeds one bar into live evaluation, used by paper
// feeds and integration tests in place of a real market stream.
type liveBarRequest struct {
	Symbol string      `json:"symbol"`
	Bar    types.OHLCV `json:"bar"`
}

func (s *Server) handleLiveBar(w http.ResponseWriter, r *http.Request) {
	var req liveBarRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Symbol == "" {
		s.respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	s.liveSvc.OnBar(req.Symbol, req.Bar)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.store.AvailableSymbols())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	timeframe := types.Timeframe(r.URL.Query().Get("timeframe"))
	if timeframe == "" {
		timeframe = types.Timeframe1h
	}
	if !timeframe.Valid() {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown timeframe %q", timeframe))
		return
	}

	end := time.Now().UTC()
	if raw := r.URL.Query().Get("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}
		end = parsed
	}
	start := end.AddDate(0, -1, 0)
	if raw := r.URL.Query().Get("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		start = parsed
	}

	bars, err := s.store.LoadOHLCV(r.Context(), symbol, timeframe, start, end)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, bars)
}

func (s *Server) handleWorkerStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.pool.GetStats())
}

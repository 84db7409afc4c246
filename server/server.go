// Package server exposes the scorer's results over HTTP and websocket: REST
// endpoints for the configured pairs, their ranked opportunities, and the
// cross-venue funding overview, plus a push stream of the top opportunities
// per pair and the overview grid.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"fundingflow/config"
	"fundingflow/feed"
	"fundingflow/logger"
	"fundingflow/metrics"
	"fundingflow/models"
	"fundingflow/scorer"
)

const defaultBroadcastInterval = time.Second

type Server struct {
	cfg      config.ServerConfig
	runner   *scorer.Runner
	adapters map[string]feed.Adapter
	hub      *Hub
	log      *logger.Log
	httpSrv  *http.Server
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex

	running bool
}

func New(cfg config.ServerConfig, runner *scorer.Runner, adapters map[string]feed.Adapter) *Server {
	s := &Server{
		cfg:      cfg,
		runner:   runner,
		adapters: adapters,
		hub:      NewHub(),
		log:      logger.GetLogger(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/pairs", s.handlePairs).Methods(http.MethodGet)
	r.HandleFunc("/api/opportunities/{pair}", s.handleOpportunities).Methods(http.MethodGet)
	r.HandleFunc("/api/overview", s.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS)

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) broadcastInterval() time.Duration {
	if s.cfg.BroadcastIntervalMs > 0 {
		return time.Duration(s.cfg.BroadcastIntervalMs) * time.Millisecond
	}
	return defaultBroadcastInterval
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.WithComponent("server").WithFields(logger.Fields{
		"listen_addr": s.cfg.ListenAddr,
	}).Info("http server starting")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithComponent("server").WithError(err).Error("http server failed")
		}
	}()
	go func() {
		defer s.wg.Done()
		s.broadcastLoop(ctx)
	}()
	return nil
}

func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		s.log.WithComponent("server").WithError(err).Warn("http server shutdown failed")
	}
	s.hub.Close()
	s.wg.Wait()
	s.log.WithComponent("server").Info("http server stopped")
}

// broadcastLoop pushes the top opportunities for every pair to websocket
// clients on a fixed cadence.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.broadcastInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			s.broadcastOnce()
		}
	}
}

type wsFrame struct {
	Type          string               `json:"type"`
	Pair          string               `json:"pair,omitempty"`
	Timestamp     int64                `json:"timestamp"`
	Opportunities []models.Opportunity `json:"opportunities,omitempty"`
	Overview      []scorer.OverviewRow `json:"overview,omitempty"`
}

func (s *Server) broadcastOnce() {
	now := time.Now().UnixMilli()
	for _, pair := range s.runner.Pairs() {
		opps, ok := s.runner.Results(pair)
		if !ok {
			continue
		}
		if s.cfg.TopN > 0 && len(opps) > s.cfg.TopN {
			opps = opps[:s.cfg.TopN]
		}
		frame, err := json.Marshal(wsFrame{
			Type:          "opportunities",
			Pair:          pair,
			Timestamp:     now,
			Opportunities: opps,
		})
		if err != nil {
			continue
		}
		s.hub.Broadcast(frame)
	}

	if frame, err := json.Marshal(wsFrame{
		Type:      "overview",
		Timestamp: now,
		Overview:  s.runner.Overview(),
	}); err == nil {
		s.hub.Broadcast(frame)
	}
}

func (s *Server) handlePairs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pairs": s.runner.Pairs()})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	opps, ok := s.runner.Results(pair)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "unknown pair: " + pair})
		return
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid limit: " + limitStr})
			return
		}
		if limit < len(opps) {
			opps = opps[:limit]
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"pair":          pair,
		"opportunities": opps,
	})
}

func (s *Server) handleOverview(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"overview": s.runner.Overview()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	venues := make(map[string]string, len(s.adapters))
	for venue, adapter := range s.adapters {
		venues[venue] = string(adapter.State())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"venues":     venues,
		"ws_clients": s.hub.ClientCount(),
		"counters":   metrics.Snapshot(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.GetLogger().WithComponent("server").WithError(err).Warn("failed to encode response")
	}
}

// Package api exposes the engine's tracked-market and signal state over
// HTTP (spec §9 operator surface): a REST snapshot of indicators/order
// books per market, a filterable signal history, and an SSE stream of
// newly emitted signals.
//
// Grounded on the teacher's api.Server (internal/api/server.go): same
// gorilla/mux + rs/cors wiring and the same bounded-history-plus-SSE
// pattern for /signals and /stream/signals, generalized off the
// teacher's state.Engine/signals.Signal model onto
// orchestrator.Orchestrator/signalkind.Signal, and with the political
// categorizeMarket keyword-matching endpoint dropped (see DESIGN.md -
// the spec's subject domain is market-neutral microstructure, not
// Kalshi political-market taxonomy).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/microstructure-engine/internal/config"
	"github.com/microstructure-engine/internal/orchestrator"
	"github.com/microstructure-engine/internal/signalkind"
)

const maxSignalHistory = 1000

// Server is the HTTP surface over a running Orchestrator. It also
// implements collaborators.SignalSink so main.go can register it
// alongside (or instead of) the notify.Sink.
type Server struct {
	cfg   config.APIConfig
	orch  *orchestrator.Orchestrator
	inner *http.Server

	mu      sync.RWMutex
	signals []signalkind.Signal
}

func NewServer(cfg config.APIConfig, orch *orchestrator.Orchestrator) *Server {
	return &Server{
		cfg:     cfg,
		orch:    orch,
		signals: make([]signalkind.Signal, 0, maxSignalHistory),
	}
}

// OnSignal and OnMicrostructureSignal both append to the same bounded
// history; /signals distinguishes them by kind, not by source family.
func (s *Server) OnSignal(signal signalkind.Signal)              { s.record(signal) }
func (s *Server) OnMicrostructureSignal(signal signalkind.Signal) { s.record(signal) }

func (s *Server) record(signal signalkind.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, signal)
	if len(s.signals) > maxSignalHistory {
		s.signals = s.signals[len(s.signals)-maxSignalHistory:]
	}
}

func (s *Server) Run(ctx context.Context) error {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/markets", s.getMarkets).Methods("GET")
	api.HandleFunc("/markets/{marketID}", s.getMarket).Methods("GET")
	api.HandleFunc("/markets/{marketID}/orderbook", s.getOrderbook).Methods("GET")
	api.HandleFunc("/signals", s.getSignals).Methods("GET")
	api.HandleFunc("/stream/signals", s.streamSignals).Methods("GET")
	api.HandleFunc("/health", s.getHealth).Methods("GET")

	s.inner = &http.Server{
		Addr:    s.cfg.BindAddress,
		Handler: c.Handler(router),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.inner.Shutdown(shutdownCtx)
	}()

	if err := s.inner.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) getMarkets(w http.ResponseWriter, r *http.Request) {
	ids := s.orch.TrackedMarketIDs()
	writeJSON(w, struct {
		Markets []string `json:"markets"`
		Count   int      `json:"count"`
	}{ids, len(ids)})
}

func (s *Server) getMarket(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["marketID"]

	ind, hasIndicators := s.orch.LatestIndicators(marketID)
	_, hasOrderbook := s.orch.LatestOrderbook(marketID)
	if !hasIndicators && !hasOrderbook {
		http.Error(w, "market not tracked", http.StatusNotFound)
		return
	}

	response := struct {
		MarketID      string      `json:"market_id"`
		HasIndicators bool        `json:"has_indicators"`
		Indicators    interface{} `json:"indicators,omitempty"`
		HasOrderbook  bool        `json:"has_orderbook"`
	}{
		MarketID:      marketID,
		HasIndicators: hasIndicators,
		HasOrderbook:  hasOrderbook,
	}
	if hasIndicators {
		response.Indicators = ind
	}
	writeJSON(w, response)
}

func (s *Server) getOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := mux.Vars(r)["marketID"]
	ob, ok := s.orch.LatestOrderbook(marketID)
	if !ok {
		http.Error(w, "orderbook not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ob)
}

func (s *Server) getSignals(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	all := make([]signalkind.Signal, len(s.signals))
	copy(all, s.signals)
	s.mu.RUnlock()

	marketID := r.URL.Query().Get("market_id")
	kind := r.URL.Query().Get("kind")
	limit := len(all)
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if l, err := strconv.Atoi(ls); err == nil && l > 0 {
			limit = l
		}
	}

	filtered := make([]signalkind.Signal, 0, len(all))
	for _, sig := range all {
		if marketID != "" && sig.MarketID != marketID {
			continue
		}
		if kind != "" && string(sig.Kind) != kind {
			continue
		}
		filtered = append(filtered, sig)
	}
	if limit < len(filtered) {
		filtered = filtered[len(filtered)-limit:]
	}

	writeJSON(w, struct {
		Signals []signalkind.Signal `json:"signals"`
		Count   int                 `json:"count"`
	}{filtered, len(filtered)})
}

func (s *Server) streamSignals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	fmt.Fprintf(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			currentCount := len(s.signals)
			var fresh []signalkind.Signal
			if currentCount > lastCount {
				fresh = append(fresh, s.signals[lastCount:]...)
			}
			s.mu.RUnlock()

			for _, sig := range fresh {
				data, _ := json.Marshal(sig)
				fmt.Fprintf(w, "data: %s\n\n", data)
			}
			if len(fresh) > 0 {
				flusher.Flush()
				lastCount = currentCount
			}
		}
	}
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Status         string    `json:"status"`
		Timestamp      time.Time `json:"timestamp"`
		Markets        int       `json:"markets"`
		AnalyzerPanics int64     `json:"analyzer_panics"`
	}{"healthy", time.Now(), len(s.orch.TrackedMarketIDs()), s.orch.TotalErrors()})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

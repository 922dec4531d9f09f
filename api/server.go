// Package api serves the read-only dashboard endpoints and the engine
// start/stop controls.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/meanrev/pairsbot/pkg/binance"
	"github.com/meanrev/pairsbot/pkg/models"
	"github.com/meanrev/pairsbot/pkg/trader"
)

type Server struct {
	engine *trader.Engine
	client binance.Client
	stream *binance.MarkPriceStream
	ledger ledgerReader
	pair   []string
	logger *logrus.Logger
	port   int
}

type ledgerReader interface {
	All() []models.TradeRecord
}

func NewServer(engine *trader.Engine, client binance.Client, stream *binance.MarkPriceStream, l ledgerReader, symbols []string, logger *logrus.Logger, port int) *Server {
	return &Server{
		engine: engine,
		client: client,
		stream: stream,
		ledger: l,
		pair:   symbols,
		logger: logger,
		port:   port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/positions", s.handlePositions)
	mux.HandleFunc("/api/prices", s.handlePrices)
	mux.HandleFunc("/api/engine/start", s.handleEngineStart)
	mux.HandleFunc("/api/engine/stop", s.handleEngineStop)
	mux.Handle("/metrics", promhttp.Handler())

	// Enable CORS for the dashboard
	handler := corsMiddleware(mux)

	s.logger.Infof("Starting API server on port %d", s.port)
	return http.ListenAndServe(fmt.Sprintf(":%d", s.port), handler)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"running":   s.engine.Running(),
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.ledger.All())
}

// handlePositions reports the exchange's own view of both legs so the
// dashboard can cross-check the engine's state.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	var out []models.PositionSnapshot
	for _, symbol := range s.pair {
		positions, err := s.client.Positions(ctx, symbol)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", symbol).Error("Failed to fetch position risk")
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		out = append(out, positions...)
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.stream == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"prices": map[string]float64{}})
		return
	}

	prices, updated := s.stream.Prices()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"prices":  prices,
		"updated": updated,
	})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.engine.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": true})
}

func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.engine.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": false})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

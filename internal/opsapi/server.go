// Package opsapi serves health, metrics and watch state for operators.
package opsapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"daoscope/internal/ledger"
	"daoscope/internal/storage"
	"daoscope/internal/watch"
)

const (
	readTimeout  = 5 * time.Second
	writeTimeout = 10 * time.Second
	idleTimeout  = 60 * time.Second
)

// WatchLister exposes the registry's tracked targets.
type WatchLister interface {
	Targets() []watch.TargetStatus
}

type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

func NewServer(addr string, watches WatchLister, store storage.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(watches, store, logger),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		logger: logger,
	}
}

// Start serves in the background. Listener failures are logged.
func (s *Server) Start() {
	go func() {
		s.logger.Info("ops server listening", zap.String("address", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server failed", zap.Error(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func NewRouter(watches WatchLister, store storage.Store, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/watches", handleWatches(watches, logger))
	r.Get("/tokens/{address}/conservation", handleConservation(store, logger))
	return r
}

type watchView struct {
	Address string `json:"address"`
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	State   string `json:"state"`
}

func handleWatches(watches WatchLister, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		targets := watches.Targets()
		out := make([]watchView, 0, len(targets))
		for _, t := range targets {
			out = append(out, watchView{
				Address: t.Target.ContractAddress,
				Kind:    t.Target.Kind.String(),
				Name:    t.Target.DisplayName,
				State:   t.State.String(),
			})
		}
		writeJSON(w, logger, http.StatusOK, map[string]any{"watches": out})
	}
}

func handleConservation(store storage.Store, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := chi.URLParam(r, "address")
		if !common.IsHexAddress(address) {
			http.Error(w, "invalid address", http.StatusBadRequest)
			return
		}
		c, err := ledger.CheckConservation(r.Context(), store, address)
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "unknown token", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.Error("conservation check failed", zap.String("token", address), zap.Error(err))
			http.Error(w, "conservation check failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, logger, http.StatusOK, map[string]any{
			"token":    c.Token,
			"supply":   c.Supply.String(),
			"sum":      c.Sum.String(),
			"holders":  c.Holders,
			"balanced": c.Balanced(),
		})
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// Package health exposes HTTP health and metrics endpoints for container probes.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"kitchme_bot/internal/availability"
	"kitchme_bot/internal/logging"
)

const (
	readHeaderTimeout  = 2 * time.Second
	healthListenPrefix = ":"
)

// StoreStatus reports the current availability of the backing store.
type StoreStatus interface {
	State() availability.State
}

// Server hosts the health and metrics endpoints and owns the underlying HTTP server.
type Server struct {
	server *http.Server
	logger *logrus.Entry
	store  StoreStatus
}

type response struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

// NewServer constructs a server exposing GET /healthz and GET /metrics on the provided port.
func NewServer(port int, store StoreStatus, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		logger: logger,
		store:  store,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	srv.server = &http.Server{
		Addr:              fmt.Sprintf("%s%d", healthListenPrefix, port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv
}

// ListenAndServe starts the health server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "health_listen",
		"addr":  s.server.Addr,
	}).Info("starting health server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "health_stopped").Info("health server stopped")
			return nil
		}

		return fmt.Errorf("health server listen: %w", err)
	}

	s.logger.WithField("event", "health_stopped").Info("health server stopped")
	return nil
}

// Shutdown gracefully stops the health server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := response{Status: "ok", Store: "ok"}

	if s.store == nil {
		resp.Store = "error"
		s.logger.WithField("event", "health_store_missing").Warn("store status is not configured for health endpoint")
	} else if s.store.State() != availability.StateUp {
		resp.Store = "error"
	}

	// The bot keeps serving cached behavior while the store is down, so a
	// degraded store stays HTTP 200 for the container probe.
	if resp.Store != "ok" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}

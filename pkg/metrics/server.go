package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"weather-etl/pkg/logging"
)

// Server exposes the collector on /metrics and a liveness probe on /health
// while a long-running command is active.
type Server struct {
	server *http.Server
	logger *logging.StructuredLogger
}

// NewRouter builds the metrics router
func NewRouter(c *Collector) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", c.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return router
}

// NewServer creates a metrics server bound to addr
func NewServer(addr string, c *Collector, logger *logging.StructuredLogger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      NewRouter(c),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background
func (s *Server) Start(ctx context.Context) {
	go func() {
		s.logger.Info(ctx, "[METRICS_START] Metrics server listening", logging.Fields{
			"address": s.server.Addr,
		})

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error(ctx, "[METRICS_ERROR] Metrics server failed", logging.Fields{}, err)
		}
	}()
}

// Shutdown stops the server, waiting at most five seconds for in-flight scrapes
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

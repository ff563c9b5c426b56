// Package api implements the Control Plane (§6.1): an operator-facing HTTP
// surface over the Coordinator, protected by an API key, serving BigInt
// fields as decimal strings. Grounded in the teacher's pkg/api server
// (net/http.ServeMux with Go 1.22 method patterns, a RecoveryMiddleware /
// LoggingMiddleware / CORSMiddleware chain) generalized from a read-only
// event-query API to the operator command surface SPEC_FULL.md names.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/chainindexor/erc20indexer/internal/coordinator"
	"github.com/chainindexor/erc20indexer/internal/logger"
	"github.com/chainindexor/erc20indexer/pkg/config"
	pkgqueue "github.com/chainindexor/erc20indexer/pkg/queue"
	"github.com/chainindexor/erc20indexer/pkg/store"
)

const shutdownCtxTimeout = 10 * time.Second

// Server is the control-plane HTTP server.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer builds the Server, wiring every §6.1 route through the
// recovery/logging/CORS/API-key middleware chain.
func NewServer(cfg config.APIConfig, catchUpWindow time.Duration, coord *coordinator.Coordinator,
	storePorts store.Ports, queuePorts pkgqueue.Ports, log *logger.Logger) *Server {
	handler := NewHandler(coord, storePorts, queuePorts, catchUpWindow, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", handler.Health)
	mux.HandleFunc("POST /indexer/start", handler.Start)
	mux.HandleFunc("POST /indexer/stop", handler.Stop)
	mux.HandleFunc("POST /indexer/reset", handler.Reset)
	mux.HandleFunc("POST /indexer/catch-up", handler.CatchUp)
	mux.HandleFunc("GET /indexer/status", handler.Status)
	mux.HandleFunc("GET /indexer/reorgs", handler.Reorgs)
	mux.HandleFunc("GET /indexer/queue-metrics", handler.QueueMetrics)

	var h http.Handler = mux
	h = APIKeyMiddleware(cfg.APIKey)(h)
	h = CORSMiddleware([]string{"*"})(h)
	h = LoggingMiddleware(log)(h)
	h = RecoveryMiddleware(log)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server within shutdownCtxTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownCtxTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Package server exposes item streaming, manual health checks, connection
// occupancy and Prometheus metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/zzenonn/zdav/internal/connections"
	"github.com/zzenonn/zdav/internal/domain"
	"github.com/zzenonn/zdav/internal/stream"
)

const shutdownTimeout = 15 * time.Second

// ItemStreamer opens stored items for reading.
type ItemStreamer interface {
	OpenItem(ctx context.Context, id string) (domain.Item, stream.Stream, error)
}

// HealthChecker runs a health check on demand.
type HealthChecker interface {
	CheckItem(ctx context.Context, id string) (domain.HealthCheckResult, error)
}

// ResultLister reads the health check history of an item.
type ResultLister interface {
	ListResults(ctx context.Context, itemID string) ([]domain.HealthCheckResult, error)
}

// ConnectionStats reports provider pool occupancy.
type ConnectionStats interface {
	Stats() connections.PoolStats
	ProviderStats() map[string]connections.PoolStats
}

type Server struct {
	httpServer *http.Server
	items      ItemStreamer
	checker    HealthChecker
	results    ResultLister
	stats      ConnectionStats
}

// New builds the router. gatherer serves /metrics; nil uses the default
// registry.
func New(
	addr string,
	items ItemStreamer,
	checker HealthChecker,
	results ResultLister,
	stats ConnectionStats,
	gatherer prometheus.Gatherer,
) *Server {
	s := &Server{
		items:   items,
		checker: checker,
		results: results,
		stats:   stats,
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(requestLogger)

	router.Get("/healthz", s.handleHealthz)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Route("/api", func(r chi.Router) {
		r.Get("/connections", s.handleConnections)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/stream", s.handleStream)
			r.Head("/stream", s.handleStream)
			r.Get("/health", s.handleListResults)
			r.Post("/health", s.handleCheck)
		})
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Handler is the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down HTTP server: %w", err)
	}
	log.Info("HTTP server stopped")
	return nil
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.WithFields(log.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("handled request")
	})
}

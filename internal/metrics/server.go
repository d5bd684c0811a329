package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"firestige.xyz/harpoon/internal/log"
	"firestige.xyz/harpoon/pkg/core"
)

// Server serves the Prometheus scrape endpoint.
type Server struct {
	addr   string
	path   string
	server *http.Server
	logger log.Logger
}

// NewServer builds a server on addr. An empty path defaults to /metrics.
func NewServer(addr, path string) *Server {
	if path == "" {
		path = "/metrics"
	}
	return &Server{
		addr:   addr,
		path:   path,
		logger: log.GetLogger().WithField("component", "metrics"),
	}
}

// Start begins serving in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.Handler())

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("addr", s.addr).WithField("path", s.path).
		Info("metrics server listening")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server failed")
		}
	}()
	return nil
}

// Stop shuts the server down, waiting up to five seconds for in-flight
// scrapes.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return core.Wrap(core.CodeCleanupFailed, err, "metrics server shutdown")
	}
	s.logger.Info("metrics server stopped")
	return nil
}

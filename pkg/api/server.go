package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the REST surface in an http.Server with sane timeouts.
type Server struct {
	http   *http.Server
	logger *zap.Logger
}

// NewServer builds the HTTP server for the handler set.
func NewServer(addr string, h *Handler, logger *zap.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         addr,
			Handler:      h.Router(),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger.Named("http"),
	}
}

// ListenAndServe blocks serving requests until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("rest interface listening", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("rest interface shutting down")
	return s.http.Shutdown(ctx)
}

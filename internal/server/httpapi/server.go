package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/bizkeeper/internal/logging"
)

// Server runs the sync HTTP endpoint with graceful shutdown on context
// cancellation.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

func NewServer(addr string, svc Service, secretKey string, logger logging.Logger) *Server {
	h := NewHandler(svc, logger)
	secret := []byte(secretKey)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /sync/pull", h.withAuth(secret, h.pull))
	mux.HandleFunc("POST /sync/push", h.withAuth(secret, h.push))
	mux.HandleFunc("GET /ping", h.ping)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("module", "http_server"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

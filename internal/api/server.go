package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/agrimon/internal/errors"
	"codeberg.org/mutker/agrimon/internal/logger"
)

const readHeaderTimeout = 10 * time.Second

// Server runs the HTTP listener for a handler
type Server struct {
	srv *http.Server
	log logger.Logger
}

func NewServer(addr string, handler http.Handler, log logger.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		log: log.With("addr", addr),
	}
}

// ListenAndServe blocks until the server fails or is shut down. A clean
// shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info().Msg("HTTP server listening")

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(ErrServeFailed, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	return nil
}

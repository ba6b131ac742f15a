package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/rorp/rebalance-eclair/internal/rebalance"
)

// Server exposes the read/reset observability API. It is not a control
// plane for the node; binding defaults to loopback.
type Server struct {
	addr   string
	worker *rebalance.Worker
	logger zerolog.Logger
	http   *http.Server
}

func New(addr string, worker *rebalance.Worker, logger zerolog.Logger) *Server {
	s := &Server{
		addr:   addr,
		worker: worker,
		logger: logger,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/api/overview", s.handleOverview)
	r.Get("/api/channels", s.handleChannels)
	r.Get("/api/exclusions", s.handleExclusions)
	r.Post("/api/exclusions/reset", s.handleExclusionReset)
	r.Post("/api/pass", s.handleTriggerPass)
	r.Get("/api/events", s.handleEvents)
	return r
}

func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.addr).Msg("observability API listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.http.Shutdown(ctx)
}

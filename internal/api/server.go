// Package api exposes a small operational HTTP surface over the queue:
// enqueue, inspect, requeue dead letters, stats. It binds to localhost by
// default and carries no auth; it is an operator tool, not a public API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/way365/notiq/internal/config"
	"github.com/way365/notiq/internal/queue"
	"github.com/way365/notiq/internal/storage"
)

type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	log    zerolog.Logger
	http   *http.Server
}

func NewServer(cfg config.ServerConfig, q *queue.Queue, store storage.Store, log zerolog.Logger) *Server {
	s := &Server{
		cfg: cfg,
		log: log,
	}
	s.router = s.buildRouter(q, store)
	return s
}

func (s *Server) buildRouter(q *queue.Queue, store storage.Store) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware(s.log))

	h := NewMessageHandler(q, store)

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", h.Send)
		r.Get("/messages", h.List)
		r.Get("/messages/{messageID}", h.Get)
		r.Post("/messages/{messageID}/requeue", h.Requeue)
		r.Delete("/messages/{messageID}", h.Delete)
		r.Get("/stats", h.Stats)
	})

	return r
}

// Handler returns the router; tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.log.Info().Str("addr", addr).Msg("starting ops HTTP server")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(timeout time.Duration) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func loggingMiddleware(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)

			log.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.statusCode).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

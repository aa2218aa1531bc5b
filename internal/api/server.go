// Package api exposes the REST and SSE surface.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/codescope-ai/codescope/internal/logging"
	"github.com/codescope-ai/codescope/internal/msgstore"
	"github.com/codescope-ai/codescope/internal/orchestrator"
	"github.com/codescope-ai/codescope/internal/store"
)

// Server hosts the HTTP API.
type Server struct {
	store  *store.SQLiteStore
	events *msgstore.Store
	orch   *orchestrator.Orchestrator
	auth   *Authenticator
	log    *logging.Logger
	router chi.Router
}

// Options configures the server.
type Options struct {
	Store       *store.SQLiteStore
	Events      *msgstore.Store
	Orch        *orchestrator.Orchestrator
	Auth        *Authenticator
	CORSOrigins []string
	Log         *logging.Logger
}

// NewServer builds the router and middleware chain.
func NewServer(opts Options) *Server {
	s := &Server{
		store:  opts.Store,
		events: opts.Events,
		orch:   opts.Orch,
		auth:   opts.Auth,
		log:    opts.Log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.With(s.auth.Middleware).Get("/auth/me", s.handleMe)

		r.Get("/projects", s.handleListProjects)
		r.Post("/projects", s.handleCreateProject)
		r.Get("/projects/{id}", s.handleGetProject)
		r.Put("/projects/{id}", s.handleUpdateProject)
		r.Delete("/projects/{id}", s.handleDeleteProject)
		r.Get("/projects/{id}/tickets", s.handleListTickets)
		r.Post("/projects/{id}/tickets", s.handleCreateTicket)

		r.Get("/tickets/{id}", s.handleGetTicket)
		r.Put("/tickets/{id}/status", s.handleUpdateTicketStatus)
		r.Delete("/tickets/{id}", s.handleDeleteTicket)
		r.Get("/tickets/{id}/logs", s.handleTicketLogs)
		r.Post("/tickets/{id}/analyze", s.handleAnalyze)
		r.Post("/tickets/{id}/stop-analysis", s.handleStopAnalysis)

		r.With(s.auth.Middleware).Put("/tickets/{id}/plan", s.handleUpdatePlan)
		r.Get("/tickets/{id}/plan/history", s.handlePlanHistory)
		r.With(s.auth.Middleware).Post("/tickets/{id}/plan/approve", s.handleApprovePlan)
		r.Get("/tickets/{id}/plan/approvals", s.handleListApprovals)

		r.Get("/events", s.handleSSE)
		r.Get("/stats/buffers", s.handleBufferStats)
	})

	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains connections.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBufferStats(w http.ResponseWriter, r *http.Request) {
	sizes, dropped := s.events.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"buffers": sizes,
		"dropped": dropped,
	})
}

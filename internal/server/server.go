// Package server exposes sync triggers, leave balances and reports over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JohanCodinha/worksync/internal/access"
	"github.com/JohanCodinha/worksync/internal/leave"
	"github.com/JohanCodinha/worksync/internal/logger"
	"github.com/JohanCodinha/worksync/internal/report"
	"github.com/JohanCodinha/worksync/internal/store"
	"github.com/JohanCodinha/worksync/internal/sync"
)

// Options configures the HTTP API.
type Options struct {
	Addr       string
	JWTSecret  string
	JWTExpiry  time.Duration
	WindowDays int

	// LoginRate and LoginBurst limit login attempts per client IP.
	LoginRate  float64
	LoginBurst int
}

// Server is the HTTP API.
type Server struct {
	db      *store.DB
	engine  *sync.Engine
	ledger  *leave.Ledger
	reports *report.Reporter
	opts    Options
	router  chi.Router
}

// New builds the router.
func New(db *store.DB, engine *sync.Engine, ledger *leave.Ledger, reports *report.Reporter, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.JWTExpiry <= 0 {
		opts.JWTExpiry = 24 * time.Hour
	}
	if opts.WindowDays <= 0 {
		opts.WindowDays = 30
	}
	if opts.LoginRate <= 0 {
		opts.LoginRate = 1
	}
	if opts.LoginBurst <= 0 {
		opts.LoginBurst = 5
	}

	s := &Server{db: db, engine: engine, ledger: ledger, reports: reports, opts: opts}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(s.opts.LoginRate, s.opts.LoginBurst))
		r.Post("/api/v1/auth/login", s.handleLogin)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.With(requireCapability(access.RunSync)).Post("/api/v1/sync/{type}", s.handleSync)
		r.With(requireCapability(access.ViewSyncRuns)).Get("/api/v1/sync/runs", s.handleListRuns)

		r.With(requireCapability(access.ViewLeave)).Get("/api/v1/leave/balance", s.handleLeaveBalance)
		r.With(requireCapability(access.RequestLeave)).Post("/api/v1/leave/request", s.handleLeaveRequest)
		r.With(requireCapability(access.ApproveLeave)).Post("/api/v1/leave/approve", s.handleLeaveApprove)
		r.With(requireCapability(access.ApproveLeave)).Post("/api/v1/leave/reject", s.handleLeaveReject)

		r.Route("/api/v1/reports", func(r chi.Router) {
			r.Use(requireCapability(access.ViewReports))
			r.Get("/workload", s.handleWorkload)
			r.Get("/missing-worklogs", s.handleMissingWorklogs)
			r.Get("/shadow-work", s.handleShadowWork)
		})
	})

	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening on %s", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("server: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Package api exposes the daemon's HTTP surface: task submission and
// cancellation, pool stats, task history, and health.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"taskd/internal/config"
	"taskd/internal/storage"
	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

// Deps are the collaborators the API serves. Store may be nil when
// history storage is disabled.
type Deps struct {
	Pool     *pool.Pool
	Registry *pool.Registry
	Store    storage.Store
	Log      logx.Logger

	// DefaultTimeout is applied to submissions that carry no timeout.
	DefaultTimeout time.Duration
}

type Server struct {
	cfg  config.HTTPConfig
	deps Deps
	mux  *chi.Mux
}

func New(cfg config.HTTPConfig, deps Deps) *Server {
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	s := &Server{cfg: cfg, deps: deps}
	s.mux = s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	if s.cfg.RatePerSec > 0 {
		r.Use(rateLimit(s.cfg.RatePerSec))
	}

	r.Post("/tasks", s.handleSubmit)
	r.Delete("/tasks/{id}", s.handleCancel)
	r.Get("/tasks/types", s.handleTypes)
	r.Get("/stats", s.handleStats)
	r.Get("/history", s.handleHistory)
	r.Get("/healthz", s.handleHealth)

	if s.cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.Get("/", pprof.Index)
			r.Get("/cmdline", pprof.Cmdline)
			r.Get("/profile", pprof.Profile)
			r.Get("/symbol", pprof.Symbol)
			r.Get("/trace", pprof.Trace)
			r.Get("/{name}", func(w http.ResponseWriter, req *http.Request) {
				pprof.Handler(chi.URLParam(req, "name")).ServeHTTP(w, req)
			})
		})
	}
	return r
}

// Run serves until ctx is cancelled, then drains with a bounded grace
// period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.deps.Log.Info("http api listening", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.deps.Log.Info("http api stopped")
	return nil
}

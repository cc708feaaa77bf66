// Package admin serves metrics, health and read-only console commands over
// HTTP.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbsmedya/goadaptive/internal/console"
	"github.com/dbsmedya/goadaptive/internal/logger"
)

// HealthFunc reports whether the backends are reachable.
type HealthFunc func(ctx context.Context) error

// Server is the admin HTTP server.
type Server struct {
	router  *chi.Mux
	console *console.Console
	health  HealthFunc
	logger  *logger.Logger

	srv      *http.Server
	listener net.Listener
}

// New builds the routes. cons and health may be nil, which disables the
// console routes and makes /healthz always succeed.
func New(reg *prometheus.Registry, cons *console.Console, health HealthFunc, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault()
	}
	s := &Server{console: cons, health: health, logger: log.WithStage("admin")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	r.Get("/healthz", s.handleHealth)
	r.Route("/console", func(r chi.Router) {
		r.Get("/stats/{field}", s.handleFieldStats)
		r.Get("/{command}", s.handleCommand)
	})

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("Admin server stopped: %v", err)
		}
	}()
	s.logger.Infof("Admin server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debugw("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			writeText(w, http.StatusServiceUnavailable, "unhealthy: "+err.Error())
			return
		}
	}
	writeText(w, http.StatusOK, "ok")
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	command := chi.URLParam(r, "command")
	switch {
	case s.console == nil:
		writeText(w, http.StatusNotFound, "console disabled")
	case !console.IsCommand(command):
		writeText(w, http.StatusNotFound, fmt.Sprintf("unknown command %q", command))
	case command == "exit" || command == "quit":
		writeText(w, http.StatusForbidden, "exit is only available on the local console")
	default:
		out, _ := s.console.Execute(command, false)
		writeText(w, http.StatusOK, out)
	}
}

func (s *Server) handleFieldStats(w http.ResponseWriter, r *http.Request) {
	if s.console == nil {
		writeText(w, http.StatusNotFound, "console disabled")
		return
	}
	out, _ := s.console.Execute("stats "+chi.URLParam(r, "field"), false)
	writeText(w, http.StatusOK, out)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintln(w, body)
}

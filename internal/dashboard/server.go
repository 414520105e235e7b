// Package dashboard is the read-only HTTP surface over the ledger's
// aggregate reads. Grounded on internal/infrastructure/http/server.go's
// router construction (chi + RequestID/RealIP/Recoverer + a health route),
// with the teacher's multi-key Postgres-backed authenticator replaced by a
// single static bearer token — this dashboard has one operator, not a
// tenant directory.
package dashboard

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/epichb/premiumarr-go/internal/ledger"
)

// Config tunes the dashboard HTTP server.
type Config struct {
	Host     string
	Port     int
	APIKey   string // empty disables the auth gate
	PageSize int
}

// Server wraps the dashboard's HTTP server and router.
type Server struct {
	store    store
	logger   *slog.Logger
	cfg      Config
	pageSize int
	httpSrv  *http.Server
}

// New builds a dashboard Server. st must be non-nil.
func New(st *ledger.Store, cfg Config, logger *slog.Logger) *Server {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	s := &Server{store: st, logger: logger, cfg: cfg, pageSize: pageSize}

	registry := prometheus.NewRegistry()
	registry.MustRegister(newMetricsCollector(st, logger))

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, map[string]string{"status": "ok"})
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	router.Route("/api", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Get("/current_state", s.handleCurrentState)
		r.Get("/done_failed", s.handleDoneFailed)
		r.Get("/summary", s.handleSummary)
	})

	s.httpSrv = &http.Server{
		Addr:              fmtAddr(cfg.Host, cfg.Port),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// requireAPIKey gates /api behind a static bearer token, grounded on
// internal/infrastructure/http/middleware/auth.go's Bearer-prefix parsing
// and warn-level failure logging; the teacher's Authenticator/domain key
// store is dropped since this dashboard has a single operator, not a
// tenant directory (see DESIGN.md).
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	if s.cfg.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		key, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) != 1 {
			s.logger.WarnContext(r.Context(), "dashboard authentication failed",
				"path", r.URL.Path, "method", r.Method)
			writeError(w, r, http.StatusUnauthorized, "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server, blocking until it stops or errors.
func (s *Server) Start() error {
	s.logger.Info("starting dashboard server", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down dashboard server")
	return s.httpSrv.Shutdown(ctx)
}

func fmtAddr(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(port)
}

// Package server exposes the authentication service over HTTP.
//
// Routes:
//
//	POST /auth/token                          issue a service token (X-App-Key)
//	GET  /auth/verify                         echo the caller's authorization
//	GET  /auth/test                           backend:admin only
//	POST /admin/tenants/{tenantID}/invalidate backend:admin only
//	GET  /admin/tenants/{tenantID}/access     tenant or backend:admin
//	GET  /healthz                             service health
//	GET  /metrics                             Prometheus exposition
//
// Error bodies are written by [auth.WriteError].
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/StricklySoft/tenantauth/pkg/auth"
	"github.com/StricklySoft/tenantauth/pkg/service"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

// HeaderAppKey carries the application key on token requests.
const HeaderAppKey = "X-App-Key"

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

const readHeaderTimeout = 10 * time.Second

// Backend is the part of [service.Service] the routes call.
type Backend interface {
	auth.RequestAuthenticator
	IssueServiceToken(ctx context.Context, appKey string, scopes []string) (*auth.IssuedToken, error)
	InvalidateTenant(ctx context.Context, tenantID string) error
	AccessSummary(ctx context.Context, tenantID string) (*tenant.AccessSummary, error)
	Health(ctx context.Context) (service.HealthReport, error)
}

var _ Backend = (*service.Service)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithGatherer serves metrics from g on /metrics. Without it /metrics is
// not mounted.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// Server is the HTTP front end.
type Server struct {
	backend  Backend
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	http     *http.Server
}

// New returns a server listening on addr once [Server.ListenAndServe] is
// called.
func New(addr string, backend Backend, opts ...Option) *Server {
	s := &Server{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(s.Routes(), "tenantauth"),
		ReadHeaderTimeout: readHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, s.accessLog, chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/auth/token", s.handleIssueToken)

	r.Group(func(ar chi.Router) {
		ar.Use(auth.HTTPMiddleware(s.backend))
		ar.Get("/auth/verify", s.handleVerify)
		ar.Get("/admin/tenants/{tenantID}/access", s.handleAccessSummary)

		ar.Group(func(admin chi.Router) {
			admin.Use(auth.RequireHTTP(auth.ScopeGate(auth.ScopeBackendAdmin)))
			admin.Get("/auth/test", s.handleAdminTest)
			admin.Post("/admin/tenants/{tenantID}/invalidate", s.handleInvalidate)
		})
	})
	return r
}

// ListenAndServe serves until [Server.Shutdown]. A clean shutdown returns
// nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server: listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// accessLog logs one line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "server: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// Package service assembles the tenantauth components into one object with
// a start and stop lifecycle.
//
// [New] connects the configured backends, builds the tenant store, key set
// resolver, both token verifiers, the service token issuer, the
// verification result cache and the security event emitter, and registers
// the long-running ones with a [lifecycle.Manager]. Nothing is kept in
// package-level state: every process, and every test, builds its own
// Service.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	"github.com/StricklySoft/tenantauth/pkg/audit"
	"github.com/StricklySoft/tenantauth/pkg/auth"
	"github.com/StricklySoft/tenantauth/pkg/clients/minio"
	"github.com/StricklySoft/tenantauth/pkg/clients/postgres"
	"github.com/StricklySoft/tenantauth/pkg/clients/redis"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/keyset"
	"github.com/StricklySoft/tenantauth/pkg/lifecycle"
	"github.com/StricklySoft/tenantauth/pkg/models"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

// Name is the lifecycle manager name and the default OpenTelemetry
// service name.
const Name = "tenantauth"

// Health statuses reported by [Service.Health].
const (
	StatusOK          = "ok"
	StatusUnavailable = "unavailable"
)

type options struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	registry       *prometheus.Registry
	repository     tenant.Repository
	sink           audit.Sink
	httpClient     keyset.HTTPClient
	now            func() time.Time
}

// Option configures a [Service].
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithRegistry registers the metrics with reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithRepository replaces the repository selected by the configuration.
func WithRepository(repo tenant.Repository) Option {
	return func(o *options) { o.repository = repo }
}

// WithSink replaces the default log sink for security events. An archive
// sink is still added when MinIO is configured.
func WithSink(sink audit.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithHTTPClient sets the client used to fetch tenant key sets.
func WithHTTPClient(c keyset.HTTPClient) Option {
	return func(o *options) { o.httpClient = c }
}

// WithClock overrides time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Service is the assembled authentication core.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	registry *prometheus.Registry

	redis    *redis.Client
	postgres *postgres.Client
	minio    *minio.Client

	store     *tenant.Store
	resolver  *keyset.Resolver
	tenants   *auth.TenantVerifier
	services  *auth.ServiceVerifier
	issuer    *auth.ServiceIssuer
	cache     *auth.VerificationCache
	authn     *auth.Authenticator
	metrics   *auth.Metrics
	events    *audit.Emitter
	lifecycle *lifecycle.Manager
}

// New validates cfg, connects the configured backends and builds every
// component. The returned Service is not started.
func New(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	s := &Service{cfg: cfg, logger: o.logger, registry: o.registry}
	if err := s.connect(ctx); err != nil {
		s.closeClients()
		return nil, err
	}
	if err := s.build(ctx, &o); err != nil {
		s.closeClients()
		return nil, err
	}
	if cfg.TenantsFile != "" {
		if err := s.seed(ctx, cfg.TenantsFile); err != nil {
			s.closeClients()
			return nil, err
		}
	}
	return s, nil
}

// connect opens a client for every configured backend.
func (s *Service) connect(ctx context.Context) error {
	var err error
	if s.cfg.Postgres.Enabled() {
		if s.postgres, err = postgres.NewClient(ctx, s.cfg.Postgres); err != nil {
			return err
		}
	}
	if s.cfg.Redis.Enabled() {
		if s.redis, err = redis.NewClient(ctx, s.cfg.Redis); err != nil {
			return err
		}
	}
	if s.cfg.MinIO.Enabled() {
		if s.minio, err = minio.NewClient(ctx, s.cfg.MinIO); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) build(ctx context.Context, o *options) error {
	cfg := s.cfg

	repo := o.repository
	if repo == nil {
		if s.postgres != nil {
			pg := tenant.NewPostgresRepository(s.postgres)
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			repo = pg
		} else {
			repo = tenant.NewMemoryRepository()
		}
	}

	storeOpts := []tenant.Option{tenant.WithLogger(s.logger)}
	if s.redis != nil {
		storeOpts = append(storeOpts, tenant.WithAccessStats(
			tenant.NewRedisAccessStats(s.redis, cfg.Tenant.RedisKeyPrefix, cfg.Tenant.StatsRetention)))
		if cfg.Tenant.CacheBackend == tenant.CacheBackendRedis {
			storeOpts = append(storeOpts, tenant.WithCache(
				tenant.NewRedisCache(s.redis, cfg.Tenant.RedisKeyPrefix)))
		}
	} else {
		storeOpts = append(storeOpts, tenant.WithAccessStats(
			tenant.NewMemoryAccessStats(cfg.Tenant.StatsRetention)))
	}
	if o.now != nil {
		storeOpts = append(storeOpts, tenant.WithClock(o.now))
	}
	s.store = tenant.NewStore(repo, cfg.Tenant, storeOpts...)

	sink := o.sink
	if sink == nil {
		sink = audit.NewLogSink(s.logger)
	}
	if s.minio != nil {
		sink = audit.MultiSink{sink, audit.NewObjectSink(s.minio, cfg.Audit.ObjectPrefix)}
	}
	s.events = audit.NewEmitter(sink, cfg.Audit, audit.WithLogger(s.logger))

	metrics, err := auth.NewMetrics(s.registry)
	if err != nil {
		return err
	}
	s.metrics = metrics

	resolverOpts := []keyset.Option{keyset.WithLogger(s.logger)}
	if o.httpClient != nil {
		resolverOpts = append(resolverOpts, keyset.WithHTTPClient(o.httpClient))
	}
	if o.now != nil {
		resolverOpts = append(resolverOpts, keyset.WithClock(o.now))
	}
	s.resolver = keyset.NewResolver(cfg.Keyset, resolverOpts...)

	authOpts := []auth.Option{
		auth.WithLogger(s.logger),
		auth.WithTracerProvider(o.tracerProvider),
		auth.WithMetrics(metrics),
		auth.WithEventEmitter(s.events),
	}
	if o.now != nil {
		authOpts = append(authOpts, auth.WithClock(o.now))
	}
	s.tenants = auth.NewTenantVerifier(s.store, s.resolver, cfg.Auth.ClockSkew, authOpts...)
	s.services = auth.NewServiceVerifier(cfg.Auth, authOpts...)
	s.issuer = auth.NewServiceIssuer(cfg.Auth, authOpts...)
	s.cache = auth.NewVerificationCache(cfg.Auth.CacheTTL, cfg.Auth.CacheMaxEntries, cfg.Auth.SweepInterval, authOpts...)
	s.authn = auth.NewAuthenticator(s.tenants, s.services, s.cache, authOpts...)

	// Events are flushed last so stop-time rejections still reach the sink.
	s.lifecycle, err = lifecycle.NewBuilder(Name).
		WithComponent(lifecycle.Component{Name: "security-events", Start: s.events.Start, Stop: s.events.Stop}).
		WithComponent(lifecycle.Component{Name: "tenant-store", Start: s.store.Start, Stop: s.store.Stop}).
		WithComponent(lifecycle.Component{Name: "verification-cache", Start: s.cache.Start, Stop: s.cache.Stop}).
		WithLogger(s.logger).
		WithTracerProvider(o.tracerProvider).
		OnStateChange(func(old, new lifecycle.State) {
			s.logger.Info("service: state changed", "from", old.String(), "to", new.String())
		}).
		Build()
	return err
}

// seed saves every policy in path through the store.
func (s *Service) seed(ctx context.Context, path string) error {
	policies, err := LoadPolicies(path)
	if err != nil {
		return err
	}
	for _, p := range policies {
		if err := s.SaveTenant(ctx, p); err != nil {
			return err
		}
	}
	s.logger.InfoContext(ctx, "service: tenant policies seeded", "count", len(policies), "file", path)
	return nil
}

// Start starts the components and, when configured, warms the tenant
// cache. Warm-up failures are logged, not returned.
func (s *Service) Start(ctx context.Context) error {
	if err := s.lifecycle.Start(ctx); err != nil {
		return err
	}
	if s.cfg.WarmOnStart {
		if _, err := s.Warm(ctx); err != nil {
			s.logger.WarnContext(ctx, "service: tenant cache warm-up incomplete", "error", err)
		}
	}
	return nil
}

// Stop stops the components in reverse order and closes the backend
// clients. Every step runs; errors are combined.
func (s *Service) Stop(ctx context.Context) error {
	err := s.lifecycle.Stop(ctx)
	return multierr.Append(err, s.closeClients())
}

func (s *Service) closeClients() error {
	var err error
	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
		s.redis = nil
	}
	if s.postgres != nil {
		s.postgres.Close()
		s.postgres = nil
	}
	return err
}

// Authenticate verifies the Authorization header value. See
// [auth.Authenticator.Authenticate].
func (s *Service) Authenticate(ctx context.Context, header string) (auth.AuthorizationContext, error) {
	return s.authn.Authenticate(ctx, header)
}

// IssueServiceToken mints a service token for a caller presenting appKey.
func (s *Service) IssueServiceToken(ctx context.Context, appKey string, scopes []string) (*auth.IssuedToken, error) {
	return s.issuer.Issue(ctx, appKey, scopes)
}

// SaveTenant persists policy and drops every cached result derived from
// the previous version.
func (s *Service) SaveTenant(ctx context.Context, policy *models.TenantPolicy) error {
	if _, err := s.store.Save(ctx, policy); err != nil {
		return err
	}
	s.cache.PurgeTenant(policy.TenantID)
	s.tenants.Forget(policy.TenantID)
	return nil
}

// InvalidateTenant drops the cached policy, the cached verification
// results and the parsed static key of one tenant. The verification cache
// and key memo are cleared even when the policy cache fails.
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string) error {
	err := s.store.Invalidate(ctx, tenantID)
	purged := s.cache.PurgeTenant(tenantID)
	s.tenants.Forget(tenantID)
	s.logger.InfoContext(ctx, "service: tenant invalidated",
		"tenant_id", tenantID,
		"purged_results", purged,
	)
	return err
}

// Warm loads every active tenant's policy into the cache and returns how
// many were loaded. A failing tenant does not stop the others.
func (s *Service) Warm(ctx context.Context) (int, error) {
	ids, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	var (
		loaded int
		errs   error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, sserr.Wrap(err, sserr.CodeTimeout, "service: warm-up canceled"))
			break
		}
		policy, err := s.store.Get(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if policy != nil {
			loaded++
		}
	}
	s.logger.InfoContext(ctx, "service: tenant cache warmed", "loaded", loaded, "active", len(ids))
	return loaded, errs
}

// AccessSummary returns the tenant's access counters.
func (s *Service) AccessSummary(ctx context.Context, tenantID string) (*tenant.AccessSummary, error) {
	return s.store.AccessSummary(ctx, tenantID)
}

// HealthReport is the body served by the health endpoint.
type HealthReport struct {
	Status    string            `json:"status"`
	Lifecycle lifecycle.Info    `json:"lifecycle"`
	Checks    map[string]string `json:"checks"`
	Tenants   tenant.Stats      `json:"tenants"`
	Auth      auth.Stats        `json:"auth"`
	Events    audit.Stats       `json:"events"`
	Cached    int               `json:"cached_results"`
}

// Health checks the lifecycle state, the tenant repository and cache, and
// the event archive. The report is always filled in; the error is non-nil
// when any check failed.
func (s *Service) Health(ctx context.Context) (HealthReport, error) {
	report := HealthReport{
		Status:    StatusOK,
		Lifecycle: s.lifecycle.Info(),
		Checks:    make(map[string]string, 3),
		Tenants:   s.store.Stats(),
		Auth:      s.authn.Stats(),
		Events:    s.events.Stats(),
		Cached:    s.cache.Len(),
	}

	checks := []struct {
		name  string
		check func(context.Context) error
	}{
		{"lifecycle", s.lifecycle.Health},
		{"tenant_store", s.store.Health},
	}
	if s.minio != nil {
		checks = append(checks, struct {
			name  string
			check func(context.Context) error
		}{"event_archive", s.minio.Health})
	}

	var errs error
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			report.Checks[c.name] = err.Error()
			errs = multierr.Append(errs, err)
			continue
		}
		report.Checks[c.name] = StatusOK
	}
	if errs != nil {
		report.Status = StatusUnavailable
		return report, sserr.Wrap(errs, sserr.CodeUnavailable, "service: health check failed")
	}
	return report, nil
}

// Authenticator returns the dispatcher, for transport middleware.
func (s *Service) Authenticator() *auth.Authenticator {
	return s.authn
}

// Registry returns the Prometheus registry holding the service metrics.
func (s *Service) Registry() *prometheus.Registry {
	return s.registry
}

// State returns the lifecycle state.
func (s *Service) State() lifecycle.State {
	return s.lifecycle.State()
}

// Config returns the validated configuration.
func (s *Service) Config() Config {
	return s.cfg
}

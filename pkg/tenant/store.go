// Package tenant holds per-tenant verification policies.
//
// [Store] is the read path used on every tenant token verification. It
// serves policies from a [Cache] for [Config.CacheTTL] and reloads them
// from the [Repository] on a miss. Writes go to the repository first and
// reach the cache only after they succeed, so the cache never serves a
// policy that was not persisted.
//
// Successful verifications are reported through [Store.RecordAccess],
// which queues the event for a background worker and returns immediately.
package tenant

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

const tracerName = "github.com/StricklySoft/tenantauth/pkg/tenant"

// healthChecker is implemented by repositories and caches that talk to a
// remote dependency.
type healthChecker interface {
	Health(ctx context.Context) error
}

// Stats is a snapshot of store activity.
type Stats struct {
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	AccessRecorded int64 `json:"access_recorded"`
	AccessDropped  int64 `json:"access_dropped"`
	AccessFailed   int64 `json:"access_failed"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// Store is the tenant configuration store. It is safe for concurrent use.
type Store struct {
	cfg    Config
	repo   Repository
	cache  Cache
	stats  AccessStats
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	recorder *accessRecorder

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a [Store].
type Option func(*Store)

// WithCache replaces the default [MemoryCache].
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithAccessStats enables access statistics.
func WithAccessStats(stats AccessStats) Option {
	return func(s *Store) { s.stats = stats }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a store over repo. Call [Store.Start] to begin draining
// access records.
func NewStore(repo Repository, cfg Config, opts ...Option) *Store {
	cfg.applyDefaults()
	s := &Store{
		cfg:    cfg,
		repo:   repo,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(s.now)
	}
	s.recorder = newAccessRecorder(repo, s.stats, cfg.AccessQueueSize, s.logger)
	return s
}

// Start launches the access recording worker.
func (s *Store) Start(_ context.Context) error {
	s.recorder.start()
	return nil
}

// Stop stops accepting access records and waits for queued ones to be
// written, bounded by ctx.
func (s *Store) Stop(ctx context.Context) error {
	return s.recorder.stop(ctx)
}

// Get returns the policy for tenantID. A tenant the repository does not
// know yields nil and no error. Cache failures are logged and the
// repository is consulted instead.
func (s *Store) Get(ctx context.Context, tenantID string) (*models.TenantPolicy, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Get",
		trace.WithAttributes(attribute.String("tenant.id", tenantID)))
	defer span.End()

	policy, ok, err := s.cache.Get(ctx, tenantID)
	if err != nil {
		s.logger.WarnContext(ctx, "tenant: cache read failed, loading from repository",
			"tenant_id", tenantID,
			"error", err,
		)
	}
	if ok {
		s.hits.Add(1)
		span.SetAttributes(attribute.Bool("tenant.cache_hit", true))
		span.SetStatus(codes.Ok, "")
		return policy, nil
	}
	s.misses.Add(1)
	span.SetAttributes(attribute.Bool("tenant.cache_hit", false))

	policy, err = s.repo.GetTenantPolicy(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, sserr.Wrapf(err, sserr.CodeInternalDatabase,
			"tenant: failed to load policy for %q", tenantID)
	}
	if policy == nil {
		span.SetStatus(codes.Ok, "")
		return nil, nil
	}

	if err := s.cache.Set(ctx, policy, s.cfg.CacheTTL); err != nil {
		s.logger.WarnContext(ctx, "tenant: cache write failed",
			"tenant_id", tenantID,
			"error", err,
		)
	}
	span.SetStatus(codes.Ok, "")
	return policy, nil
}

// Save validates and persists policy, then caches it. It reports whether
// the policy was persisted. A repository failure leaves the cache
// untouched; a cache failure after a successful write is only logged.
func (s *Store) Save(ctx context.Context, policy *models.TenantPolicy) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "tenant.Save",
		trace.WithAttributes(attribute.String("tenant.id", policy.TenantID)))
	defer span.End()

	if err := policy.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return false, sserr.Wrap(err, sserr.CodeValidation, "tenant: invalid policy")
	}

	cp := policy.Clone()
	cp.SchemaVersion = models.TenantPolicySchemaVersion
	now := s.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if err := s.repo.UpsertTenantPolicy(ctx, cp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "tenant: failed to persist policy",
			"tenant_id", cp.TenantID,
			"error", err,
		)
		return false, sserr.Wrapf(err, sserr.CodeInternalDatabase,
			"tenant: failed to persist policy for %q", cp.TenantID)
	}

	if err := s.cache.Set(ctx, cp, s.cfg.CacheTTL); err != nil {
		s.logger.WarnContext(ctx, "tenant: cache write after save failed, invalidating",
			"tenant_id", cp.TenantID,
			"error", err,
		)
		if delErr := s.cache.Delete(ctx, cp.TenantID); delErr != nil {
			s.logger.WarnContext(ctx, "tenant: failed to invalidate cached policy after save, stale entry may be served until it expires",
				"tenant_id", cp.TenantID,
				"error", delErr,
			)
		}
	}
	span.SetStatus(codes.Ok, "")
	return true, nil
}

// Invalidate drops the cached policy so the next Get reloads it.
func (s *Store) Invalidate(ctx context.Context, tenantID string) error {
	if err := s.cache.Delete(ctx, tenantID); err != nil {
		return sserr.Wrapf(err, sserr.CodeUnavailableDependency,
			"tenant: failed to invalidate %q", tenantID)
	}
	s.logger.InfoContext(ctx, "tenant: cache invalidated", "tenant_id", tenantID)
	return nil
}

// ListActive returns the ids of active tenants.
func (s *Store) ListActive(ctx context.Context) ([]string, error) {
	ids, err := s.repo.ListActiveTenantIDs(ctx)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: failed to list active tenants")
	}
	return ids, nil
}

// RecordAccess queues an access record and returns immediately. It never
// fails; dropped and failed records are only counted.
func (s *Store) RecordAccess(tenantID string, at time.Time) {
	s.recorder.enqueue(tenantID, at)
}

// AccessSummary returns the tenant's access counters, or nil when
// statistics are disabled or the tenant has none.
func (s *Store) AccessSummary(ctx context.Context, tenantID string) (*AccessSummary, error) {
	if s.stats == nil {
		return nil, nil
	}
	return s.stats.Summary(ctx, tenantID)
}

// Stats returns a snapshot of the store counters.
func (s *Store) Stats() Stats {
	return Stats{
		CacheHits:      s.hits.Load(),
		CacheMisses:    s.misses.Load(),
		AccessRecorded: s.recorder.recorded.Load(),
		AccessDropped:  s.recorder.dropped.Load(),
		AccessFailed:   s.recorder.failed.Load(),
	}
}

// Health checks the repository and the cache when they depend on a remote
// service.
func (s *Store) Health(ctx context.Context) error {
	if hc, ok := s.repo.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return err
		}
	}
	if hc, ok := s.cache.(healthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Package keyset resolves RSA verification keys from remotely published key
// sets (JWKS documents).
//
// A [Resolver] keeps one cached set per key set URI. A cached set is fresh
// for [Config.RefreshInterval]; after that the next lookup revalidates it
// with a conditional GET carrying the last entity tag. A 304 response keeps
// the cached keys, a 200 response replaces them. If revalidation fails the
// lookup fails: a stale set is never used past its revalidation point.
//
// Errors come in two classes, distinguishable with [IsFetchError] and
// [IsKeyNotFound]. Only fetch errors are worth retrying.
package keyset

import (
	"context"
	"crypto/rsa"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/tenantauth/pkg/keyset"

// maxDocumentSize bounds the key set response body.
const maxDocumentSize = 1 << 20

const (
	// ReasonKeyNotFound is returned when no key in the set matches the
	// requested kid.
	ReasonKeyNotFound sserr.Reason = "KEY_NOT_FOUND"
	// ReasonFetchFailed is returned when the key set could not be fetched
	// or parsed.
	ReasonFetchFailed sserr.Reason = "KEY_SET_FETCH_ERROR"
)

// Defaults for [Config].
const (
	DefaultFetchTimeout       = 5 * time.Second
	DefaultRefreshInterval    = 5 * time.Minute
	DefaultMinRefreshInterval = 30 * time.Second
)

// Config controls fetching and caching.
type Config struct {
	// FetchTimeout bounds each key set request.
	FetchTimeout time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"5s"`

	// RefreshInterval is how long a fetched set is used without
	// revalidation.
	RefreshInterval time.Duration `json:"refresh_interval" yaml:"refresh_interval" env:"REFRESH_INTERVAL" envDefault:"5m"`

	// MinRefreshInterval rate-limits the extra revalidation triggered by an
	// unknown kid, which is how key rotation is picked up early.
	MinRefreshInterval time.Duration `json:"min_refresh_interval" yaml:"min_refresh_interval" env:"MIN_REFRESH_INTERVAL" envDefault:"30s"`
}

func (c *Config) applyDefaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MinRefreshInterval <= 0 {
		c.MinRefreshInterval = DefaultMinRefreshInterval
	}
}

// HTTPClient is the subset of *http.Client used by the resolver.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Stats counts resolver network activity.
type Stats struct {
	// Fetches is the number of HTTP requests issued, whatever their outcome.
	Fetches int64
	// NotModified is the number of 304 responses.
	NotModified int64
	// Failures is the number of requests that produced a fetch error.
	Failures int64
}

type cachedSet struct {
	keys        map[string]*rsa.PublicKey
	etag        string
	validatedAt time.Time
}

// Resolver resolves keys by key set URI and kid. It is safe for concurrent
// use. No lock is held while a request is in flight, so concurrent misses
// for the same URI may fetch it more than once.
type Resolver struct {
	cfg    Config
	client HTTPClient
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu   sync.RWMutex
	sets map[string]*cachedSet

	fetches     atomic.Int64
	notModified atomic.Int64
	failures    atomic.Int64
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithHTTPClient replaces the default otelhttp-instrumented client.
func WithHTTPClient(c HTTPClient) Option {
	return func(r *Resolver) { r.client = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver returns a Resolver. Zero config values take the defaults.
func NewResolver(cfg Config, opts ...Option) *Resolver {
	cfg.applyDefaults()
	r := &Resolver{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
		sets:   make(map[string]*cachedSet),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = &http.Client{
			Timeout:   cfg.FetchTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return r
}

// ResolveKey returns the RSA key with the given kid from the set published
// at uri.
func (r *Resolver) ResolveKey(ctx context.Context, uri, kid string) (*rsa.PublicKey, error) {
	ctx, span := r.tracer.Start(ctx, "keyset.ResolveKey",
		trace.WithAttributes(
			attribute.String("keyset.uri", uri),
			attribute.String("keyset.kid", kid),
		),
	)
	defer span.End()

	key, err := r.resolve(ctx, uri, kid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(sserr.GetReason(err)))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return key, nil
}

func (r *Resolver) resolve(ctx context.Context, uri, kid string) (*rsa.PublicKey, error) {
	set := r.cached(uri)
	refreshed := false
	if set == nil || r.now().Sub(set.validatedAt) >= r.cfg.RefreshInterval {
		var err error
		if set, err = r.refresh(ctx, uri, set); err != nil {
			return nil, err
		}
		refreshed = true
	}

	if key, ok := set.keys[kid]; ok {
		return key, nil
	}

	// Unknown kid on a set we did not just fetch: the issuer may have
	// rotated. Revalidate once, rate-limited.
	if !refreshed && r.now().Sub(set.validatedAt) >= r.cfg.MinRefreshInterval {
		var err error
		if set, err = r.refresh(ctx, uri, set); err != nil {
			return nil, err
		}
		if key, ok := set.keys[kid]; ok {
			return key, nil
		}
	}

	return nil, sserr.Reject(sserr.CodeAuthenticationKey, ReasonKeyNotFound,
		"no key in the key set matches the token key id").
		WithDetails(map[string]any{"kid": kid, "keyset_uri": uri})
}

func (r *Resolver) cached(uri string) *cachedSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sets[uri]
}

func (r *Resolver) store(uri string, set *cachedSet) {
	r.mu.Lock()
	r.sets[uri] = set
	r.mu.Unlock()
}

// refresh fetches uri, conditionally when prev carries an entity tag, and
// stores the result.
func (r *Resolver) refresh(ctx context.Context, uri string, prev *cachedSet) (*cachedSet, error) {
	r.fetches.Add(1)

	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, r.fetchError(err, uri, "invalid key set URI")
	}
	req.Header.Set("Accept", "application/json")
	if prev != nil && prev.etag != "" {
		req.Header.Set("If-None-Match", prev.etag)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, r.fetchError(err, uri, "key set request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotModified && prev != nil:
		r.notModified.Add(1)
		set := &cachedSet{keys: prev.keys, etag: prev.etag, validatedAt: r.now()}
		if tag := resp.Header.Get("ETag"); tag != "" {
			set.etag = tag
		}
		r.store(uri, set)
		return set, nil
	case resp.StatusCode != http.StatusOK:
		return nil, r.fetchError(nil, uri, "key set endpoint returned "+resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, r.fetchError(err, uri, "failed to read key set response")
	}
	if len(body) > maxDocumentSize {
		return nil, r.fetchError(nil, uri, "key set response exceeds size limit")
	}

	keys, skipped, err := parseDocument(body)
	if err != nil {
		return nil, r.fetchError(err, uri, "failed to parse key set")
	}
	if skipped > 0 {
		r.logger.DebugContext(ctx, "keyset: skipped unsupported key set entries",
			"keyset_uri", uri,
			"skipped", skipped,
			"usable", len(keys),
		)
	}

	set := &cachedSet{keys: keys, etag: resp.Header.Get("ETag"), validatedAt: r.now()}
	r.store(uri, set)
	return set, nil
}

func (r *Resolver) fetchError(cause error, uri, msg string) *sserr.Error {
	r.failures.Add(1)
	code := sserr.CodeUnavailableDependency
	if errors.Is(cause, context.DeadlineExceeded) {
		code = sserr.CodeTimeoutDependency
	}
	r.logger.Warn("keyset: fetch failed",
		"keyset_uri", uri,
		"error", msg,
		"cause", cause,
	)
	return sserr.RejectWrap(cause, code, ReasonFetchFailed, "keyset: "+msg).
		WithDetail("keyset_uri", uri)
}

// Invalidate drops the cached set for uri. The next lookup fetches it
// unconditionally.
func (r *Resolver) Invalidate(uri string) {
	r.mu.Lock()
	delete(r.sets, uri)
	r.mu.Unlock()
}

// Stats returns a snapshot of the network counters.
func (r *Resolver) Stats() Stats {
	return Stats{
		Fetches:     r.fetches.Load(),
		NotModified: r.notModified.Load(),
		Failures:    r.failures.Load(),
	}
}

// IsFetchError reports whether err is, or wraps, a key set fetch or parse
// failure.
func IsFetchError(err error) bool {
	return sserr.ReasonInChain(err, ReasonFetchFailed)
}

// IsKeyNotFound reports whether err means, or wraps, a set with no key for
// the kid.
func IsKeyNotFound(err error) bool {
	return sserr.ReasonInChain(err, ReasonKeyNotFound)
}

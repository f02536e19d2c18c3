// Package auth verifies bearer tokens from two trust domains and turns them
// into an [AuthorizationContext].
//
// Tenant tokens are signed by each tenant's own identity provider with an
// asymmetric key. The [TenantVerifier] checks them against the tenant's
// policy, resolving the key from the tenant's published key set or its
// static PEM key. Service tokens are minted by the [ServiceIssuer] for the
// trusted backend and checked by the [ServiceVerifier] with a shared HS256
// secret.
//
// The [Authenticator] is the single entry point. It parses the
// Authorization header, serves repeat tokens from a [VerificationCache],
// classifies new tokens by their unverified payload, runs the matching
// verifier and, if that rejects, the other verifier exactly once.
// Verifier rejections reach the caller as AUTHENTICATION_FAILED; the
// specific check that failed is logged and available through [Reason].
//
// Authorization after authentication is expressed as gates:
// [RequireScopes], [RequireRoles], [RequirePermissions] and the
// tenant, device and agent access checks.
package auth

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// HeaderAuthorization is the request header carrying the bearer token.
const HeaderAuthorization = "Authorization"

const bearerScheme = "Bearer"

// TenantTokenVerifier is implemented by [TenantVerifier].
type TenantTokenVerifier interface {
	Verify(ctx context.Context, token string) (*TenantContext, error)
}

// ServiceTokenVerifier is implemented by [ServiceVerifier].
type ServiceTokenVerifier interface {
	Verify(ctx context.Context, token string) (*ServiceContext, error)
}

// Stats counts authenticator activity.
type Stats struct {
	// Verifications counts calls into a verifier. Cache hits do not
	// verify.
	Verifications int64 `json:"verifications"`
	CacheHits     int64 `json:"cache_hits"`
	Fallbacks     int64 `json:"fallbacks"`
	Rejections    int64 `json:"rejections"`
}

// Authenticator dispatches bearer tokens to the right verifier.
type Authenticator struct {
	tenants  TenantTokenVerifier
	services ServiceTokenVerifier
	cache    *VerificationCache
	opts     options
	logger   *slog.Logger
	tracer   trace.Tracer

	verifications atomic.Int64
	cacheHits     atomic.Int64
	fallbacks     atomic.Int64
	rejections    atomic.Int64
}

// NewAuthenticator returns an Authenticator. cache may be nil to verify
// every request.
func NewAuthenticator(tenants TenantTokenVerifier, services ServiceTokenVerifier, cache *VerificationCache, opts ...Option) *Authenticator {
	o := newOptions(opts)
	return &Authenticator{
		tenants:  tenants,
		services: services,
		cache:    cache,
		opts:     o,
		logger:   o.logger,
		tracer:   o.tracer(),
	}
}

// ParseAuthorizationHeader extracts the token from a "Bearer <token>"
// header value.
func ParseAuthorizationHeader(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", sserr.Reject(sserr.CodeAuthenticationMissing, ReasonMissingAuthorization,
			"authorization header is required")
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, bearerScheme) || token == "" || strings.ContainsAny(token, " \t") {
		return "", sserr.Reject(sserr.CodeAuthenticationMissing, ReasonInvalidAuthorizationFormat,
			"authorization header must be of the form \"Bearer <token>\"")
	}
	if len(token) > maxTokenSize {
		return "", sserr.Reject(sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token exceeds the maximum size")
	}
	return token, nil
}

// tokenShape is what the unverified payload says about a token.
type tokenShape struct {
	kind     TokenKind
	subject  string
	tenantID string
}

func inspect(token string) tokenShape {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return tokenShape{kind: KindUnknown}
	}
	sub, _ := claims["sub"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	_, hasScope := claims["scope"]

	shape := tokenShape{subject: sub, tenantID: tenantID}
	switch {
	case sub == ServiceSubject:
		shape.kind = KindService
	case tenantID != "":
		shape.kind = KindTenant
	case hasScope:
		shape.kind = KindService
	default:
		shape.kind = KindUnknown
	}
	return shape
}

// Classify decides which verifier a token is tried with first, from its
// unverified payload: the backend subject, or a scope claim without a
// tenant claim, means service; a tenant claim means tenant. Anything else,
// including a token that does not parse, is unknown.
func Classify(token string) TokenKind {
	return inspect(token).kind
}

// Authenticate verifies the bearer token in an Authorization header value.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (AuthorizationContext, error) {
	start := a.opts.now()
	ctx, span := a.tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	token, err := ParseAuthorizationHeader(header)
	if err != nil {
		a.rejections.Add(1)
		a.opts.metrics.observeVerification(KindUnknown, string(Reason(err)), false, a.since(start))
		span.SetStatus(codes.Error, string(Reason(err)))
		return nil, err
	}

	digest := TokenDigest(token)
	if a.cache != nil {
		if ac, ok := a.cache.Get(digest); ok {
			a.cacheHits.Add(1)
			a.opts.metrics.observeCache(true)
			a.opts.metrics.observeVerification(ac.Kind(), "", true, a.since(start))
			span.SetAttributes(
				attribute.String("auth.kind", ac.Kind().String()),
				attribute.Bool("auth.cache_hit", true),
			)
			span.SetStatus(codes.Ok, "")
			return ac, nil
		}
		a.opts.metrics.observeCache(false)
	}

	// Read before verifying so a purge that races this verification wins.
	var gen uint64
	if a.cache != nil {
		gen = a.cache.Generation()
	}

	shape := inspect(token)
	span.SetAttributes(
		attribute.String("auth.classified_kind", shape.kind.String()),
		attribute.Bool("auth.cache_hit", false),
	)

	var ac AuthorizationContext
	if shape.kind == KindUnknown {
		err = sserr.Reject(sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token matches neither trust domain")
	} else {
		ac, err = a.verify(ctx, shape.kind, token)
		if err != nil {
			fallback, fbErr := a.verify(ctx, other(shape.kind), token)
			if fbErr == nil {
				a.fallbacks.Add(1)
				a.opts.metrics.observeFallback()
				a.logger.InfoContext(ctx, "auth: token verified by the fallback verifier",
					"classified_kind", shape.kind.String(),
					"verified_kind", fallback.Kind().String(),
					"primary_reason", Reason(err),
				)
				ac, err = fallback, nil
			} else {
				a.logger.DebugContext(ctx, "auth: fallback verifier also rejected the token",
					"kind", other(shape.kind).String(),
					"reason", Reason(fbErr),
				)
			}
		}
	}

	if err != nil {
		final := a.reject(ctx, shape, err)
		a.opts.metrics.observeVerification(shape.kind, string(Reason(err)), false, a.since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Reason(err)))
		return nil, final
	}

	if a.cache != nil && !a.cache.PutIfCurrent(digest, ac, gen) {
		a.logger.DebugContext(ctx, "auth: verified context not cached",
			"kind", ac.Kind().String(),
		)
	}
	a.opts.metrics.observeVerification(ac.Kind(), "", false, a.since(start))
	span.SetAttributes(
		attribute.String("auth.kind", ac.Kind().String()),
		attribute.String("auth.subject", ac.SubjectID()),
	)
	span.SetStatus(codes.Ok, "")
	return ac, nil
}

// verify runs one verifier. A nil interface result is never returned with
// a nil error.
func (a *Authenticator) verify(ctx context.Context, kind TokenKind, token string) (AuthorizationContext, error) {
	a.verifications.Add(1)
	switch kind {
	case KindTenant:
		tc, err := a.tenants.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return tc, nil
	default:
		sc, err := a.services.Verify(ctx, token)
		if err != nil {
			return nil, err
		}
		return sc, nil
	}
}

func other(kind TokenKind) TokenKind {
	if kind == KindTenant {
		return KindService
	}
	return KindTenant
}

// reject logs the verifier rejection in full, reports it as a security
// event and returns the collapsed AUTHENTICATION_FAILED error wrapping it.
func (a *Authenticator) reject(ctx context.Context, shape tokenShape, cause error) error {
	a.rejections.Add(1)
	reason := Reason(cause)

	attrs := []any{
		"kind", shape.kind.String(),
		"reason", reason,
		"error", cause,
	}
	if shape.tenantID != "" {
		attrs = append(attrs, "tenant_id", shape.tenantID)
	}
	if traceID, ok := TraceIDFromContext(ctx); ok {
		attrs = append(attrs, "trace_id", traceID)
	}
	a.logger.WarnContext(ctx, "auth: authentication rejected", attrs...)

	ev := models.NewSecurityEvent(eventFor(reason))
	ev.OccurredAt = a.opts.now().UTC()
	ev.TenantID = shape.tenantID
	ev.Subject = shape.subject
	ev.Reason = string(reason)
	ev.Details = map[string]any{"classified_kind": shape.kind.String()}
	a.opts.emit(ev)

	return sserr.RejectWrap(cause, sserr.CodeAuthentication, ReasonAuthenticationFailed,
		"authentication failed")
}

// eventFor grades a rejection reason.
func eventFor(reason sserr.Reason) (models.EventType, models.RiskLevel) {
	switch reason {
	case ReasonUnknownTenant:
		return models.EventUnknownTenant, models.RiskMedium
	case ReasonTenantDisabled:
		return models.EventTenantDisabled, models.RiskHigh
	case ReasonKeyNotFound, ReasonKeySetFetchError, ReasonPublicKeyUnavailable:
		return models.EventKeyResolutionFailed, models.RiskMedium
	case ReasonInvalidIssuer, ReasonInvalidAudience, ReasonInvalidServiceSubject, ReasonInvalidToken:
		return models.EventAuthenticationFailed, models.RiskMedium
	default:
		return models.EventAuthenticationFailed, models.RiskLow
	}
}

// Stats returns a snapshot of the counters.
func (a *Authenticator) Stats() Stats {
	return Stats{
		Verifications: a.verifications.Load(),
		CacheHits:     a.cacheHits.Load(),
		Fallbacks:     a.fallbacks.Load(),
		Rejections:    a.rejections.Load(),
	}
}

// Cache returns the verification cache, or nil.
func (a *Authenticator) Cache() *VerificationCache {
	return a.cache
}

// since reports how long ago t was on the authenticator's clock.
func (a *Authenticator) since(t time.Time) time.Duration {
	return a.opts.now().Sub(t)
}

package auth

import (
	"context"
	"crypto"
	"crypto/rsa"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/keyset"
	"github.com/StricklySoft/tenantauth/pkg/models"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

// PolicySource supplies tenant policies and receives access records.
// *tenant.Store implements it.
type PolicySource interface {
	Get(ctx context.Context, tenantID string) (*models.TenantPolicy, error)
	RecordAccess(tenantID string, at time.Time)
}

// KeyResolver resolves a key from a remote key set. *keyset.Resolver
// implements it.
type KeyResolver interface {
	ResolveKey(ctx context.Context, uri, kid string) (*rsa.PublicKey, error)
}

var (
	_ PolicySource = (*tenant.Store)(nil)
	_ KeyResolver  = (*keyset.Resolver)(nil)
)

// staticKey memoizes a parsed static PEM key per tenant.
type staticKey struct {
	pem string
	key crypto.PublicKey
}

// TenantVerifier verifies tenant tokens against the claimed tenant's
// policy. The checks run cheapest first: claim extraction, policy lookup,
// issuer and audience, key id presence, then key resolution and signature
// verification, then the freshness window. Nothing after the policy lookup
// runs for an unknown or disabled tenant.
type TenantVerifier struct {
	policies PolicySource
	keys     KeyResolver
	leeway   time.Duration
	opts     options
	logger   *slog.Logger
	tracer   trace.Tracer

	mu     sync.RWMutex
	static map[string]staticKey
}

// NewTenantVerifier returns a verifier. keys may be nil when no tenant
// publishes a remote key set.
func NewTenantVerifier(policies PolicySource, keys KeyResolver, leeway time.Duration, opts ...Option) *TenantVerifier {
	o := newOptions(opts)
	return &TenantVerifier{
		policies: policies,
		keys:     keys,
		leeway:   leeway,
		opts:     o,
		logger:   o.logger,
		tracer:   o.tracer(),
		static:   make(map[string]staticKey),
	}
}

// Verify runs the tenant verification steps on a raw token.
//
// Key set failures are returned as PUBLIC_KEY_UNAVAILABLE wrapping the
// resolver's error, so [keyset.IsFetchError] and [sserr.IsRetryable] still
// report a fetch failure and [Reason] returns the innermost reason.
func (v *TenantVerifier) Verify(ctx context.Context, token string) (*TenantContext, error) {
	ctx, span := v.tracer.Start(ctx, "auth.TenantVerifier.Verify")
	defer span.End()

	tc, err := v.verify(ctx, token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Reason(err)))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.tenant_id", tc.tenantID),
		attribute.String("auth.key_source", tc.keySource),
	)
	span.SetStatus(codes.Ok, "")
	return tc, nil
}

func (v *TenantVerifier) verify(ctx context.Context, token string) (*TenantContext, error) {
	if len(token) > maxTokenSize {
		return nil, sserr.Reject(sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token exceeds the maximum size")
	}

	// Extract claims without verifying anything.
	unverified := &tenantClaims{}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, unverified)
	if err != nil {
		return nil, sserr.RejectWrap(err, sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token is not a well-formed JWT")
	}
	if unverified.TenantID == "" {
		return nil, sserr.Reject(sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token has no tenant_id claim")
	}
	tenantID := unverified.TenantID
	kid, _ := parsed.Header["kid"].(string)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.claimed_tenant_id", tenantID))

	// Resolve the policy.
	policy, err := v.policies.Get(ctx, tenantID)
	if err != nil {
		v.logger.ErrorContext(ctx, "auth: tenant policy lookup failed",
			"tenant_id", tenantID,
			"error", err,
		)
		return nil, sserr.RejectWrap(err, sserr.CodeAuthenticationTenant, ReasonUnknownTenant,
			"tenant is not recognized").WithDetail("tenant_id", tenantID)
	}
	if policy == nil {
		return nil, sserr.Reject(sserr.CodeAuthenticationTenant, ReasonUnknownTenant,
			"tenant is not recognized").WithDetail("tenant_id", tenantID)
	}
	if !policy.IsActive {
		return nil, sserr.Reject(sserr.CodeAuthenticationTenant, ReasonTenantDisabled,
			"tenant is disabled").WithDetail("tenant_id", tenantID)
	}

	// Issuer and audience, before any key work.
	if unverified.Issuer != policy.Issuer {
		return nil, sserr.Reject(sserr.CodeAuthenticationClaims, ReasonInvalidIssuer,
			"token issuer does not match the tenant").WithDetail("tenant_id", tenantID)
	}
	if !slices.Contains(unverified.Audience, policy.Audience) {
		return nil, sserr.Reject(sserr.CodeAuthenticationClaims, ReasonInvalidAudience,
			"token audience does not match the tenant").WithDetail("tenant_id", tenantID)
	}

	key, source, err := v.resolveKey(ctx, policy, kid)
	if err != nil {
		return nil, err
	}

	// Signature and registered claims.
	claims := &tenantClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(policy.Algorithms()),
		jwt.WithIssuer(policy.Issuer),
		jwt.WithAudience(policy.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.opts.now),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, classifyError(err).WithDetail("tenant_id", tenantID)
	}
	if claims.IssuedAt == nil || claims.Subject == "" || claims.ID == "" {
		return nil, sserr.Reject(sserr.CodeAuthenticationInvalid, ReasonInvalidToken,
			"token is missing required claims").WithDetail("tenant_id", tenantID)
	}

	// Freshness, independent of exp.
	now := v.opts.now()
	if maxAge := policy.MaxTokenAge(); maxAge > 0 && now.Sub(claims.IssuedAt.Time) > maxAge {
		return nil, sserr.Reject(sserr.CodeAuthenticationStale, ReasonTokenTooOld,
			"token was issued too long ago").
			WithDetail("tenant_id", tenantID).
			WithDetail("max_token_age_minutes", policy.MaxTokenAgeMinutes)
	}

	tc := newTenantContext(claims, policy, source, now)
	v.policies.RecordAccess(tenantID, now)
	return tc, nil
}

// resolveKey finds the verification key: the tenant's remote key set
// first, then its static PEM key.
func (v *TenantVerifier) resolveKey(ctx context.Context, policy *models.TenantPolicy, kid string) (crypto.PublicKey, string, error) {
	var cause error
	if policy.KeySetURI != "" {
		switch {
		case kid == "" && policy.RequireKeyID:
			return nil, "", sserr.Reject(sserr.CodeAuthenticationKey, ReasonMissingKeyID,
				"token header has no key id").WithDetail("tenant_id", policy.TenantID)
		case kid == "":
			// Nothing to look up in the set; only the static key can help.
		case v.keys == nil:
			cause = errors.New("no key set resolver configured")
		default:
			key, err := v.keys.ResolveKey(ctx, policy.KeySetURI, kid)
			if err == nil {
				return key, KeySourceKeySet, nil
			}
			cause = err
			v.logger.WarnContext(ctx, "auth: key set lookup failed",
				"tenant_id", policy.TenantID,
				"kid", kid,
				"reason", Reason(err),
				"error", err,
			)
		}
	}

	if policy.StaticPublicKey != "" {
		key, err := v.staticKey(policy)
		if err == nil {
			return key, KeySourceStatic, nil
		}
		v.logger.ErrorContext(ctx, "auth: tenant static public key is unusable",
			"tenant_id", policy.TenantID,
			"error", err,
		)
		if cause == nil {
			cause = err
		}
	}

	return nil, "", sserr.RejectWrap(cause, sserr.CodeAuthenticationKey, ReasonPublicKeyUnavailable,
		"no verification key is available for the token").WithDetail("tenant_id", policy.TenantID)
}

// staticKey parses the policy's PEM key, memoized until the PEM changes.
func (v *TenantVerifier) staticKey(policy *models.TenantPolicy) (crypto.PublicKey, error) {
	v.mu.RLock()
	sk, ok := v.static[policy.TenantID]
	v.mu.RUnlock()
	if ok && sk.pem == policy.StaticPublicKey {
		return sk.key, nil
	}

	key, err := parsePublicKeyPEM([]byte(policy.StaticPublicKey))
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.static[policy.TenantID] = staticKey{pem: policy.StaticPublicKey, key: key}
	v.mu.Unlock()
	return key, nil
}

// Forget drops the memoized static key for tenantID.
func (v *TenantVerifier) Forget(tenantID string) {
	v.mu.Lock()
	delete(v.static, tenantID)
	v.mu.Unlock()
}

func parsePublicKeyPEM(pem []byte) (crypto.PublicKey, error) {
	if key, err := jwt.ParseRSAPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	if key, err := jwt.ParseECPublicKeyFromPEM(pem); err == nil {
		return key, nil
	}
	key, err := jwt.ParseEdPublicKeyFromPEM(pem)
	if err != nil {
		return nil, errors.New("static public key is not an RSA, ECDSA or Ed25519 PEM key")
	}
	return key, nil
}

func newTenantContext(c *tenantClaims, policy *models.TenantPolicy, source string, now time.Time) *TenantContext {
	rl := policy.EffectiveRateLimit()
	tc := &TenantContext{
		tenantID:           c.TenantID,
		tenantName:         policy.Name,
		subject:            c.Subject,
		issuer:             c.Issuer,
		audience:           policy.Audience,
		tokenID:            c.ID,
		issuedAt:           c.IssuedAt.Time,
		expiresAt:          c.ExpiresAt.Time,
		verifiedAt:         now,
		keySource:          source,
		roles:              parseRoles(c.Roles),
		permissions:        slices.Clone(c.Permissions),
		allowedAgents:      slices.Clone(c.AllowedAgents),
		allowedDevices:     slices.Clone(c.AllowedDevices),
		rateLimitPerMinute: rl.PerMinute,
		dailyQuota:         rl.PerDay,
	}
	if maxAge := policy.MaxTokenAge(); maxAge > 0 {
		tc.freshUntil = tc.issuedAt.Add(maxAge)
	}
	if c.RateLimitPerMinute != nil {
		tc.rateLimitPerMinute = *c.RateLimitPerMinute
	}
	if c.DailyQuota != nil {
		tc.dailyQuota = *c.DailyQuota
	}
	return tc
}

// classifyError maps a jwt parse or validation error to a rejection. An
// expired token is reported as such; every other failure is INVALID_TOKEN
// so the response does not reveal which check failed.
func classifyError(err error) *sserr.Error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return sserr.RejectWrap(err, sserr.CodeAuthenticationExpired, ReasonTokenExpired,
			"token has expired")
	}
	return sserr.RejectWrap(err, sserr.CodeAuthenticationInvalid, ReasonInvalidToken,
		"token signature or claims are invalid")
}

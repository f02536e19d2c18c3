package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// TokenTypeBearer is the token_type of every issued token.
const TokenTypeBearer = "bearer"

// IssuedToken is the response to a service token request.
type IssuedToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int64     `json:"expires_in"`
	IssuedAt    time.Time `json:"issued_at"`
	Scopes      []string  `json:"scopes"`
}

// ServiceIssuer mints HS256 service tokens for the trusted backend caller.
//
// Token ids are unique per process ("svc-<unixnano>-<counter>") but no
// replay cache exists: a captured service token stays valid until it
// expires.
type ServiceIssuer struct {
	cfg     Config
	opts    options
	logger  *slog.Logger
	tracer  trace.Tracer
	counter atomic.Uint64
}

// NewServiceIssuer returns an issuer. Issue fails with
// APP_AUTH_NOT_CONFIGURED until cfg carries an app key and a signing key.
func NewServiceIssuer(cfg Config, opts ...Option) *ServiceIssuer {
	cfg.applyDefaults()
	o := newOptions(opts)
	return &ServiceIssuer{cfg: cfg, opts: o, logger: o.logger, tracer: o.tracer()}
}

// Issue checks appKey against the configured application key and signs a
// token granting scopes, or the configured default scopes when none are
// requested.
func (s *ServiceIssuer) Issue(ctx context.Context, appKey string, scopes []string) (*IssuedToken, error) {
	ctx, span := s.tracer.Start(ctx, "auth.ServiceIssuer.Issue")
	defer span.End()

	tok, err := s.issue(ctx, appKey, scopes)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Reason(err)))
		return nil, err
	}
	span.SetAttributes(attribute.StringSlice("auth.scopes", tok.Scopes))
	span.SetStatus(codes.Ok, "")
	return tok, nil
}

func (s *ServiceIssuer) issue(ctx context.Context, appKey string, scopes []string) (*IssuedToken, error) {
	if !s.cfg.AppKey.IsSet() || !s.cfg.ServiceSigningKey.IsSet() {
		s.logger.ErrorContext(ctx, "auth: service token requested but app authentication is not configured")
		return nil, sserr.Reject(sserr.CodeInternalConfiguration, ReasonAppAuthNotConfigured,
			"application authentication is not configured")
	}
	if subtle.ConstantTimeCompare([]byte(appKey), []byte(s.cfg.AppKey.Value())) != 1 {
		s.logger.WarnContext(ctx, "auth: service token requested with an invalid app key")
		ev := models.NewSecurityEvent(models.EventInvalidAppKey, models.RiskHigh)
		ev.Subject = ServiceSubject
		ev.Reason = string(ReasonInvalidAppKey)
		s.opts.emit(ev)
		return nil, sserr.Reject(sserr.CodeAuthenticationCredential, ReasonInvalidAppKey,
			"application key is invalid")
	}

	if len(scopes) == 0 {
		scopes = s.cfg.DefaultScopes
	}
	scopes = slices.Clone(scopes)

	now := s.opts.now().UTC().Truncate(time.Second)
	exp := now.Add(s.cfg.ServiceTokenTTL)
	claims := serviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ServiceSubject,
			Issuer:    s.cfg.ServiceIssuer,
			Audience:  jwt.ClaimStrings{s.cfg.ServiceAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        fmt.Sprintf("svc-%d-%d", s.opts.now().UnixNano(), s.counter.Add(1)),
		},
		Scope: scopes,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(s.cfg.ServiceSigningKey.Value()))
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternal, "auth: failed to sign service token")
	}

	s.opts.metrics.observeIssued()
	ev := models.NewSecurityEvent(models.EventServiceTokenIssued, models.RiskLow)
	ev.Subject = ServiceSubject
	ev.Details = map[string]any{"jti": claims.ID, "scopes": scopes}
	s.opts.emit(ev)
	s.logger.InfoContext(ctx, "auth: service token issued",
		"jti", claims.ID,
		"scopes", scopes,
		"expires_at", exp,
	)

	return &IssuedToken{
		AccessToken: signed,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(s.cfg.ServiceTokenTTL / time.Second),
		IssuedAt:    now,
		Scopes:      scopes,
	}, nil
}

// ServiceVerifier verifies service tokens: HS256 with the shared signing
// key, the configured issuer and audience, and the fixed backend subject.
// Scope requirements are checked separately with [RequireScopes].
type ServiceVerifier struct {
	cfg    Config
	opts   options
	tracer trace.Tracer
}

// NewServiceVerifier returns a verifier. Every token is rejected while
// cfg has no signing key.
func NewServiceVerifier(cfg Config, opts ...Option) *ServiceVerifier {
	cfg.applyDefaults()
	o := newOptions(opts)
	return &ServiceVerifier{cfg: cfg, opts: o, tracer: o.tracer()}
}

// Verify checks a raw service token.
func (v *ServiceVerifier) Verify(ctx context.Context, token string) (*ServiceContext, error) {
	_, span := v.tracer.Start(ctx, "auth.ServiceVerifier.Verify")
	defer span.End()

	sc, err := v.verify(token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(Reason(err)))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return sc, nil
}

func (v *ServiceVerifier) verify(token string) (*ServiceContext, error) {
	if len(token) > maxTokenSize {
		return nil, sserr.Reject(sserr.CodeAuthenticationFormat, ReasonInvalidTokenFormat,
			"token exceeds the maximum size")
	}
	if !v.cfg.ServiceSigningKey.IsSet() {
		return nil, sserr.Reject(sserr.CodeAuthenticationInvalid, ReasonInvalidToken,
			"service tokens are not accepted")
	}

	claims := &serviceClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.cfg.ServiceIssuer),
		jwt.WithAudience(v.cfg.ServiceAudience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.cfg.ClockSkew),
		jwt.WithTimeFunc(v.opts.now),
	)
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(v.cfg.ServiceSigningKey.Value()), nil
	}); err != nil {
		return nil, classifyError(err)
	}
	if claims.Subject != ServiceSubject {
		return nil, sserr.Reject(sserr.CodeAuthenticationClaims, ReasonInvalidServiceSubject,
			"token subject is not the backend service")
	}
	if claims.IssuedAt == nil || claims.ID == "" {
		return nil, sserr.Reject(sserr.CodeAuthenticationInvalid, ReasonInvalidToken,
			"token is missing required claims")
	}

	return &ServiceContext{
		subject:   claims.Subject,
		issuer:    claims.Issuer,
		audience:  v.cfg.ServiceAudience,
		tokenID:   claims.ID,
		scopes:    slices.Clone([]string(claims.Scope)),
		issuedAt:  claims.IssuedAt.Time,
		expiresAt: claims.ExpiresAt.Time,
	}, nil
}

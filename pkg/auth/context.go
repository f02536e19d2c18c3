package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TokenKind is the trust domain a token was classified into before
// verification.
type TokenKind int

const (
	KindUnknown TokenKind = iota
	KindTenant
	KindService
)

func (k TokenKind) String() string {
	switch k {
	case KindTenant:
		return "tenant"
	case KindService:
		return "service"
	default:
		return "unknown"
	}
}

// AuthorizationContext is the verified caller, whichever trust domain it
// came from. Implementations are immutable and safe to share between
// requests.
type AuthorizationContext interface {
	// Kind reports the trust domain that verified the token.
	Kind() TokenKind
	// SubjectID is the token's sub claim.
	SubjectID() string
	// TokenID is the token's jti claim.
	TokenID() string
	// ExpiresAt is the token's exp claim.
	ExpiresAt() time.Time

	HasScope(scope string) bool
	CanAccessTenant(tenantID string) bool
	CanAccessDevice(deviceID string) bool
	CanAccessAgent(agentID string) bool

	// Summary returns a serializable view of the context.
	Summary() Summary
}

// Summary is the JSON view of an [AuthorizationContext].
type Summary struct {
	Kind        string    `json:"kind"`
	Subject     string    `json:"subject"`
	TokenID     string    `json:"token_id"`
	TenantID    string    `json:"tenant_id,omitempty"`
	Issuer      string    `json:"issuer,omitempty"`
	Audience    string    `json:"audience,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	Scopes      []string  `json:"scopes,omitempty"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Key sources recorded on a [TenantContext].
const (
	KeySourceKeySet = "keyset"
	KeySourceStatic = "static_key"
)

// ---------------------------------------------------------------------------
// TenantContext
// ---------------------------------------------------------------------------

// TenantContext is produced by the [TenantVerifier]. It grants access to
// its own tenant only, narrowed by the token's device and agent
// allow-lists.
type TenantContext struct {
	tenantID   string
	tenantName string
	subject    string
	issuer     string
	audience   string
	tokenID    string
	issuedAt   time.Time
	expiresAt  time.Time
	verifiedAt time.Time
	keySource  string

	// freshUntil is iat plus the tenant's maximum token age, or zero.
	freshUntil time.Time

	roles          []Role
	permissions    []string
	allowedAgents  []string
	allowedDevices []string

	rateLimitPerMinute int
	dailyQuota         int
}

var _ AuthorizationContext = (*TenantContext)(nil)

func (c *TenantContext) Kind() TokenKind      { return KindTenant }
func (c *TenantContext) SubjectID() string    { return c.subject }
func (c *TenantContext) TokenID() string      { return c.tokenID }
func (c *TenantContext) ExpiresAt() time.Time { return c.expiresAt }

// TenantID is the verified tenant.
func (c *TenantContext) TenantID() string { return c.tenantID }

// TenantName is the display name from the tenant policy, if any.
func (c *TenantContext) TenantName() string { return c.tenantName }

func (c *TenantContext) Issuer() string        { return c.issuer }
func (c *TenantContext) Audience() string      { return c.audience }
func (c *TenantContext) IssuedAt() time.Time   { return c.issuedAt }
func (c *TenantContext) VerifiedAt() time.Time { return c.verifiedAt }

// KeySource is [KeySourceKeySet] or [KeySourceStatic].
func (c *TenantContext) KeySource() string { return c.keySource }

func (c *TenantContext) Roles() []Role           { return slices.Clone(c.roles) }
func (c *TenantContext) Permissions() []string   { return slices.Clone(c.permissions) }
func (c *TenantContext) AllowedAgents() []string { return slices.Clone(c.allowedAgents) }

func (c *TenantContext) AllowedDevices() []string { return slices.Clone(c.allowedDevices) }

// RateLimitPerMinute and DailyQuota are advisory limits carried by the
// token, falling back to the tenant policy.
func (c *TenantContext) RateLimitPerMinute() int { return c.rateLimitPerMinute }
func (c *TenantContext) DailyQuota() int         { return c.dailyQuota }

func (c *TenantContext) HasRole(r Role) bool { return slices.Contains(c.roles, r) }

func (c *TenantContext) HasPermission(p string) bool { return slices.Contains(c.permissions, p) }

// HasScope is always false: tenant tokens carry roles, not scopes.
func (c *TenantContext) HasScope(string) bool { return false }

func (c *TenantContext) CanAccessTenant(tenantID string) bool {
	return tenantID != "" && tenantID == c.tenantID
}

// CanAccessDevice reports whether deviceID is in the allow-list. A token
// without an allow-list may access every device of its tenant.
func (c *TenantContext) CanAccessDevice(deviceID string) bool {
	if len(c.allowedDevices) == 0 {
		return true
	}
	return slices.Contains(c.allowedDevices, deviceID)
}

// CanAccessAgent reports whether the agent's type is in the allow-list.
// Agent ids of the form "<type>_<instance>" are matched by type. A token
// without an allow-list may access every agent of its tenant.
func (c *TenantContext) CanAccessAgent(agentID string) bool {
	if len(c.allowedAgents) == 0 {
		return true
	}
	agentType, _, _ := strings.Cut(agentID, "_")
	return slices.Contains(c.allowedAgents, agentType)
}

func (c *TenantContext) Summary() Summary {
	roles := make([]string, len(c.roles))
	for i, r := range c.roles {
		roles[i] = string(r)
	}
	return Summary{
		Kind:        KindTenant.String(),
		Subject:     c.subject,
		TokenID:     c.tokenID,
		TenantID:    c.tenantID,
		Issuer:      c.issuer,
		Audience:    c.audience,
		Roles:       roles,
		Permissions: slices.Clone(c.permissions),
		IssuedAt:    c.issuedAt,
		ExpiresAt:   c.expiresAt,
	}
}

// ---------------------------------------------------------------------------
// ServiceContext
// ---------------------------------------------------------------------------

// ServiceContext is produced by the [ServiceVerifier] for the trusted
// backend caller.
type ServiceContext struct {
	subject   string
	issuer    string
	audience  string
	tokenID   string
	scopes    []string
	issuedAt  time.Time
	expiresAt time.Time
}

var _ AuthorizationContext = (*ServiceContext)(nil)

func (c *ServiceContext) Kind() TokenKind      { return KindService }
func (c *ServiceContext) SubjectID() string    { return c.subject }
func (c *ServiceContext) TokenID() string      { return c.tokenID }
func (c *ServiceContext) ExpiresAt() time.Time { return c.expiresAt }
func (c *ServiceContext) IssuedAt() time.Time  { return c.issuedAt }
func (c *ServiceContext) Scopes() []string     { return slices.Clone(c.scopes) }

// Issuer and Audience are the verified iss and aud of the service token.
func (c *ServiceContext) Issuer() string   { return c.issuer }
func (c *ServiceContext) Audience() string { return c.audience }

func (c *ServiceContext) HasScope(scope string) bool { return slices.Contains(c.scopes, scope) }

// CanAccessTenant, CanAccessDevice and CanAccessAgent require the
// backend:admin scope. Service contexts have no tenant of their own.
func (c *ServiceContext) CanAccessTenant(string) bool { return c.HasScope(ScopeBackendAdmin) }
func (c *ServiceContext) CanAccessDevice(string) bool { return c.HasScope(ScopeBackendAdmin) }
func (c *ServiceContext) CanAccessAgent(string) bool  { return c.HasScope(ScopeBackendAdmin) }

func (c *ServiceContext) Summary() Summary {
	return Summary{
		Kind:      KindService.String(),
		Subject:   c.subject,
		TokenID:   c.tokenID,
		Issuer:    c.issuer,
		Audience:  c.audience,
		Scopes:    slices.Clone(c.scopes),
		IssuedAt:  c.issuedAt,
		ExpiresAt: c.expiresAt,
	}
}

// ---------------------------------------------------------------------------
// Request context helpers
// ---------------------------------------------------------------------------

// contextKey is an unexported type used for context keys in this package.
type contextKey int

const (
	authorizationKey contextKey = iota
)

// ContextWithAuthorization returns a copy of ctx carrying ac. Middleware
// and interceptors call it after a successful [Authenticator.Authenticate].
func ContextWithAuthorization(ctx context.Context, ac AuthorizationContext) context.Context {
	return context.WithValue(ctx, authorizationKey, ac)
}

// AuthorizationFromContext returns the caller stored by
// [ContextWithAuthorization].
func AuthorizationFromContext(ctx context.Context) (AuthorizationContext, bool) {
	ac, ok := ctx.Value(authorizationKey).(AuthorizationContext)
	return ac, ok && ac != nil
}

// TenantFromContext returns the caller when it is a tenant.
func TenantFromContext(ctx context.Context) (*TenantContext, bool) {
	ac, _ := AuthorizationFromContext(ctx)
	tc, ok := ac.(*TenantContext)
	return tc, ok
}

// ServiceFromContext returns the caller when it is the backend service.
func ServiceFromContext(ctx context.Context) (*ServiceContext, bool) {
	ac, _ := AuthorizationFromContext(ctx)
	sc, ok := ac.(*ServiceContext)
	return sc, ok
}

// MustAuthorizationFromContext is [AuthorizationFromContext] for code that
// only runs behind the authentication middleware. It panics otherwise.
func MustAuthorizationFromContext(ctx context.Context) AuthorizationContext {
	ac, ok := AuthorizationFromContext(ctx)
	if !ok {
		panic("auth: no authorization in context; ensure authentication middleware is configured")
	}
	return ac
}

// TraceIDFromContext returns the active OpenTelemetry trace ID, so
// security events and logs can be correlated with request traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}

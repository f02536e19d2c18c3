// Package models defines the records shared by the tenantauth packages.
//
// [TenantPolicy] is the per-tenant verification policy persisted by the
// tenant repository and cached by the tenant store. [SecurityEvent] is the
// structured record emitted for authentication decisions that an operator
// may need to audit.
package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// TenantPolicySchemaVersion identifies the serialized shape of
// [TenantPolicy]. Cached copies written under another version are ignored.
const TenantPolicySchemaVersion = 1

// DefaultAlgorithm is the signing algorithm assumed for a tenant that does
// not declare one.
const DefaultAlgorithm = "RS256"

// Rate limit hints applied when a tenant declares none.
const (
	DefaultRateLimitPerMinute = 100
	DefaultRateLimitPerHour   = 3600
	DefaultRateLimitPerDay    = 10000
)

// asymmetricAlgorithms are the only algorithms a tenant may allow. Tenant
// tokens are never verified with a shared secret.
var asymmetricAlgorithms = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// RateLimit carries the request-rate hints propagated into tenant contexts.
// Enforcement happens outside tenantauth.
type RateLimit struct {
	PerMinute int `json:"per_minute" db:"rate_limit_per_minute"`
	PerHour   int `json:"per_hour" db:"rate_limit_per_hour"`
	PerDay    int `json:"per_day" db:"rate_limit_per_day"`
}

// TenantPolicy is the verification policy of one tenant.
type TenantPolicy struct {
	// SchemaVersion is set to [TenantPolicySchemaVersion] on save.
	SchemaVersion int `json:"schema_version" db:"-"`

	// TenantID is the stable identity key. Tokens name it in the tenant_id
	// claim.
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Name is a display name copied into tenant contexts.
	Name string `json:"name,omitempty" db:"name"`

	// Issuer and Audience must equal the token's iss and aud exactly.
	Issuer   string `json:"issuer" db:"issuer"`
	Audience string `json:"audience" db:"audience"`

	// KeySetURI locates the tenant's published key set. Optional when
	// StaticPublicKey is set.
	KeySetURI string `json:"key_set_uri,omitempty" db:"key_set_uri"`

	// StaticPublicKey is a PEM-encoded fallback verification key.
	StaticPublicKey string `json:"static_public_key,omitempty" db:"static_public_key"`

	// Algorithm is the tenant's declared signing algorithm.
	Algorithm string `json:"algorithm,omitempty" db:"algorithm"`

	// AllowedAlgorithms, when non-empty, replaces [Algorithm] as the set of
	// accepted signing algorithms. Order is preserved.
	AllowedAlgorithms []string `json:"allowed_algorithms,omitempty" db:"allowed_algorithms"`

	// RequireKeyID rejects tokens without a kid header when KeySetURI is
	// set, before any key set lookup.
	RequireKeyID bool `json:"require_key_id" db:"require_key_id"`

	// MaxTokenAgeMinutes bounds now - iat independently of exp. Zero
	// disables the check.
	MaxTokenAgeMinutes int `json:"max_token_age_minutes" db:"max_token_age_minutes"`

	// IsActive is false for disabled tenants, whose tokens are always
	// rejected.
	IsActive bool `json:"is_active" db:"is_active"`

	RateLimit RateLimit `json:"rate_limit" db:"-"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	LastAccess *time.Time `json:"last_access,omitempty" db:"last_access"`
}

// NewTenantPolicy returns an active policy with default algorithm, rate
// limits and UTC timestamps. Key material must still be set before it
// validates.
func NewTenantPolicy(tenantID, issuer, audience string) *TenantPolicy {
	now := time.Now().UTC()
	return &TenantPolicy{
		SchemaVersion: TenantPolicySchemaVersion,
		TenantID:      tenantID,
		Issuer:        issuer,
		Audience:      audience,
		Algorithm:     DefaultAlgorithm,
		IsActive:      true,
		RateLimit: RateLimit{
			PerMinute: DefaultRateLimitPerMinute,
			PerHour:   DefaultRateLimitPerHour,
			PerDay:    DefaultRateLimitPerDay,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate returns the first problem that would make the policy unusable
// for verification, or nil.
func (p *TenantPolicy) Validate() error {
	if p.TenantID == "" {
		return errors.New("models: tenant policy tenant_id is required")
	}
	if p.Issuer == "" {
		return errors.New("models: tenant policy issuer is required")
	}
	if p.Audience == "" {
		return errors.New("models: tenant policy audience is required")
	}
	if p.KeySetURI == "" && p.StaticPublicKey == "" {
		return errors.New("models: tenant policy needs a key_set_uri or a static_public_key")
	}
	if p.KeySetURI != "" {
		u, err := url.Parse(p.KeySetURI)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return fmt.Errorf("models: tenant policy key_set_uri %q is not an http(s) URL", p.KeySetURI)
		}
	}
	for _, alg := range p.Algorithms() {
		if !slices.Contains(asymmetricAlgorithms, alg) {
			return fmt.Errorf("models: tenant policy algorithm %q is not an asymmetric signing algorithm", alg)
		}
	}
	if p.MaxTokenAgeMinutes < 0 {
		return fmt.Errorf("models: tenant policy max_token_age_minutes must not be negative, got %d", p.MaxTokenAgeMinutes)
	}
	return nil
}

// Algorithms returns the accepted signing algorithms: AllowedAlgorithms if
// set, otherwise the declared Algorithm, otherwise [DefaultAlgorithm].
func (p *TenantPolicy) Algorithms() []string {
	if len(p.AllowedAlgorithms) > 0 {
		return slices.Clone(p.AllowedAlgorithms)
	}
	if p.Algorithm != "" {
		return []string{p.Algorithm}
	}
	return []string{DefaultAlgorithm}
}

// MaxTokenAge returns MaxTokenAgeMinutes as a duration.
func (p *TenantPolicy) MaxTokenAge() time.Duration {
	return time.Duration(p.MaxTokenAgeMinutes) * time.Minute
}

// EffectiveRateLimit fills zero hints with the defaults.
func (p *TenantPolicy) EffectiveRateLimit() RateLimit {
	rl := p.RateLimit
	if rl.PerMinute <= 0 {
		rl.PerMinute = DefaultRateLimitPerMinute
	}
	if rl.PerHour <= 0 {
		rl.PerHour = DefaultRateLimitPerHour
	}
	if rl.PerDay <= 0 {
		rl.PerDay = DefaultRateLimitPerDay
	}
	return rl
}

// Clone returns a deep copy, so cached policies cannot be mutated through
// a returned pointer.
func (p *TenantPolicy) Clone() *TenantPolicy {
	if p == nil {
		return nil
	}
	cp := *p
	cp.AllowedAlgorithms = slices.Clone(p.AllowedAlgorithms)
	if p.LastAccess != nil {
		t := *p.LastAccess
		cp.LastAccess = &t
	}
	return &cp
}

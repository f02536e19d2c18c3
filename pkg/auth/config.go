package auth

import (
	"time"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// ---------------------------------------------------------------------------
// Secret
// ---------------------------------------------------------------------------

// Secret is a string that redacts itself in String, GoString and
// MarshalText. The raw value is only reachable through [Secret.Value].
type Secret string

const secretRedacted = "[REDACTED]"

// String returns the redacted placeholder.
func (s Secret) String() string { return secretRedacted }

// GoString returns the redacted placeholder, so %#v does not leak either.
func (s Secret) GoString() string { return secretRedacted }

// Value returns the raw secret. Call it only where the key material itself
// is needed, such as signing or comparing.
func (s Secret) Value() string { return string(s) }

// MarshalText implements [encoding.TextMarshaler] with the placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte(secretRedacted), nil }

// IsSet reports whether the secret has a value.
func (s Secret) IsSet() bool { return s != "" }

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

// ServiceSubject is the only subject a service token may carry.
const ServiceSubject = "backend-service"

// ScopeBackendAdmin grants a service context access to every tenant,
// device and agent.
const ScopeBackendAdmin = "backend:admin"

// Defaults for [Config].
const (
	DefaultServiceIssuer   = "tenantauth"
	DefaultServiceAudience = "tenantauth-backend"
	DefaultServiceTokenTTL = 15 * time.Minute
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCacheMaxEntries = 10000
	DefaultSweepInterval   = time.Minute
	DefaultClockSkew       = 30 * time.Second
)

// minSigningKeyLength is the shortest accepted HS256 service secret.
const minSigningKeyLength = 32

// maxTokenSize is the largest bearer token accepted (8 KiB). Larger tokens
// are rejected before any parsing.
const maxTokenSize = 8192

// Config controls both trust domains and the verification result cache.
type Config struct {
	// AppKey is the pre-shared application key a backend caller presents
	// to obtain a service token. Issuance is disabled while it is empty.
	AppKey Secret `json:"-" yaml:"-" env:"APP_KEY"`

	// ServiceSigningKey is the HS256 secret shared by the service token
	// issuer and verifier. Service tokens are rejected while it is empty.
	ServiceSigningKey Secret `json:"-" yaml:"-" env:"SERVICE_SIGNING_KEY"`

	// ServiceIssuer and ServiceAudience are stamped into and required on
	// every service token.
	ServiceIssuer   string `json:"service_issuer" yaml:"service_issuer" env:"SERVICE_ISSUER" envDefault:"tenantauth"`
	ServiceAudience string `json:"service_audience" yaml:"service_audience" env:"SERVICE_AUDIENCE" envDefault:"tenantauth-backend"`

	// ServiceTokenTTL is the lifetime of an issued service token.
	ServiceTokenTTL time.Duration `json:"service_token_ttl" yaml:"service_token_ttl" env:"SERVICE_TOKEN_TTL" envDefault:"15m"`

	// DefaultScopes are granted when an issuance request names none.
	DefaultScopes []string `json:"default_scopes" yaml:"default_scopes" env:"DEFAULT_SCOPES" envDefault:"backend:admin"`

	// CacheTTL bounds how long a verified context is reused. The effective
	// lifetime of an entry is also capped by the token's exp and, for
	// tenant tokens, by iat plus the tenant's maximum token age.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"5m"`

	// CacheMaxEntries bounds the verification result cache. Zero selects
	// the default; a negative value disables caching.
	CacheMaxEntries int `json:"cache_max_entries" yaml:"cache_max_entries" env:"CACHE_MAX_ENTRIES" envDefault:"10000"`

	// SweepInterval is how often expired cache entries are removed.
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval" env:"SWEEP_INTERVAL" envDefault:"1m"`

	// ClockSkew is the leeway applied to exp, nbf and iat checks.
	ClockSkew time.Duration `json:"clock_skew" yaml:"clock_skew" env:"CLOCK_SKEW" envDefault:"30s"`
}

// DefaultConfig returns a Config with every default applied and both
// secrets empty.
func DefaultConfig() Config {
	c := Config{ClockSkew: DefaultClockSkew}
	c.applyDefaults()
	return c
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	c.applyDefaults()
	if c.ServiceSigningKey.IsSet() && len(c.ServiceSigningKey.Value()) < minSigningKeyLength {
		return sserr.Newf(sserr.CodeValidation,
			"auth: service signing key must be at least %d bytes", minSigningKeyLength)
	}
	if c.AppKey.IsSet() && !c.ServiceSigningKey.IsSet() {
		return sserr.New(sserr.CodeValidation,
			"auth: app key is set but the service signing key is empty")
	}
	if c.ClockSkew < 0 {
		return sserr.New(sserr.CodeValidation, "auth: clock skew must be non-negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.ServiceIssuer == "" {
		c.ServiceIssuer = DefaultServiceIssuer
	}
	if c.ServiceAudience == "" {
		c.ServiceAudience = DefaultServiceAudience
	}
	if c.ServiceTokenTTL <= 0 {
		c.ServiceTokenTTL = DefaultServiceTokenTTL
	}
	if len(c.DefaultScopes) == 0 {
		c.DefaultScopes = []string{ScopeBackendAdmin}
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheMaxEntries == 0 {
		c.CacheMaxEntries = DefaultCacheMaxEntries
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

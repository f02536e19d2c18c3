package service

import (
	"time"

	"go.uber.org/multierr"

	"github.com/StricklySoft/tenantauth/pkg/audit"
	"github.com/StricklySoft/tenantauth/pkg/auth"
	"github.com/StricklySoft/tenantauth/pkg/clients/minio"
	"github.com/StricklySoft/tenantauth/pkg/clients/postgres"
	"github.com/StricklySoft/tenantauth/pkg/clients/redis"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/keyset"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

// EnvPrefix is the environment variable prefix of every setting, e.g.
// TENANTAUTH_AUTH_APP_KEY or TENANTAUTH_REDIS_HOST.
const EnvPrefix = "TENANTAUTH"

// Defaults for [Config].
const (
	DefaultHTTPAddr        = ":8080"
	DefaultShutdownTimeout = 15 * time.Second
)

// Config aggregates the configuration of every component. Backends whose
// section is empty are not used: without Postgres, policies live in
// memory (seeded from TenantsFile); without Redis, the tenant cache and
// access statistics are process-local; without MinIO, security events are
// only logged.
type Config struct {
	HTTPAddr        string        `json:"http_addr" yaml:"http_addr" env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// TenantsFile is a YAML or JSON list of tenant policies saved through
	// the store at startup.
	TenantsFile string `json:"tenants_file,omitempty" yaml:"tenants_file" env:"TENANTS_FILE"`

	// WarmOnStart loads every active tenant policy into the cache once
	// the components are running.
	WarmOnStart bool `json:"warm_on_start" yaml:"warm_on_start" env:"WARM_ON_START" envDefault:"true"`

	Auth     auth.Config     `json:"auth" yaml:"auth" env:"AUTH"`
	Keyset   keyset.Config   `json:"keyset" yaml:"keyset" env:"KEYSET"`
	Tenant   tenant.Config   `json:"tenant" yaml:"tenant" env:"TENANT"`
	Audit    audit.Config    `json:"audit" yaml:"audit" env:"AUDIT"`
	Redis    redis.Config    `json:"redis" yaml:"redis" env:"REDIS"`
	Postgres postgres.Config `json:"postgres" yaml:"postgres" env:"POSTGRES"`
	MinIO    minio.Config    `json:"minio" yaml:"minio" env:"MINIO"`
}

// DefaultConfig returns a Config with in-memory backends and issuance
// disabled.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:        DefaultHTTPAddr,
		ShutdownTimeout: DefaultShutdownTimeout,
		WarmOnStart:     true,
		Auth:            auth.DefaultConfig(),
	}
}

// Validate checks every section. All problems are reported together.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	var errs error
	errs = multierr.Append(errs, c.Auth.Validate())
	errs = multierr.Append(errs, c.Tenant.Validate())
	errs = multierr.Append(errs, c.Audit.Validate())
	if c.Tenant.CacheBackend == tenant.CacheBackendRedis && !c.Redis.Enabled() {
		errs = multierr.Append(errs, sserr.New(sserr.CodeValidation,
			"service: tenant cache_backend is redis but no redis host or uri is configured"))
	}
	if c.Redis.Enabled() {
		errs = multierr.Append(errs, c.Redis.Validate())
	}
	if c.Postgres.Enabled() {
		errs = multierr.Append(errs, c.Postgres.Validate())
	}
	if c.MinIO.Enabled() {
		errs = multierr.Append(errs, c.MinIO.Validate())
	}
	if errs != nil {
		return sserr.Wrap(errs, sserr.CodeValidation, "service: invalid configuration")
	}
	return nil
}

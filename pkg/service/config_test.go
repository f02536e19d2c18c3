package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/tenantauth/internal/testutil"
	"github.com/StricklySoft/tenantauth/internal/testutil/fixtures"
	"github.com/StricklySoft/tenantauth/pkg/auth"
	"github.com/StricklySoft/tenantauth/pkg/config"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

func TestConfig_LoadDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, config.New().WithEnvPrefix("TENANTAUTH_TEST_EMPTY").Load(&cfg))

	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.True(t, cfg.WarmOnStart)
	assert.Equal(t, []string{auth.ScopeBackendAdmin}, cfg.Auth.DefaultScopes)
	assert.Equal(t, 15*time.Minute, cfg.Auth.ServiceTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.Tenant.CacheTTL)
	assert.Equal(t, tenant.CacheBackendMemory, cfg.Tenant.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.Keyset.RefreshInterval)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Postgres.Enabled())
	assert.False(t, cfg.MinIO.Enabled())
}

func TestConfig_LoadFromEnv(t *testing.T) {
	testutil.SetEnv(t, "TENANTAUTH_HTTP_ADDR", ":9090")
	testutil.SetEnv(t, "TENANTAUTH_AUTH_APP_KEY", fixtures.AppKey)
	testutil.SetEnv(t, "TENANTAUTH_AUTH_SERVICE_SIGNING_KEY", fixtures.SigningKey)
	testutil.SetEnv(t, "TENANTAUTH_AUTH_DEFAULT_SCOPES", "backend:admin, backend:read")
	testutil.SetEnv(t, "TENANTAUTH_TENANT_CACHE_BACKEND", "redis")
	testutil.SetEnv(t, "TENANTAUTH_TENANT_CACHE_TTL", "10m")
	testutil.SetEnv(t, "TENANTAUTH_REDIS_HOST", "redis.internal")
	testutil.SetEnv(t, "TENANTAUTH_KEYSET_FETCH_TIMEOUT", "2s")

	cfg := config.MustLoad[Config](config.New().WithEnvPrefix(EnvPrefix))

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, fixtures.AppKey, cfg.Auth.AppKey.Value())
	assert.Equal(t, []string{"backend:admin", "backend:read"}, cfg.Auth.DefaultScopes)
	assert.Equal(t, tenant.CacheBackendRedis, cfg.Tenant.CacheBackend)
	assert.Equal(t, 10*time.Minute, cfg.Tenant.CacheTTL)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 2*time.Second, cfg.Keyset.FetchTimeout)

	testutil.AssertJSONNotContains(t, cfg, fixtures.AppKey)
	testutil.AssertJSONNotContains(t, cfg, fixtures.SigningKey)
}

func TestConfig_LoadFromFile(t *testing.T) {
	path := testutil.TempFile(t, "tenantauth.yaml", `
http_addr: ":7070"
tenants_file: /etc/tenantauth/tenants.yaml
auth:
  service_issuer: issuer-from-file
  cache_ttl: 2m
tenant:
  cache_ttl: 45m
audit:
  batch_size: 32
`)
	var cfg Config
	require.NoError(t, config.New().WithEnvPrefix("TENANTAUTH_TEST_FILE").WithFile(path).Load(&cfg))

	assert.Equal(t, ":7070", cfg.HTTPAddr)
	assert.Equal(t, "/etc/tenantauth/tenants.yaml", cfg.TenantsFile)
	assert.Equal(t, "issuer-from-file", cfg.Auth.ServiceIssuer)
	assert.Equal(t, 2*time.Minute, cfg.Auth.CacheTTL)
	assert.Equal(t, 45*time.Minute, cfg.Tenant.CacheTTL)
	assert.Equal(t, 32, cfg.Audit.BatchSize)
}

func TestConfig_LoadRejectsInvalid(t *testing.T) {
	testutil.SetEnv(t, "TENANTAUTH_TEST_BAD_TENANT_CACHE_BACKEND", "redis")

	var cfg Config
	err := config.New().WithEnvPrefix("TENANTAUTH_TEST_BAD").Load(&cfg)
	require.Error(t, err)
	assert.True(t, sserr.IsValidation(err))
}

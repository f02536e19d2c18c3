package service

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/StricklySoft/tenantauth/internal/testutil"
	"github.com/StricklySoft/tenantauth/internal/testutil/fixtures"
	"github.com/StricklySoft/tenantauth/pkg/auth"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/lifecycle"
	"github.com/StricklySoft/tenantauth/pkg/models"
	"github.com/StricklySoft/tenantauth/pkg/tenant"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ===========================================================================
// Helpers
// ===========================================================================

// recordingSink keeps every written security event.
type recordingSink struct {
	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (s *recordingSink) Write(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Auth.AppKey = fixtures.AppKey
	cfg.Auth.ServiceSigningKey = fixtures.SigningKey
	cfg.Audit.FlushInterval = 10 * time.Millisecond
	return cfg
}

type serviceFixture struct {
	svc  *Service
	idp  *testutil.IdentityProvider
	repo *tenant.MemoryRepository
	sink *recordingSink
}

// newFixture builds and starts a service over an in-memory repository
// holding one active tenant trusting a test identity provider.
func newFixture(t *testing.T, mutate ...func(*Config)) *serviceFixture {
	t.Helper()
	idp := testutil.NewIdentityProvider(t)
	f := &serviceFixture{
		idp:  idp,
		repo: tenant.NewMemoryRepository(idp.Policy(fixtures.TenantID)),
		sink: &recordingSink{},
	}
	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}

	svc, err := New(context.Background(), cfg,
		WithLogger(discardLogger()),
		WithRepository(f.repo),
		WithHTTPClient(idp.Client()),
		WithSink(f.sink),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	f.svc = svc
	return f
}

func (f *serviceFixture) bearer(t *testing.T, tenantID string) string {
	t.Helper()
	return "Bearer " + f.idp.Token(t, tenantID, time.Now())
}

// ===========================================================================
// Construction
// ===========================================================================

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short signing key", func(c *Config) { c.Auth.ServiceSigningKey = "short" }},
		{"redis cache without redis", func(c *Config) { c.Tenant.CacheBackend = tenant.CacheBackendRedis }},
		{"unknown cache backend", func(c *Config) { c.Tenant.CacheBackend = "memcached" }},
		{"negative audit buffer", func(c *Config) { c.Audit.BufferSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg, WithLogger(discardLogger()))
			require.Error(t, err)
			assert.True(t, sserr.IsValidation(err), "got %v", err)
		})
	}
}

func TestService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, lifecycle.StateRunning, f.svc.State())

	require.NoError(t, f.svc.Stop(context.Background()))
	assert.Equal(t, lifecycle.StateStopped, f.svc.State())

	report, err := f.svc.Health(context.Background())
	require.Error(t, err)
	assert.True(t, sserr.IsUnavailable(err))
	assert.Equal(t, StatusUnavailable, report.Status)
	assert.NotEqual(t, StatusOK, report.Checks["lifecycle"])
}

// ===========================================================================
// Authentication
// ===========================================================================

func TestService_AuthenticateTenantToken(t *testing.T) {
	f := newFixture(t)
	header := f.bearer(t, fixtures.TenantID)

	ac, err := f.svc.Authenticate(context.Background(), header)
	require.NoError(t, err)
	tc, ok := ac.(*auth.TenantContext)
	require.True(t, ok, "got %T", ac)
	assert.Equal(t, fixtures.TenantID, tc.TenantID())
	assert.Equal(t, fixtures.TenantName, tc.TenantName())
	assert.Equal(t, auth.KeySourceKeySet, tc.KeySource())

	_, err = f.svc.Authenticate(context.Background(), header)
	require.NoError(t, err)
	stats := f.svc.Authenticator().Stats()
	assert.Equal(t, int64(1), stats.Verifications)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), f.idp.Requests())
}

func TestService_UnknownTenantCollapses(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate(context.Background(), f.bearer(t, "nobody"))
	require.Error(t, err)
	assert.Equal(t, auth.ReasonAuthenticationFailed, sserr.GetReason(err))
	assert.Equal(t, auth.ReasonUnknownTenant, auth.Reason(err))

	assert.Eventually(t, func() bool {
		return len(f.sink.types()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_IssueAndVerifyServiceToken(t *testing.T) {
	f := newFixture(t)

	issued, err := f.svc.IssueServiceToken(context.Background(), fixtures.AppKey, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{auth.ScopeBackendAdmin}, issued.Scopes)

	ac, err := f.svc.Authenticate(context.Background(), "Bearer "+issued.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.KindService, ac.Kind())
	assert.True(t, ac.HasScope(auth.ScopeBackendAdmin))
	assert.True(t, ac.CanAccessTenant(fixtures.AltTenantID))
}

func TestService_IssueWithWrongAppKey(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.IssueServiceToken(context.Background(), "wrong", nil)
	testutil.RequireErrorCode(t, err, sserr.CodeAuthenticationCredential)
	testutil.RequireReason(t, err, auth.ReasonInvalidAppKey)

	assert.Eventually(t, func() bool {
		for _, typ := range f.sink.types() {
			if typ == models.EventInvalidAppKey {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

// ===========================================================================
// Tenant administration
// ===========================================================================

func TestService_SaveTenantDropsCachedResults(t *testing.T) {
	f := newFixture(t)
	header := f.bearer(t, fixtures.TenantID)
	_, err := f.svc.Authenticate(context.Background(), header)
	require.NoError(t, err)

	disabled := f.idp.Policy(fixtures.TenantID)
	disabled.IsActive = false
	require.NoError(t, f.svc.SaveTenant(context.Background(), disabled))
	assert.Equal(t, 0, f.svc.cache.Len())

	_, err = f.svc.Authenticate(context.Background(), header)
	require.Error(t, err)
	assert.Equal(t, auth.ReasonTenantDisabled, auth.Reason(err))
}

func TestService_InvalidateTenant(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Authenticate(context.Background(), f.bearer(t, fixtures.TenantID))
	require.NoError(t, err)
	require.Equal(t, 1, f.svc.cache.Len())

	// A write that bypasses the store is only seen after invalidation.
	changed := f.idp.Policy(fixtures.TenantID)
	changed.Name = "Renamed"
	require.NoError(t, f.repo.UpsertTenantPolicy(context.Background(), changed))

	require.NoError(t, f.svc.InvalidateTenant(context.Background(), fixtures.TenantID))
	assert.Equal(t, 0, f.svc.cache.Len())

	ac, err := f.svc.Authenticate(context.Background(), f.bearer(t, fixtures.TenantID))
	require.NoError(t, err)
	tc, ok := ac.(*auth.TenantContext)
	require.True(t, ok)
	assert.Equal(t, "Renamed", tc.TenantName())
}

func TestService_Warm(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.WarmOnStart = false })
	second := f.idp.Policy(fixtures.AltTenantID)
	require.NoError(t, f.repo.UpsertTenantPolicy(context.Background(), second))
	inactive := f.idp.Policy("tenant-off")
	inactive.IsActive = false
	require.NoError(t, f.repo.UpsertTenantPolicy(context.Background(), inactive))

	loaded, err := f.svc.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, int64(2), f.svc.store.Stats().CacheMisses)

	_, err = f.svc.Authenticate(context.Background(), f.bearer(t, fixtures.AltTenantID))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.svc.store.Stats().CacheHits)
}

func TestService_WarmCanceled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.WarmOnStart = false })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loaded, err := f.svc.Warm(ctx)
	require.Error(t, err)
	assert.True(t, sserr.IsTimeout(err))
	assert.Zero(t, loaded)
}

func TestService_AccessSummary(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Authenticate(context.Background(), f.bearer(t, fixtures.TenantID))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, err := f.svc.AccessSummary(context.Background(), fixtures.TenantID)
		return err == nil && s != nil && s.Total == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// ===========================================================================
// Seeding
// ===========================================================================

func indentedPEM(t *testing.T, f *serviceFixture) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&f.idp.Key.PublicKey)
	require.NoError(t, err)
	block := strings.TrimSpace(string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})))
	return "    " + strings.ReplaceAll(block, "\n", "\n    ")
}

func TestService_SeedTenantsFile(t *testing.T) {
	idp := testutil.NewIdentityProvider(t)
	path := testutil.TempFile(t, "tenants.yaml",
		fmt.Sprintf(fixtures.TenantsYAML, indentedPEM(t, &serviceFixture{idp: idp})))

	f := newFixture(t, func(c *Config) { c.TenantsFile = path })

	ac, err := f.svc.Authenticate(context.Background(), f.bearer(t, fixtures.AltTenantID))
	require.NoError(t, err)
	tc := ac.(*auth.TenantContext)
	assert.Equal(t, "Tenant B", tc.TenantName())
	assert.Equal(t, auth.KeySourceStatic, tc.KeySource())
}

func TestLoadPolicies(t *testing.T) {
	t.Run("json keeps defaults", func(t *testing.T) {
		path := testutil.TempFile(t, "tenants.json", `[{
			"tenant_id": "t1",
			"issuer": "https://idp.example/",
			"audience": "api",
			"key_set_uri": "https://idp.example/jwks.json"
		}]`)
		policies, err := LoadPolicies(path)
		require.NoError(t, err)
		require.Len(t, policies, 1)
		assert.True(t, policies[0].IsActive)
		assert.Equal(t, models.DefaultAlgorithm, policies[0].Algorithm)
		assert.Equal(t, models.DefaultRateLimitPerMinute, policies[0].RateLimit.PerMinute)
	})

	t.Run("explicitly disabled", func(t *testing.T) {
		path := testutil.TempFile(t, "tenants.yml", `
- tenant_id: t1
  issuer: https://idp.example/
  audience: api
  key_set_uri: https://idp.example/jwks.json
  is_active: false
`)
		policies, err := LoadPolicies(path)
		require.NoError(t, err)
		require.Len(t, policies, 1)
		assert.False(t, policies[0].IsActive)
	})

	errorCases := map[string]struct {
		name, content string
		code          sserr.Code
	}{
		"unsupported extension": {"tenants.toml", `x = 1`, sserr.CodeInternalConfiguration},
		"not a list":            {"tenants.json", `{"tenant_id": "t1"}`, sserr.CodeInternalConfiguration},
		"invalid policy":        {"tenants.json", `[{"tenant_id": "t1"}]`, sserr.CodeValidation},
		"malformed yaml":        {"tenants.yaml", "- [unclosed", sserr.CodeInternalConfiguration},
	}
	for name, tc := range errorCases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadPolicies(testutil.TempFile(t, tc.name, tc.content))
			testutil.RequireErrorCode(t, err, tc.code)
		})
	}

	_, err := LoadPolicies("/nonexistent/tenants.json")
	testutil.RequireErrorCode(t, err, sserr.CodeInternalConfiguration)
}

// ===========================================================================
// Health and metrics
// ===========================================================================

func TestService_Health(t *testing.T) {
	f := newFixture(t)

	report, err := f.svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, lifecycle.StateRunning, report.Lifecycle.State)
	assert.Equal(t, []string{"security-events", "tenant-store", "verification-cache"}, report.Lifecycle.Components)
	assert.Equal(t, map[string]string{"lifecycle": StatusOK, "tenant_store": StatusOK}, report.Checks)
	testutil.AssertJSONNotContains(t, report, fixtures.SigningKey)
}

func TestService_MetricsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	idp := testutil.NewIdentityProvider(t)
	svc, err := New(context.Background(), testConfig(),
		WithLogger(discardLogger()),
		WithRegistry(reg),
		WithRepository(tenant.NewMemoryRepository(idp.Policy(fixtures.TenantID))),
		WithHTTPClient(idp.Client()),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Start(context.Background()))
	defer func() { require.NoError(t, svc.Stop(context.Background())) }()
	assert.Same(t, reg, svc.Registry())

	_, err = svc.Authenticate(context.Background(), "Bearer "+idp.Token(t, fixtures.TenantID, time.Now()))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "tenantauth_verifications_total")
	assert.Contains(t, names, "tenantauth_verification_duration_seconds")
}

// Package fixtures provides shared test data constants for the tenantauth
// test suites.
//
// Using common constants for tenants, issuers and credentials prevents
// magic strings in tests and keeps the service and server suites
// consistent.
package fixtures

// Standard tenant identity values used in service and server tests.
const (
	// TenantID is the default tenant for unit tests.
	TenantID = "tenant-a"

	// AltTenantID is a second tenant for tests that need two.
	AltTenantID = "tenant-b"

	// TenantName is copied into tenant contexts.
	TenantName = "Tenant A"

	// Issuer is the iss of every test tenant token.
	Issuer = "https://idp.tenant.test/"

	// Audience is the aud of every test tenant token.
	Audience = "tenantauth-api"

	// Subject is the sub of every test tenant token.
	Subject = "user-abc-123"

	// KeyID is the kid of the test identity provider key.
	KeyID = "idp-key-1"
)

// Standard service credentials used in issuance tests.
const (
	// AppKey is the pre-shared application key.
	AppKey = "app-key-for-tests"

	// SigningKey is a 32-byte HS256 service secret. This is a deliberately
	// weak value suitable only for unit tests.
	SigningKey = "0123456789abcdef0123456789abcdef"
)

// TenantsYAML is a seed file with one tenant that has a static key.
// Callers substitute a PEM whose lines are indented by four spaces.
const TenantsYAML = `- tenant_id: tenant-b
  name: Tenant B
  issuer: https://idp.tenant.test/
  audience: tenantauth-api
  static_public_key: |
%s
  max_token_age_minutes: 30
`

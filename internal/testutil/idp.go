package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/tenantauth/internal/testutil/fixtures"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// KeySetPath is where an [IdentityProvider] publishes its key set.
const KeySetPath = "/.well-known/jwks.json"

var (
	idpKeyOnce sync.Once
	idpKey     *rsa.PrivateKey
	idpKeyErr  error
)

// IdentityProvider is a tenant identity provider for tests: it publishes
// one RSA key as a JWK set over HTTP and signs RS256 tenant tokens with
// it. The key is generated once per test binary.
type IdentityProvider struct {
	*httptest.Server
	Key      *rsa.PrivateKey
	KeyID    string
	requests atomic.Int64
}

// NewIdentityProvider starts a key set server that is closed when the
// test finishes.
func NewIdentityProvider(t testing.TB) *IdentityProvider {
	t.Helper()
	idpKeyOnce.Do(func() {
		idpKey, idpKeyErr = rsa.GenerateKey(rand.Reader, 2048)
	})
	require.NoError(t, idpKeyErr)

	key, err := jwk.FromRaw(&idpKey.PublicKey)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, fixtures.KeyID))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(key))
	doc, err := json.Marshal(set)
	require.NoError(t, err)

	p := &IdentityProvider{Key: idpKey, KeyID: fixtures.KeyID}
	p.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != KeySetPath {
			http.NotFound(w, r)
			return
		}
		p.requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(doc)
	}))
	t.Cleanup(p.Close)
	return p
}

// KeySetURI returns the URI of the published key set.
func (p *IdentityProvider) KeySetURI() string {
	return p.URL + KeySetPath
}

// Requests returns how many key set requests were served.
func (p *IdentityProvider) Requests() int64 {
	return p.requests.Load()
}

// Policy returns an active policy for tenantID trusting this provider.
func (p *IdentityProvider) Policy(tenantID string) *models.TenantPolicy {
	policy := models.NewTenantPolicy(tenantID, fixtures.Issuer, fixtures.Audience)
	policy.Name = fixtures.TenantName
	policy.KeySetURI = p.KeySetURI()
	policy.RequireKeyID = true
	policy.MaxTokenAgeMinutes = 60
	return policy
}

// Claims returns valid tenant token claims for tenantID issued at now.
func (p *IdentityProvider) Claims(tenantID string, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":       fixtures.Issuer,
		"aud":       fixtures.Audience,
		"sub":       fixtures.Subject,
		"jti":       "jti-" + tenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(5 * time.Minute).Unix(),
		"tenant_id": tenantID,
		"roles":     []string{"operator"},
	}
}

// Sign signs claims with the provider key and its key id.
func (p *IdentityProvider) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = p.KeyID
	s, err := tok.SignedString(p.Key)
	require.NoError(t, err)
	return s
}

// Token signs valid claims for tenantID issued at now.
func (p *IdentityProvider) Token(t testing.TB, tenantID string, now time.Time) string {
	t.Helper()
	return p.Sign(t, p.Claims(tenantID, now))
}

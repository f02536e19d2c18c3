package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// stubAuthenticator returns a fixed result for every header and records
// the last header it saw.
type stubAuthenticator struct {
	ac     AuthorizationContext
	err    error
	header string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, header string) (AuthorizationContext, error) {
	s.header = header
	return s.ac, s.err
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) sserr.PublicError {
	t.Helper()
	var body sserr.PublicError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHTTPMiddleware_StoresAuthorization(t *testing.T) {
	authn := &stubAuthenticator{ac: &TenantContext{tenantID: "t1", subject: "u1"}}

	var seen AuthorizationContext
	r := chi.NewRouter()
	r.With(HTTPMiddleware(authn)).Get("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		seen = MustAuthorizationFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.Header.Set(HeaderAuthorization, "Bearer tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Bearer tok", authn.header)
	require.NotNil(t, seen)
	assert.Equal(t, "u1", seen.SubjectID())
}

func TestHTTPMiddleware_Rejects(t *testing.T) {
	authn := &stubAuthenticator{
		err: sserr.RejectWrap(
			sserr.Reject(sserr.CodeAuthenticationTenant, ReasonUnknownTenant, "tenant is not recognized"),
			sserr.CodeAuthentication, ReasonAuthenticationFailed, "authentication failed"),
	}
	called := false
	h := HTTPMiddleware(authn)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeError(t, rec)
	assert.Equal(t, "AUTHENTICATION_FAILED", body.Error)
	assert.Equal(t, sserr.CodeAuthentication, body.Code)
	assert.NotContains(t, rec.Body.String(), "UNKNOWN_TENANT")
}

func TestRequireHTTP(t *testing.T) {
	handler := RequireHTTP(ScopeGate(ScopeBackendAdmin))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/test", nil)
		req = req.WithContext(serviceCtx(ScopeBackendAdmin))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("insufficient scope", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/test", nil)
		req = req.WithContext(tenantCtx(nil))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, rec.Header().Get("WWW-Authenticate"))
		assert.Equal(t, "INSUFFICIENT_SCOPES", decodeError(t, rec).Error)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/test", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestWriteError_Internal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("dial tcp 10.0.0.1:5432: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "internal error", body.Message)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")
}

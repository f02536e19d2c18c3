package auth

import (
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/keyset"
)

// Rejection reasons. Each is returned with the [sserr.Code] noted beside it,
// whose category fixes the HTTP status.
const (
	// Header parsing (AUTH_004).
	ReasonMissingAuthorization       sserr.Reason = "MISSING_AUTHORIZATION"
	ReasonInvalidAuthorizationFormat sserr.Reason = "INVALID_AUTHORIZATION_FORMAT"

	// Token structure (AUTH_005).
	ReasonInvalidTokenFormat sserr.Reason = "INVALID_TOKEN_FORMAT"

	// Tenant policy (AUTH_006).
	ReasonUnknownTenant  sserr.Reason = "UNKNOWN_TENANT"
	ReasonTenantDisabled sserr.Reason = "TENANT_DISABLED"

	// Claim pre-checks (AUTH_007).
	ReasonInvalidIssuer         sserr.Reason = "INVALID_ISSUER"
	ReasonInvalidAudience       sserr.Reason = "INVALID_AUDIENCE"
	ReasonInvalidServiceSubject sserr.Reason = "INVALID_SERVICE_SUBJECT"

	// Key material (AUTH_008).
	ReasonMissingKeyID         sserr.Reason = "MISSING_KEY_ID"
	ReasonKeyNotFound          sserr.Reason = keyset.ReasonKeyNotFound
	ReasonKeySetFetchError     sserr.Reason = keyset.ReasonFetchFailed
	ReasonPublicKeyUnavailable sserr.Reason = "PUBLIC_KEY_UNAVAILABLE"

	// Signature and standard claims (AUTH_003, AUTH_002).
	ReasonInvalidToken sserr.Reason = "INVALID_TOKEN"
	ReasonTokenExpired sserr.Reason = "TOKEN_EXPIRED"

	// Freshness window (AUTH_009).
	ReasonTokenTooOld sserr.Reason = "TOKEN_TOO_OLD"

	// Dispatcher (AUTH_001).
	ReasonAuthenticationFailed sserr.Reason = "AUTHENTICATION_FAILED"

	// Service token issuance (AUTH_010, INT_003).
	ReasonInvalidAppKey        sserr.Reason = "INVALID_APP_KEY"
	ReasonAppAuthNotConfigured sserr.Reason = "APP_AUTH_NOT_CONFIGURED"

	// Gates applied after authentication (AUTHZ_*).
	ReasonInsufficientScopes      sserr.Reason = "INSUFFICIENT_SCOPES"
	ReasonInsufficientRoles       sserr.Reason = "INSUFFICIENT_ROLES"
	ReasonInsufficientPermissions sserr.Reason = "INSUFFICIENT_PERMISSIONS"
	ReasonTenantAccessDenied      sserr.Reason = "TENANT_ACCESS_DENIED"
	ReasonDeviceAccessDenied      sserr.Reason = "DEVICE_ACCESS_DENIED"
	ReasonAgentAccessDenied       sserr.Reason = "AGENT_ACCESS_DENIED"
)

// Reason returns the most specific rejection reason in err's chain: the
// innermost one, so a collapsed AUTHENTICATION_FAILED still reports which
// verifier check failed. Returns "" when err carries no reason.
func Reason(err error) sserr.Reason {
	var found sserr.Reason
	for err != nil {
		e, ok := sserr.AsError(err)
		if !ok {
			break
		}
		if e.Reason != "" {
			found = e.Reason
		}
		err = e.Cause
	}
	return found
}

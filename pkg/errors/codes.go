package errors

// Code is a machine-readable error code in CATEGORY_NNN form.
type Code string

const (
	// Validation errors (400).
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
	CodeValidationRange    Code = "VAL_004"

	// Authentication errors (401).
	CodeAuthentication        Code = "AUTH_001"
	CodeAuthenticationExpired Code = "AUTH_002"
	CodeAuthenticationInvalid Code = "AUTH_003"
	// CodeAuthenticationMissing covers absent or malformed Authorization
	// headers.
	CodeAuthenticationMissing Code = "AUTH_004"
	// CodeAuthenticationFormat covers tokens that cannot be parsed at all.
	CodeAuthenticationFormat Code = "AUTH_005"
	// CodeAuthenticationTenant covers unknown and disabled tenants.
	CodeAuthenticationTenant Code = "AUTH_006"
	// CodeAuthenticationClaims covers issuer, audience and subject
	// mismatches detected before signature verification.
	CodeAuthenticationClaims Code = "AUTH_007"
	// CodeAuthenticationKey covers missing key ids and unresolvable keys.
	CodeAuthenticationKey Code = "AUTH_008"
	// CodeAuthenticationStale is returned for tokens older than the
	// tenant's freshness window.
	CodeAuthenticationStale Code = "AUTH_009"
	// CodeAuthenticationCredential is returned for a wrong application key.
	CodeAuthenticationCredential Code = "AUTH_010"

	// Authorization errors (403).
	CodeAuthorization                  Code = "AUTHZ_001"
	CodeAuthorizationDenied            Code = "AUTHZ_002"
	CodeAuthorizationInsufficientScope Code = "AUTHZ_003"

	// Not found errors (404).
	CodeNotFound       Code = "NF_001"
	CodeNotFoundTenant Code = "NF_002"

	// Conflict errors (409).
	CodeConflict Code = "CONF_001"

	// Internal errors (500).
	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	// Unavailable errors (503). Retryable.
	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	// Timeout errors (504). Retryable.
	CodeTimeout           Code = "TIMEOUT_001"
	CodeTimeoutDatabase   Code = "TIMEOUT_002"
	CodeTimeoutDependency Code = "TIMEOUT_003"
)

// String returns the code as a string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore, e.g. "AUTH" for
// "AUTH_003". A code without an underscore is its own category.
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}

// Reason is a stable, client-facing rejection identifier.
type Reason string

// String returns the reason as a string.
func (r Reason) String() string {
	return string(r)
}

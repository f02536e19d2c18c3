package auth

import (
	"context"
	"slices"
	"strings"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// Role is a tenant role carried in the roles claim of a tenant token.
type Role string

// The tenant roles. Role names outside this set are ignored when a token
// is verified.
const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
	RoleAPIUser  Role = "api_user"
)

// Valid reports whether r is one of the known tenant roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer, RoleAPIUser:
		return true
	}
	return false
}

// parseRoles keeps the known roles from a roles claim, lowercased and in
// claim order, without duplicates.
func parseRoles(claim []string) []Role {
	roles := make([]Role, 0, len(claim))
	for _, s := range claim {
		r := Role(strings.ToLower(strings.TrimSpace(s)))
		if r.Valid() && !slices.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	return roles
}

// Gate is an authorization check applied to an authenticated request
// context. It returns nil to allow the request.
type Gate func(ctx context.Context) error

// ScopeGate returns a [Gate] calling [RequireScopes].
func ScopeGate(scopes ...string) Gate {
	return func(ctx context.Context) error { return RequireScopes(ctx, scopes...) }
}

// RoleGate returns a [Gate] calling [RequireRoles].
func RoleGate(roles ...Role) Gate {
	return func(ctx context.Context) error { return RequireRoles(ctx, roles...) }
}

// PermissionGate returns a [Gate] calling [RequirePermissions].
func PermissionGate(permissions ...string) Gate {
	return func(ctx context.Context) error { return RequirePermissions(ctx, permissions...) }
}

// RequireScopes checks that the caller holds every listed scope. Only
// service contexts carry scopes.
func RequireScopes(ctx context.Context, scopes ...string) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	var missing []string
	for _, s := range scopes {
		if !ac.HasScope(s) {
			missing = append(missing, s)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return sserr.Reject(sserr.CodeAuthorizationInsufficientScope, ReasonInsufficientScopes,
		"missing required scopes: "+strings.Join(missing, ", ")).
		WithDetail("required_scopes", scopes).
		WithDetail("missing_scopes", missing)
}

// RequireRoles checks that a tenant caller holds at least one of roles. A
// service caller with backend:admin passes every role check.
func RequireRoles(ctx context.Context, roles ...Role) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	if len(roles) == 0 || ac.HasScope(ScopeBackendAdmin) {
		return nil
	}
	if tc, ok := ac.(*TenantContext); ok {
		for _, r := range roles {
			if tc.HasRole(r) {
				return nil
			}
		}
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return sserr.Reject(sserr.CodeAuthorizationDenied, ReasonInsufficientRoles,
		"requires one of the roles: "+strings.Join(names, ", ")).
		WithDetail("required_roles", names)
}

// RequirePermissions checks that a tenant caller holds every listed
// permission. A service caller with backend:admin passes every permission
// check.
func RequirePermissions(ctx context.Context, permissions ...string) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	if ac.HasScope(ScopeBackendAdmin) {
		return nil
	}
	tc, _ := ac.(*TenantContext)
	var missing []string
	for _, p := range permissions {
		if tc == nil || !tc.HasPermission(p) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return sserr.Reject(sserr.CodeAuthorizationDenied, ReasonInsufficientPermissions,
		"missing required permissions: "+strings.Join(missing, ", ")).
		WithDetail("required_permissions", permissions).
		WithDetail("missing_permissions", missing)
}

// RequireTenantAccess checks [AuthorizationContext.CanAccessTenant].
func RequireTenantAccess(ctx context.Context, tenantID string) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	if ac.CanAccessTenant(tenantID) {
		return nil
	}
	return sserr.Reject(sserr.CodeAuthorizationDenied, ReasonTenantAccessDenied,
		"access to the tenant is not allowed").WithDetail("tenant_id", tenantID)
}

// RequireDeviceAccess checks [AuthorizationContext.CanAccessDevice].
func RequireDeviceAccess(ctx context.Context, deviceID string) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	if ac.CanAccessDevice(deviceID) {
		return nil
	}
	return sserr.Reject(sserr.CodeAuthorizationDenied, ReasonDeviceAccessDenied,
		"access to the device is not allowed").WithDetail("device_id", deviceID)
}

// RequireAgentAccess checks [AuthorizationContext.CanAccessAgent].
func RequireAgentAccess(ctx context.Context, agentID string) error {
	ac, err := authorizationFor(ctx)
	if err != nil {
		return err
	}
	if ac.CanAccessAgent(agentID) {
		return nil
	}
	return sserr.Reject(sserr.CodeAuthorizationDenied, ReasonAgentAccessDenied,
		"access to the agent is not allowed").WithDetail("agent_id", agentID)
}

func authorizationFor(ctx context.Context) (AuthorizationContext, error) {
	ac, ok := AuthorizationFromContext(ctx)
	if !ok {
		return nil, sserr.Reject(sserr.CodeAuthenticationMissing, ReasonMissingAuthorization,
			"request is not authenticated")
	}
	return ac, nil
}

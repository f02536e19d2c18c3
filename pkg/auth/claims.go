package auth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// tenantClaims is the payload of a tenant token. The registered claims are
// checked by the parser; the rest populate the [TenantContext].
type tenantClaims struct {
	jwt.RegisteredClaims

	TenantID       string   `json:"tenant_id"`
	Roles          []string `json:"roles,omitempty"`
	Permissions    []string `json:"permissions,omitempty"`
	AllowedAgents  []string `json:"allowed_agents,omitempty"`
	AllowedDevices []string `json:"allowed_devices,omitempty"`

	RateLimitPerMinute *int `json:"rate_limit_per_minute,omitempty"`
	DailyQuota         *int `json:"daily_quota,omitempty"`
}

// serviceClaims is the payload of a service token.
type serviceClaims struct {
	jwt.RegisteredClaims

	Scope scopeList `json:"scope"`
}

// scopeList decodes either a JSON array of scopes or a single
// space-separated string, and always encodes as an array.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = list
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = strings.Fields(str)
	return nil
}

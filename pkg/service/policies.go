package service

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// LoadPolicies reads a YAML (.yaml/.yml) or JSON (.json) list of tenant
// policies. Field names are the policy's JSON names in both formats.
// Omitted fields keep the defaults of [models.NewTenantPolicy], so a
// policy is active unless it says is_active: false.
func LoadPolicies(path string) ([]*models.TenantPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"service: failed to read tenants file %q", path)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"service: failed to parse tenants file %q", path)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"service: failed to convert tenants file %q", path)
		}
	case ".json":
	default:
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"service: unsupported tenants file extension %q (use .yaml, .yml, or .json)", ext)
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
			"service: tenants file %q must hold a list of policies", path)
	}
	policies := make([]*models.TenantPolicy, 0, len(raw))
	for i, r := range raw {
		p := models.NewTenantPolicy("", "", "")
		if err := json.Unmarshal(r, p); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalConfiguration,
				"service: tenants file %q entry %d is not a policy", path, i)
		}
		if err := p.Validate(); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeValidation,
				"service: tenants file %q entry %d", path, i)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

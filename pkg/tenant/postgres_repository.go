package tenant

import (
	"context"
	"time"

	"github.com/StricklySoft/tenantauth/pkg/clients/postgres"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

const schemaSQL = `CREATE TABLE IF NOT EXISTS tenant_policies (
	tenant_id             TEXT PRIMARY KEY,
	name                  TEXT NOT NULL DEFAULT '',
	issuer                TEXT NOT NULL,
	audience              TEXT NOT NULL,
	key_set_uri           TEXT NOT NULL DEFAULT '',
	static_public_key     TEXT NOT NULL DEFAULT '',
	algorithm             TEXT NOT NULL DEFAULT 'RS256',
	allowed_algorithms    TEXT[] NOT NULL DEFAULT '{}',
	require_key_id        BOOLEAN NOT NULL DEFAULT TRUE,
	max_token_age_minutes INTEGER NOT NULL DEFAULT 0,
	is_active             BOOLEAN NOT NULL DEFAULT TRUE,
	rate_limit_per_minute INTEGER NOT NULL DEFAULT 0,
	rate_limit_per_hour   INTEGER NOT NULL DEFAULT 0,
	rate_limit_per_day    INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_access           TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS tenant_policies_active_idx ON tenant_policies (is_active) WHERE is_active;`

const selectPolicySQL = `SELECT tenant_id, name, issuer, audience, key_set_uri, static_public_key,
	algorithm, allowed_algorithms, require_key_id, max_token_age_minutes, is_active,
	rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
	created_at, updated_at, last_access
FROM tenant_policies WHERE tenant_id = $1`

const upsertPolicySQL = `INSERT INTO tenant_policies (
	tenant_id, name, issuer, audience, key_set_uri, static_public_key,
	algorithm, allowed_algorithms, require_key_id, max_token_age_minutes, is_active,
	rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
	created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (tenant_id) DO UPDATE SET
	name = EXCLUDED.name,
	issuer = EXCLUDED.issuer,
	audience = EXCLUDED.audience,
	key_set_uri = EXCLUDED.key_set_uri,
	static_public_key = EXCLUDED.static_public_key,
	algorithm = EXCLUDED.algorithm,
	allowed_algorithms = EXCLUDED.allowed_algorithms,
	require_key_id = EXCLUDED.require_key_id,
	max_token_age_minutes = EXCLUDED.max_token_age_minutes,
	is_active = EXCLUDED.is_active,
	rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
	rate_limit_per_hour = EXCLUDED.rate_limit_per_hour,
	rate_limit_per_day = EXCLUDED.rate_limit_per_day,
	updated_at = EXCLUDED.updated_at`

const listActiveSQL = `SELECT tenant_id FROM tenant_policies WHERE is_active ORDER BY tenant_id`

// Access timestamps only move forward, so a delayed record cannot overwrite
// a newer one.
const touchLastAccessSQL = `UPDATE tenant_policies SET last_access = $2
WHERE tenant_id = $1 AND (last_access IS NULL OR last_access < $2)`

// PostgresRepository stores policies in the tenant_policies table.
type PostgresRepository struct {
	db *postgres.Client
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a repository over db. Call
// [PostgresRepository.EnsureSchema] once before first use.
func NewPostgresRepository(db *postgres.Client) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the table and index if they do not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: failed to create schema")
	}
	return nil
}

func (r *PostgresRepository) GetTenantPolicy(ctx context.Context, tenantID string) (*models.TenantPolicy, error) {
	var p models.TenantPolicy
	err := r.db.QueryRow(ctx, selectPolicySQL, tenantID).Scan(
		&p.TenantID, &p.Name, &p.Issuer, &p.Audience, &p.KeySetURI, &p.StaticPublicKey,
		&p.Algorithm, &p.AllowedAlgorithms, &p.RequireKeyID, &p.MaxTokenAgeMinutes, &p.IsActive,
		&p.RateLimit.PerMinute, &p.RateLimit.PerHour, &p.RateLimit.PerDay,
		&p.CreatedAt, &p.UpdatedAt, &p.LastAccess,
	)
	if err != nil {
		err = postgres.WrapRowError(err, "tenant: failed to load policy")
		if sserr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	p.SchemaVersion = models.TenantPolicySchemaVersion
	if len(p.AllowedAlgorithms) == 0 {
		p.AllowedAlgorithms = nil
	}
	return &p, nil
}

func (r *PostgresRepository) UpsertTenantPolicy(ctx context.Context, p *models.TenantPolicy) error {
	algs := p.AllowedAlgorithms
	if algs == nil {
		algs = []string{}
	}
	_, err := r.db.Exec(ctx, upsertPolicySQL,
		p.TenantID, p.Name, p.Issuer, p.Audience, p.KeySetURI, p.StaticPublicKey,
		p.Algorithm, algs, p.RequireKeyID, p.MaxTokenAgeMinutes, p.IsActive,
		p.RateLimit.PerMinute, p.RateLimit.PerHour, p.RateLimit.PerDay,
		p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) ListActiveTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, listActiveSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: failed to scan tenant id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalDatabase, "tenant: failed to list tenants")
	}
	return ids, nil
}

func (r *PostgresRepository) TouchLastAccess(ctx context.Context, tenantID string, at time.Time) error {
	_, err := r.db.Exec(ctx, touchLastAccessSQL, tenantID, at.UTC())
	return err
}

// Health pings the database.
func (r *PostgresRepository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

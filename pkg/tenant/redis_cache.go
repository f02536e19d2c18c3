package tenant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/StricklySoft/tenantauth/pkg/clients/redis"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// RedisClient is the subset of [redis.Client] used by the redis-backed
// cache and access statistics.
type RedisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	MGet(ctx context.Context, keys ...string) ([]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
	Health(ctx context.Context) error
}

var _ RedisClient = (*redis.Client)(nil)

// RedisCache is a [Cache] shared by every replica. Policies are stored as
// JSON under "<prefix>policy:<tenant_id>" with the TTL set on the key.
type RedisCache struct {
	client RedisClient
	prefix string
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache returns a cache writing keys under prefix.
func NewRedisCache(client RedisClient, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(tenantID string) string {
	return c.prefix + "policy:" + tenantID
}

func (c *RedisCache) Get(ctx context.Context, tenantID string) (*models.TenantPolicy, bool, error) {
	raw, err := c.client.Get(ctx, c.key(tenantID))
	if sserr.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var policy models.TenantPolicy
	if err := json.Unmarshal([]byte(raw), &policy); err != nil {
		return nil, false, sserr.Wrap(err, sserr.CodeInternal,
			"tenant: cached policy is not valid JSON")
	}
	// Entries written by another schema version are treated as misses and
	// overwritten by the next load.
	if policy.SchemaVersion != models.TenantPolicySchemaVersion || policy.TenantID != tenantID {
		return nil, false, nil
	}
	return &policy, true, nil
}

func (c *RedisCache) Set(ctx context.Context, policy *models.TenantPolicy, ttl time.Duration) error {
	cp := policy.Clone()
	cp.SchemaVersion = models.TenantPolicySchemaVersion
	data, err := json.Marshal(cp)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "tenant: failed to encode policy")
	}
	return c.client.Set(ctx, c.key(policy.TenantID), data, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, tenantID string) error {
	_, err := c.client.Del(ctx, c.key(tenantID))
	return err
}

// Health pings the backing server.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Health(ctx)
}

package tenant

import (
	"fmt"
	"time"
)

const (
	DefaultCacheTTL        = 30 * time.Minute
	DefaultAccessQueueSize = 1024
	DefaultStatsRetention  = 30 * 24 * time.Hour
	DefaultRedisKeyPrefix  = "tenantauth:"
)

// Cache backends selectable through [Config.CacheBackend].
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Config controls the store's caching and access recording.
type Config struct {
	// CacheTTL is how long a loaded policy is served without reloading.
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl" env:"CACHE_TTL" envDefault:"30m"`

	// CacheBackend is "memory" or "redis".
	CacheBackend string `json:"cache_backend" yaml:"cache_backend" env:"CACHE_BACKEND" envDefault:"memory"`

	// RedisKeyPrefix namespaces every key the redis-backed cache and
	// statistics write.
	RedisKeyPrefix string `json:"redis_key_prefix" yaml:"redis_key_prefix" env:"REDIS_KEY_PREFIX" envDefault:"tenantauth:"`

	// AccessQueueSize bounds pending access records. Records beyond it are
	// dropped.
	AccessQueueSize int `json:"access_queue_size" yaml:"access_queue_size" env:"ACCESS_QUEUE_SIZE" envDefault:"1024"`

	// StatsRetention is how long daily and hourly access counters are kept.
	StatsRetention time.Duration `json:"stats_retention" yaml:"stats_retention" env:"STATS_RETENTION" envDefault:"720h"`
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	c.applyDefaults()
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendRedis:
	default:
		return fmt.Errorf("tenant: cache_backend must be %q or %q, got %q",
			CacheBackendMemory, CacheBackendRedis, c.CacheBackend)
	}
	if c.StatsRetention < time.Hour {
		return fmt.Errorf("tenant: stats_retention must be at least 1h, got %v", c.StatsRetention)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheBackend == "" {
		c.CacheBackend = CacheBackendMemory
	}
	if c.RedisKeyPrefix == "" {
		c.RedisKeyPrefix = DefaultRedisKeyPrefix
	}
	if c.AccessQueueSize <= 0 {
		c.AccessQueueSize = DefaultAccessQueueSize
	}
	if c.StatsRetention == 0 {
		c.StatsRetention = DefaultStatsRetention
	}
}

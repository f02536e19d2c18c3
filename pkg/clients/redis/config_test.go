package redis

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// Secret Tests
// ===========================================================================

func TestSecret_Redaction(t *testing.T) {
	t.Parallel()
	s := Secret("super-secret-password")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", s.GoString())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "super-secret-password", s.Value())

	data, err := s.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "[REDACTED]", string(data))
}

// ===========================================================================
// Validate Tests
// ===========================================================================

func TestConfig_Validate_AppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultPoolSize, cfg.PoolSize)
	assert.Equal(t, DefaultMinIdleConns, cfg.MinIdleConns)
	assert.Equal(t, DefaultDialTimeout, cfg.DialTimeout)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "uri", cfg: Config{URI: "redis://localhost:6379/0"}},
		{name: "tls uri", cfg: Config{URI: "rediss://cache.internal:6380"}},
		{name: "bad scheme", cfg: Config{URI: "http://localhost"}, wantErr: "scheme"},
		{name: "port range", cfg: Config{Host: "h", Port: 70000}, wantErr: "port"},
		{name: "negative db", cfg: Config{Host: "h", DB: -1}, wantErr: "db"},
		{name: "pool smaller than idle", cfg: Config{Host: "h", PoolSize: 2, MinIdleConns: 5}, wantErr: "pool_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := tt.cfg
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Enabled(t *testing.T) {
	t.Parallel()
	assert.False(t, (&Config{}).Enabled())
	assert.True(t, (&Config{Host: "localhost"}).Enabled())
	assert.True(t, (&Config{URI: "redis://x"}).Enabled())
}

func TestTruncateStatement(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("x", maxStatementTruncateLen+10)
	got := truncateStatement(long)

	assert.Len(t, []rune(got), maxStatementTruncateLen+3)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Equal(t, "GET k", truncateStatement("GET k"))
}

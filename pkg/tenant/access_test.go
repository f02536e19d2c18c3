package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ===========================================================================
// MemoryAccessStats
// ===========================================================================

func TestMemoryAccessStats_Record(t *testing.T) {
	t.Parallel()
	s := NewMemoryAccessStats(0)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, "acme", base))
	require.NoError(t, s.Record(ctx, "acme", base.Add(45*time.Minute)))
	require.NoError(t, s.Record(ctx, "acme", base.Add(-time.Minute)))

	sum, err := s.Summary(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, int64(3), sum.Total)
	assert.Equal(t, base.Add(-time.Minute), sum.FirstAccess)
	assert.Equal(t, base.Add(45*time.Minute), sum.LastAccess)
	assert.Equal(t, map[string]int64{"2026-03-14": 3}, sum.Daily)
	assert.Equal(t, map[string]int64{"2026-03-14T09": 2, "2026-03-14T10": 1}, sum.Hourly)
}

func TestMemoryAccessStats_UnknownTenant(t *testing.T) {
	t.Parallel()
	sum, err := NewMemoryAccessStats(0).Summary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestMemoryAccessStats_PrunesOutsideRetention(t *testing.T) {
	t.Parallel()
	s := NewMemoryAccessStats(48 * time.Hour)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Record(ctx, "acme", base))
	require.NoError(t, s.Record(ctx, "acme", base.AddDate(0, 0, 5)))

	sum, err := s.Summary(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sum.Total, "totals are never pruned")
	assert.Equal(t, map[string]int64{"2026-03-06": 1}, sum.Daily)
	assert.Len(t, sum.Hourly, 1)
}

func TestMemoryAccessStats_SummaryIsACopy(t *testing.T) {
	t.Parallel()
	s := NewMemoryAccessStats(0)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, "acme", time.Now()))

	sum, _ := s.Summary(ctx, "acme")
	for k := range sum.Daily {
		sum.Daily[k] = 1000
	}
	again, _ := s.Summary(ctx, "acme")
	for _, v := range again.Daily {
		assert.Equal(t, int64(1), v)
	}
}

// ===========================================================================
// RedisAccessStats
// ===========================================================================

func TestRedisAccessStats_RecordAndSummary(t *testing.T) {
	t.Parallel()
	rdb := newFakeRedis()
	s := NewRedisAccessStats(rdb, "t:", 72*time.Hour)
	base := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "acme", base.AddDate(0, 0, -1)))
	require.NoError(t, s.Record(ctx, "acme", base))
	require.NoError(t, s.Record(ctx, "acme", base.Add(time.Hour)))

	first, _ := rdb.value("t:access:acme:first")
	assert.Equal(t, "1773394200000", first, "first is written by the first record only")
	assert.Equal(t, 72*time.Hour, rdb.ttl("t:access:acme:day:2026-03-14"))
	assert.Equal(t, 72*time.Hour, rdb.ttl("t:access:acme:hour:2026-03-14T10"))
	assert.Zero(t, rdb.ttl("t:access:acme:total"), "total never expires")

	sum, err := s.Summary(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "acme", sum.TenantID)
	assert.Equal(t, int64(3), sum.Total)
	assert.Equal(t, base.AddDate(0, 0, -1), sum.FirstAccess)
	assert.Equal(t, base.Add(time.Hour), sum.LastAccess)
	assert.Equal(t, map[string]int64{"2026-03-14": 2, "2026-03-13": 1}, sum.Daily)
	assert.Equal(t, map[string]int64{"2026-03-14T09": 1, "2026-03-14T10": 1}, sum.Hourly)
}

func TestRedisAccessStats_UnknownTenant(t *testing.T) {
	t.Parallel()
	sum, err := NewRedisAccessStats(newFakeRedis(), "", 0).Summary(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestRedisAccessStats_PropagatesErrors(t *testing.T) {
	t.Parallel()
	rdb := newFakeRedis()
	rdb.failWith(errors.New("redis down"))
	s := NewRedisAccessStats(rdb, "", 0)

	assert.Error(t, s.Record(context.Background(), "acme", time.Now()))
	_, err := s.Summary(context.Background(), "acme")
	assert.Error(t, err)
}

package tenant

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

const (
	dayLayout  = "2006-01-02"
	hourLayout = "2006-01-02T15"
)

// AccessSummary is a tenant's request counters. Daily keys are
// "YYYY-MM-DD", hourly keys are "YYYY-MM-DDTHH", both UTC.
type AccessSummary struct {
	TenantID    string           `json:"tenant_id"`
	FirstAccess time.Time        `json:"first_access"`
	LastAccess  time.Time        `json:"last_access"`
	Total       int64            `json:"total_requests"`
	Daily       map[string]int64 `json:"daily_requests"`
	Hourly      map[string]int64 `json:"hourly_requests"`
}

// AccessStats counts successful verifications per tenant.
type AccessStats interface {
	Record(ctx context.Context, tenantID string, at time.Time) error
	// Summary returns nil when the tenant has no recorded access.
	Summary(ctx context.Context, tenantID string) (*AccessSummary, error)
}

// ===========================================================================
// In-memory statistics
// ===========================================================================

// MemoryAccessStats keeps counters in process. Daily and hourly buckets
// older than the retention window are pruned on write.
type MemoryAccessStats struct {
	retention time.Duration

	mu      sync.Mutex
	tenants map[string]*AccessSummary
}

var _ AccessStats = (*MemoryAccessStats)(nil)

// NewMemoryAccessStats returns empty statistics keeping buckets for
// retention. Zero means [DefaultStatsRetention].
func NewMemoryAccessStats(retention time.Duration) *MemoryAccessStats {
	if retention <= 0 {
		retention = DefaultStatsRetention
	}
	return &MemoryAccessStats{retention: retention, tenants: make(map[string]*AccessSummary)}
}

func (s *MemoryAccessStats) Record(_ context.Context, tenantID string, at time.Time) error {
	at = at.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.tenants[tenantID]
	if !ok {
		sum = &AccessSummary{
			TenantID:    tenantID,
			FirstAccess: at,
			Daily:       make(map[string]int64),
			Hourly:      make(map[string]int64),
		}
		s.tenants[tenantID] = sum
	}
	if at.After(sum.LastAccess) {
		sum.LastAccess = at
	}
	if at.Before(sum.FirstAccess) {
		sum.FirstAccess = at
	}
	sum.Total++
	sum.Daily[at.Format(dayLayout)]++
	sum.Hourly[at.Format(hourLayout)]++

	cutoff := at.Add(-s.retention)
	for k := range sum.Daily {
		if d, err := time.Parse(dayLayout, k); err == nil && d.Before(cutoff.Truncate(24*time.Hour)) {
			delete(sum.Daily, k)
		}
	}
	for k := range sum.Hourly {
		if h, err := time.Parse(hourLayout, k); err == nil && h.Before(cutoff.Truncate(time.Hour)) {
			delete(sum.Hourly, k)
		}
	}
	return nil
}

func (s *MemoryAccessStats) Summary(_ context.Context, tenantID string) (*AccessSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	cp := *sum
	cp.Daily = make(map[string]int64, len(sum.Daily))
	for k, v := range sum.Daily {
		cp.Daily[k] = v
	}
	cp.Hourly = make(map[string]int64, len(sum.Hourly))
	for k, v := range sum.Hourly {
		cp.Hourly[k] = v
	}
	return &cp, nil
}

// ===========================================================================
// Redis statistics
// ===========================================================================

// RedisAccessStats keeps counters in Redis so every replica contributes to
// the same totals. Bucket keys expire after the retention window.
type RedisAccessStats struct {
	client    RedisClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

var _ AccessStats = (*RedisAccessStats)(nil)

// NewRedisAccessStats returns statistics stored under prefix.
func NewRedisAccessStats(client RedisClient, prefix string, retention time.Duration) *RedisAccessStats {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if retention <= 0 {
		retention = DefaultStatsRetention
	}
	return &RedisAccessStats{client: client, prefix: prefix, retention: retention, now: time.Now}
}

func (s *RedisAccessStats) key(tenantID, suffix string) string {
	return s.prefix + "access:" + tenantID + ":" + suffix
}

func (s *RedisAccessStats) Record(ctx context.Context, tenantID string, at time.Time) error {
	at = at.UTC()
	total, err := s.client.Incr(ctx, s.key(tenantID, "total"))
	if err != nil {
		return err
	}
	stamp := strconv.FormatInt(at.UnixMilli(), 10)
	if total == 1 {
		if err := s.client.Set(ctx, s.key(tenantID, "first"), stamp, 0); err != nil {
			return err
		}
	}
	if err := s.client.Set(ctx, s.key(tenantID, "last"), stamp, 0); err != nil {
		return err
	}

	for _, bucket := range []string{"day:" + at.Format(dayLayout), "hour:" + at.Format(hourLayout)} {
		k := s.key(tenantID, bucket)
		n, err := s.client.Incr(ctx, k)
		if err != nil {
			return err
		}
		if n == 1 {
			if _, err := s.client.Expire(ctx, k, s.retention); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *RedisAccessStats) Summary(ctx context.Context, tenantID string) (*AccessSummary, error) {
	now := s.now().UTC()
	days := int(s.retention / (24 * time.Hour))
	hours := 24

	keys := []string{s.key(tenantID, "total"), s.key(tenantID, "first"), s.key(tenantID, "last")}
	dayNames := make([]string, 0, days)
	for i := 0; i < days; i++ {
		d := now.AddDate(0, 0, -i).Format(dayLayout)
		dayNames = append(dayNames, d)
		keys = append(keys, s.key(tenantID, "day:"+d))
	}
	hourNames := make([]string, 0, hours)
	for i := 0; i < hours; i++ {
		h := now.Add(-time.Duration(i) * time.Hour).Format(hourLayout)
		hourNames = append(hourNames, h)
		keys = append(keys, s.key(tenantID, "hour:"+h))
	}

	vals, err := s.client.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	if len(vals) != len(keys) || vals[0] == "" {
		return nil, nil
	}

	sum := &AccessSummary{
		TenantID:    tenantID,
		Total:       parseCount(vals[0]),
		FirstAccess: parseMillis(vals[1]),
		LastAccess:  parseMillis(vals[2]),
		Daily:       make(map[string]int64),
		Hourly:      make(map[string]int64),
	}
	for i, d := range dayNames {
		if n := parseCount(vals[3+i]); n > 0 {
			sum.Daily[d] = n
		}
	}
	for i, h := range hourNames {
		if n := parseCount(vals[3+days+i]); n > 0 {
			sum.Hourly[h] = n
		}
	}
	return sum, nil
}

func parseCount(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// ===========================================================================
// Asynchronous recorder
// ===========================================================================

type accessEvent struct {
	tenantID string
	at       time.Time
}

// accessRecorder drains access events on one background goroutine. Events
// that do not fit in the queue are dropped, and worker errors are logged
// and discarded, so recording can never slow down or fail a verification.
type accessRecorder struct {
	repo   Repository
	stats  AccessStats
	logger *slog.Logger

	mu      sync.RWMutex
	queue   chan accessEvent
	started bool
	closed  bool
	done    chan struct{}

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

func newAccessRecorder(repo Repository, stats AccessStats, size int, logger *slog.Logger) *accessRecorder {
	return &accessRecorder{
		repo:   repo,
		stats:  stats,
		logger: logger,
		queue:  make(chan accessEvent, size),
		done:   make(chan struct{}),
	}
}

func (r *accessRecorder) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true
	go r.run()
}

// enqueue never blocks.
func (r *accessRecorder) enqueue(tenantID string, at time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}
	select {
	case r.queue <- accessEvent{tenantID: tenantID, at: at}:
	default:
		r.dropped.Add(1)
	}
}

// stop closes the queue and waits for the worker to drain it or for ctx to
// end, whichever comes first.
func (r *accessRecorder) stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *accessRecorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.process(ev)
	}
}

func (r *accessRecorder) process(ev accessEvent) {
	// Detached from any request: the request may have finished already.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var failed bool
	if err := r.repo.TouchLastAccess(ctx, ev.tenantID, ev.at); err != nil {
		failed = true
		r.logger.Warn("tenant: failed to record last access",
			"tenant_id", ev.tenantID,
			"error", err,
		)
	}
	if r.stats != nil {
		if err := r.stats.Record(ctx, ev.tenantID, ev.at); err != nil {
			failed = true
			r.logger.Warn("tenant: failed to update access statistics",
				"tenant_id", ev.tenantID,
				"error", err,
			)
		}
	}
	if failed {
		r.failed.Add(1)
		return
	}
	r.recorded.Add(1)
}

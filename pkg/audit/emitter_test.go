package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink keeps every batch it receives.
type recordingSink struct {
	mu      sync.Mutex
	batches [][]*models.SecurityEvent
	err     error
}

func (s *recordingSink) Write(_ context.Context, events []*models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, append([]*models.SecurityEvent(nil), events...))
	return nil
}

func (s *recordingSink) events() []*models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SecurityEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func testEvent(tenantID string) *models.SecurityEvent {
	ev := models.NewSecurityEvent(models.EventAuthenticationFailed, models.RiskMedium)
	ev.TenantID = tenantID
	ev.Reason = "INVALID_ISSUER"
	return ev
}

// ===========================================================================
// Emitter
// ===========================================================================

func TestEmitter_StopFlushesBufferedEvents(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{FlushInterval: time.Hour})
	require.NoError(t, e.Start(context.Background()))

	for i := 0; i < 3; i++ {
		e.Emit(testEvent("acme"))
	}
	require.NoError(t, e.Stop(context.Background()))

	assert.Len(t, sink.events(), 3)
	assert.Equal(t, Stats{Emitted: 3, Written: 3}, e.Stats())
}

func TestEmitter_FlushesFullBatches(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{BatchSize: 2, FlushInterval: time.Hour})
	require.NoError(t, e.Start(context.Background()))

	for i := 0; i < 4; i++ {
		e.Emit(testEvent("acme"))
	}
	assert.Eventually(t, func() bool { return sink.batchCount() == 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 2, sink.batchCount())
}

func TestEmitter_FlushesOnInterval(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{FlushInterval: 10 * time.Millisecond})
	require.NoError(t, e.Start(context.Background()))
	defer func() { require.NoError(t, e.Stop(context.Background())) }()

	e.Emit(testEvent("acme"))
	assert.Eventually(t, func() bool { return len(sink.events()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestEmitter_DropsWhenFull(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{}
	e := NewEmitter(sink, Config{BufferSize: 2})

	for i := 0; i < 5; i++ {
		e.Emit(testEvent("acme"))
	}
	require.NoError(t, e.Stop(context.Background()))

	stats := e.Stats()
	assert.Equal(t, int64(2), stats.Emitted)
	assert.Equal(t, int64(3), stats.Dropped)
	assert.Equal(t, int64(2), stats.Written, "stop without start flushes inline")
}

func TestEmitter_DropsInvalidAndLateEvents(t *testing.T) {
	t.Parallel()
	e := NewEmitter(&recordingSink{}, Config{})

	e.Emit(&models.SecurityEvent{Type: models.EventAuthenticationFailed})
	e.Emit(nil)
	require.NoError(t, e.Stop(context.Background()))
	e.Emit(testEvent("acme"))

	assert.Equal(t, int64(2), e.Stats().Dropped)
}

func TestEmitter_SinkFailureIsCounted(t *testing.T) {
	t.Parallel()
	sink := &recordingSink{err: errors.New("bucket gone")}
	e := NewEmitter(sink, Config{})
	require.NoError(t, e.Start(context.Background()))

	e.Emit(testEvent("acme"))
	e.Emit(testEvent("globex"))
	require.NoError(t, e.Stop(context.Background()))

	assert.Equal(t, int64(2), e.Stats().Failed)
	assert.Equal(t, int64(0), e.Stats().Written)
}

func TestEmitter_NilIsNoop(t *testing.T) {
	t.Parallel()
	var e *Emitter
	assert.NotPanics(t, func() { e.Emit(testEvent("acme")) })
	assert.Equal(t, Stats{}, e.Stats())
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "zero", cfg: Config{}},
		{name: "negative buffer", cfg: Config{BufferSize: -1}, wantErr: true},
		{name: "negative batch", cfg: Config{BatchSize: -1}, wantErr: true},
		{name: "negative interval", cfg: Config{FlushInterval: -time.Second}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

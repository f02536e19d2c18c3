package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder logs hook calls in order.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) hook(name string, err error) Hook {
	return func(context.Context) error {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.mu.Unlock()
		return err
	}
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func component(r *recorder, name string, startErr, stopErr error) Component {
	return Component{
		Name:  name,
		Start: r.hook("start "+name, startErr),
		Stop:  r.hook("stop "+name, stopErr),
	}
}

func mustBuild(t *testing.T, b *Builder) *Manager {
	t.Helper()
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

// ===========================================================================
// Builder
// ===========================================================================

func TestBuilder_Validation(t *testing.T) {
	_, err := NewBuilder("").Build()
	assert.True(t, sserr.IsValidation(err))

	_, err = NewBuilder("svc").WithComponent(Component{}).Build()
	assert.True(t, sserr.IsValidation(err))

	_, err = NewBuilder("svc").
		WithComponent(Component{Name: "a"}).
		WithComponent(Component{Name: "a"}).
		Build()
	assert.True(t, sserr.IsValidation(err))
}

func TestManager_InitialState(t *testing.T) {
	m := mustBuild(t, NewBuilder("svc").WithComponent(Component{Name: "a"}))

	assert.Equal(t, "svc", m.Name())
	assert.Equal(t, StateUnknown, m.State())
	info := m.Info()
	assert.Equal(t, []string{"a"}, info.Components)
	assert.Nil(t, info.StartedAt)
	assert.Error(t, m.Health(context.Background()))
}

// ===========================================================================
// Start / Stop
// ===========================================================================

func TestManager_StartStopOrder(t *testing.T) {
	r := &recorder{}
	m := mustBuild(t, NewBuilder("svc").
		WithComponent(component(r, "store", nil, nil)).
		WithComponent(component(r, "cache", nil, nil)).
		WithComponent(component(r, "events", nil, nil)))

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateRunning, m.State())
	assert.NoError(t, m.Health(context.Background()))
	assert.NotNil(t, m.Info().StartedAt)

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateStopped, m.State())
	assert.Nil(t, m.Info().StartedAt)

	assert.Equal(t, []string{
		"start store", "start cache", "start events",
		"stop events", "stop cache", "stop store",
	}, r.all())
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	r := &recorder{}
	boom := errors.New("boom")
	m := mustBuild(t, NewBuilder("svc").
		WithComponent(component(r, "store", nil, nil)).
		WithComponent(component(r, "cache", nil, nil)).
		WithComponent(component(r, "events", boom, nil)))

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []string{
		"start store", "start cache", "start events",
		"stop cache", "stop store",
	}, r.all())

	// Stop after a failed start has nothing left to stop.
	require.NoError(t, m.Stop(context.Background()))
	assert.Len(t, r.all(), 5)
}

func TestManager_StopRunsEveryHookAndCombinesErrors(t *testing.T) {
	r := &recorder{}
	errA, errC := errors.New("a failed"), errors.New("c failed")
	m := mustBuild(t, NewBuilder("svc").
		WithComponent(component(r, "a", nil, errA)).
		WithComponent(component(r, "b", nil, nil)).
		WithComponent(component(r, "c", nil, errC)))
	require.NoError(t, m.Start(context.Background()))

	err := m.Stop(context.Background())
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, r.all())
}

func TestManager_NilHooks(t *testing.T) {
	m := mustBuild(t, NewBuilder("svc").WithComponent(Component{Name: "passive"}))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_StartTwiceConflicts(t *testing.T) {
	m := mustBuild(t, NewBuilder("svc"))
	require.NoError(t, m.Start(context.Background()))

	err := m.Start(context.Background())
	assert.Equal(t, sserr.CodeConflict, sserr.GetCode(err))
}

func TestManager_Restart(t *testing.T) {
	r := &recorder{}
	m := mustBuild(t, NewBuilder("svc").WithComponent(component(r, "a", nil, nil)))

	for i := 0; i < 2; i++ {
		require.NoError(t, m.Start(context.Background()))
		require.NoError(t, m.Stop(context.Background()))
	}
	assert.Equal(t, []string{"start a", "stop a", "start a", "stop a"}, r.all())
}

func TestManager_StopBeforeStartIsNoop(t *testing.T) {
	r := &recorder{}
	m := mustBuild(t, NewBuilder("svc").WithComponent(component(r, "a", nil, nil)))

	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, StateUnknown, m.State())
	assert.Empty(t, r.all())
}

func TestManager_StartCanceledContext(t *testing.T) {
	m := mustBuild(t, NewBuilder("svc"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Start(ctx)
	assert.True(t, sserr.IsTimeout(err))
	assert.Equal(t, StateUnknown, m.State())
}

// ===========================================================================
// Observers
// ===========================================================================

func TestManager_StateChangeHandlers(t *testing.T) {
	var transitions []string
	m := mustBuild(t, NewBuilder("svc").
		OnStateChange(func(old, new State) {
			transitions = append(transitions, string(old)+"->"+string(new))
		}).
		OnStateChange(func(State, State) { panic("handler bug") }))

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	assert.Equal(t, []string{
		"unknown->starting", "starting->running",
		"running->stopping", "stopping->stopped",
	}, transitions)
}

func TestManager_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	m := mustBuild(t, NewBuilder("svc").WithTracerProvider(tp))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "lifecycle.Start", spans[0].Name)
	assert.Equal(t, "lifecycle.Stop", spans[1].Name)
}

func TestManager_ConcurrentStateReads(t *testing.T) {
	r := &recorder{}
	m := mustBuild(t, NewBuilder("svc").WithComponent(component(r, "a", nil, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = m.State()
				_ = m.Info()
			}
		}()
	}
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	wg.Wait()
}

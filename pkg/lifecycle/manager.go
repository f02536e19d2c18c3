package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

const tracerName = "github.com/StricklySoft/tenantauth/pkg/lifecycle"

// Hook is a start or stop function. It receives the caller's context,
// which may carry a deadline.
type Hook func(ctx context.Context) error

// StateChangeHandler is called on every state transition, synchronously
// and under the manager's state mutex. It must not call lifecycle methods
// on the same manager. A panicking handler is recovered and logged.
type StateChangeHandler func(old, new State)

// Component is one managed part of the process. Either hook may be nil.
type Component struct {
	Name  string
	Start Hook
	Stop  Hook
}

// Info is a point-in-time snapshot of a manager, safe to serialize.
type Info struct {
	Name       string        `json:"name"`
	State      State         `json:"state"`
	Components []string      `json:"components"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	Uptime     time.Duration `json:"uptime,omitempty"`
}

// Manager runs component hooks in order and tracks the combined state.
type Manager struct {
	name       string
	components []Component
	handlers   []StateChangeHandler
	tracer     trace.Tracer
	logger     *slog.Logger

	// run serializes Start and Stop.
	run sync.Mutex

	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	// started is how many leading components have started successfully.
	started int
}

// Name returns the manager's name.
func (m *Manager) Name() string {
	return m.name
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Info returns a snapshot of the manager.
func (m *Manager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.components))
	for i, c := range m.components {
		names[i] = c.Name
	}
	info := Info{Name: m.name, State: m.state, Components: names}
	if m.startedAt != nil && m.state == StateRunning {
		t := *m.startedAt
		info.StartedAt = &t
		info.Uptime = time.Since(t)
	}
	return info
}

// Health returns nil while the manager is running, and a
// [sserr.CodeUnavailable] error otherwise.
func (m *Manager) Health(context.Context) error {
	if state := m.State(); state != StateRunning {
		return sserr.Newf(sserr.CodeUnavailable,
			"lifecycle: %s is not running, current state is %q", m.name, state)
	}
	return nil
}

// setState validates and applies a transition, then notifies handlers.
func (m *Manager) setState(new State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.state
	if !ValidTransition(old, new) {
		return sserr.Newf(sserr.CodeConflict,
			"lifecycle: invalid state transition from %q to %q", old, new)
	}
	m.state = new

	for _, h := range m.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("lifecycle: state change handler panicked",
						"panic", r,
						"manager", m.name,
						"old_state", string(old),
						"new_state", string(new),
					)
				}
			}()
			h(old, new)
		}()
	}
	return nil
}

// Start runs every start hook in registration order. If a hook fails, the
// components that already started are stopped in reverse order, the
// manager moves to [StateFailed], and the start error is returned with any
// rollback errors appended.
//
// Start may only be called from [StateUnknown], [StateStopped] or
// [StateFailed]; otherwise it returns a [sserr.CodeConflict] error.
func (m *Manager) Start(ctx context.Context) error {
	m.run.Lock()
	defer m.run.Unlock()

	ctx, span := m.tracer.Start(ctx, "lifecycle.Start",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("lifecycle.manager", m.name)),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sserr.Wrap(err, sserr.CodeTimeout, "lifecycle: start canceled before execution")
	}
	if err := m.setState(StateStarting); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.logger.InfoContext(ctx, "lifecycle: starting", "manager", m.name, "components", len(m.components))

	m.mu.Lock()
	m.started = 0
	m.mu.Unlock()

	for i, c := range m.components {
		if c.Start != nil {
			if err := c.Start(ctx); err != nil {
				m.logger.ErrorContext(ctx, "lifecycle: component failed to start",
					"manager", m.name,
					"component", c.Name,
					"error", err,
				)
				err = sserr.Wrapf(err, sserr.CodeInternal, "lifecycle: start %s", c.Name)
				err = multierr.Append(err, m.stopStarted(ctx))
				_ = m.setState(StateFailed)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}
		}
		m.mu.Lock()
		m.started = i + 1
		m.mu.Unlock()
	}

	if err := m.setState(StateRunning); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	now := time.Now().UTC()
	m.mu.Lock()
	m.startedAt = &now
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "lifecycle: started", "manager", m.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Stop runs the stop hooks of the started components in reverse order.
// Every hook runs even if an earlier one fails; the failures are combined
// and the manager moves to [StateFailed].
//
// Stop from a terminal state, or before any Start, is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.run.Lock()
	defer m.run.Unlock()

	ctx, span := m.tracer.Start(ctx, "lifecycle.Stop",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("lifecycle.manager", m.name)),
	)
	defer span.End()

	if state := m.State(); state.IsTerminal() || state == StateUnknown {
		span.SetStatus(codes.Ok, "")
		return nil
	}
	if err := m.setState(StateStopping); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.logger.InfoContext(ctx, "lifecycle: stopping", "manager", m.name)

	if err := m.stopStarted(ctx); err != nil {
		_ = m.setState(StateFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := m.setState(StateStopped); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.mu.Lock()
	m.startedAt = nil
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "lifecycle: stopped", "manager", m.name)
	span.SetStatus(codes.Ok, "")
	return nil
}

// stopStarted stops the started components last to first and resets the
// started count.
func (m *Manager) stopStarted(ctx context.Context) error {
	m.mu.Lock()
	n := m.started
	m.started = 0
	m.mu.Unlock()

	var errs error
	for i := n - 1; i >= 0; i-- {
		c := m.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			m.logger.ErrorContext(ctx, "lifecycle: component failed to stop",
				"manager", m.name,
				"component", c.Name,
				"error", err,
			)
			errs = multierr.Append(errs, sserr.Wrapf(err, sserr.CodeInternal, "lifecycle: stop %s", c.Name))
		}
	}
	return errs
}

// =========================================================================
// Builder
// =========================================================================

// Builder constructs a [Manager]. Components start in the order they are
// added.
//
// Example:
//
//	mgr, err := lifecycle.NewBuilder("tenantauth").
//	    WithComponent(lifecycle.Component{Name: "tenant-store", Start: store.Start, Stop: store.Stop}).
//	    WithComponent(lifecycle.Component{Name: "verification-cache", Start: cache.Start, Stop: cache.Stop}).
//	    Build()
type Builder struct {
	name       string
	components []Component
	logger     *slog.Logger
	tracer     trace.TracerProvider
	handlers   []StateChangeHandler
}

// NewBuilder returns a builder for a manager called name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// WithComponent appends a component.
func (b *Builder) WithComponent(c Component) *Builder {
	b.components = append(b.components, c)
	return b
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// OnStateChange registers a handler called on every transition, in
// registration order.
func (b *Builder) OnStateChange(handler StateChangeHandler) *Builder {
	b.handlers = append(b.handlers, handler)
	return b
}

// Build validates the configuration and returns a manager in
// [StateUnknown].
func (b *Builder) Build() (*Manager, error) {
	if b.name == "" {
		return nil, sserr.New(sserr.CodeValidation, "lifecycle: manager name must not be empty")
	}
	seen := make(map[string]bool, len(b.components))
	for _, c := range b.components {
		if c.Name == "" {
			return nil, sserr.New(sserr.CodeValidation, "lifecycle: component name must not be empty")
		}
		if seen[c.Name] {
			return nil, sserr.Newf(sserr.CodeValidation, "lifecycle: duplicate component %q", c.Name)
		}
		seen[c.Name] = true
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	return &Manager{
		name:       b.name,
		components: append([]Component(nil), b.components...),
		handlers:   append([]StateChangeHandler(nil), b.handlers...),
		tracer:     tp.Tracer(tracerName),
		logger:     logger,
		state:      StateUnknown,
	}, nil
}

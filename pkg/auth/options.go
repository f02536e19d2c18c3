package auth

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

const tracerName = "github.com/StricklySoft/tenantauth/pkg/auth"

// EventEmitter receives security events. *audit.Emitter implements it.
// Emit must not block.
type EventEmitter interface {
	Emit(ev *models.SecurityEvent)
}

type options struct {
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	now            func() time.Time
	metrics        *Metrics
	events         EventEmitter
}

// Option configures the verifiers, the issuer, the cache and the
// [Authenticator]. Options that do not apply to a component are ignored.
type Option func(*options)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics records verification metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEventEmitter reports rejections and issuances as security events.
func WithEventEmitter(e EventEmitter) Option {
	return func(o *options) { o.events = e }
}

func newOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return o
}

func (o *options) tracer() trace.Tracer {
	return o.tracerProvider.Tracer(tracerName)
}

func (o *options) emit(ev *models.SecurityEvent) {
	if o.events != nil && ev != nil {
		o.events.Emit(ev)
	}
}

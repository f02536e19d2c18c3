// Package audit delivers security events to durable sinks.
//
// Producers call [Emitter.Emit], which never blocks: events are buffered
// and written in batches by one background goroutine, either when a batch
// fills up or every [Config.FlushInterval]. [Emitter.Stop] flushes what is
// left. A full buffer drops events and counts them.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

// Stats counts emitter activity.
type Stats struct {
	Emitted int64 `json:"emitted"`
	Dropped int64 `json:"dropped"`
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
}

// Emitter buffers security events for a [Sink]. A nil *Emitter accepts and
// discards events, so callers can leave auditing unconfigured.
type Emitter struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	mu      sync.RWMutex
	queue   chan *models.SecurityEvent
	started bool
	closed  bool
	done    chan struct{}

	emitted atomic.Int64
	dropped atomic.Int64
	written atomic.Int64
	failed  atomic.Int64
}

// Option configures an [Emitter].
type Option func(*Emitter)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Emitter) { e.logger = l }
}

// NewEmitter returns an emitter writing to sink. Call [Emitter.Start]
// before events are expected to be delivered.
func NewEmitter(sink Sink, cfg Config, opts ...Option) *Emitter {
	cfg.applyDefaults()
	e := &Emitter{
		cfg:    cfg,
		sink:   sink,
		logger: slog.Default(),
		queue:  make(chan *models.SecurityEvent, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit queues ev. Invalid events are dropped.
func (e *Emitter) Emit(ev *models.SecurityEvent) {
	if e == nil || ev == nil {
		return
	}
	if err := ev.Validate(); err != nil {
		e.dropped.Add(1)
		e.logger.Warn("audit: dropping invalid security event", "error", err)
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- ev:
		e.emitted.Add(1)
	default:
		e.dropped.Add(1)
	}
}

// Start launches the flush loop. Calling it twice is a no-op.
func (e *Emitter) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return nil
	}
	e.started = true
	go e.run()
	return nil
}

// Stop stops accepting events and waits until the buffered ones have been
// written or ctx ends.
func (e *Emitter) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	started := e.started
	e.mu.Unlock()

	if !started {
		// Nothing consumed the queue; flush it inline.
		batch := make([]*models.SecurityEvent, 0, len(e.queue))
		for ev := range e.queue {
			batch = append(batch, ev)
		}
		e.flush(ctx, batch)
		return nil
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (e *Emitter) Stats() Stats {
	if e == nil {
		return Stats{}
	}
	return Stats{
		Emitted: e.emitted.Load(),
		Dropped: e.dropped.Load(),
		Written: e.written.Load(),
		Failed:  e.failed.Load(),
	}
}

func (e *Emitter) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*models.SecurityEvent, 0, e.cfg.BatchSize)
	for {
		select {
		case ev, ok := <-e.queue:
			if !ok {
				e.flush(context.Background(), batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= e.cfg.BatchSize {
				e.flush(context.Background(), batch)
				batch = make([]*models.SecurityEvent, 0, e.cfg.BatchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(context.Background(), batch)
				batch = make([]*models.SecurityEvent, 0, e.cfg.BatchSize)
			}
		}
	}
}

func (e *Emitter) flush(ctx context.Context, batch []*models.SecurityEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := e.sink.Write(ctx, batch); err != nil {
		e.failed.Add(int64(len(batch)))
		e.logger.Error("audit: failed to write security events",
			"count", len(batch),
			"error", err,
		)
		return
	}
	e.written.Add(int64(len(batch)))
}

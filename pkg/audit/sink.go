package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/multierr"

	ssminio "github.com/StricklySoft/tenantauth/pkg/clients/minio"
	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
	"github.com/StricklySoft/tenantauth/pkg/models"
)

// Sink receives batches of security events. Write is called from a single
// goroutine.
type Sink interface {
	Write(ctx context.Context, events []*models.SecurityEvent) error
}

// ===========================================================================
// LogSink
// ===========================================================================

// LogSink writes one structured log record per event. High and critical
// events are logged at warn level.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging to l, or slog.Default() when l is nil.
func NewLogSink(l *slog.Logger) *LogSink {
	if l == nil {
		l = slog.Default()
	}
	return &LogSink{logger: l}
}

func (s *LogSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	for _, ev := range events {
		level := slog.LevelInfo
		if ev.RiskLevel == models.RiskHigh || ev.RiskLevel == models.RiskCritical {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "security event",
			"event_id", ev.ID,
			"event_type", string(ev.Type),
			"risk_level", string(ev.RiskLevel),
			"tenant_id", ev.TenantID,
			"subject", ev.Subject,
			"reason", ev.Reason,
			"details", ev.Details,
			"occurred_at", ev.OccurredAt,
		)
	}
	return nil
}

// ===========================================================================
// ObjectSink
// ===========================================================================

// ObjectPutter is the subset of the MinIO client used to archive batches.
type ObjectPutter interface {
	PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error)
}

var _ ObjectPutter = (*ssminio.Client)(nil)

// ObjectSink archives each batch as one newline-delimited JSON object named
// "<prefix>YYYY/MM/DD/HHMMSS.nnnnnnnnn-<uuid>.jsonl", UTC.
type ObjectSink struct {
	store  ObjectPutter
	prefix string
	now    func() time.Time
}

// NewObjectSink returns a sink writing under prefix.
func NewObjectSink(store ObjectPutter, prefix string) *ObjectSink {
	if prefix == "" {
		prefix = DefaultObjectPrefix
	}
	return &ObjectSink{store: store, prefix: prefix, now: time.Now}
}

func (s *ObjectSink) objectName() string {
	now := s.now().UTC()
	return s.prefix + now.Format("2006/01/02/") +
		now.Format("150405.000000000") + "-" + uuid.NewString() + ".jsonl"
}

func (s *ObjectSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return sserr.Wrap(err, sserr.CodeInternal, "audit: failed to encode security event")
		}
	}
	name := s.objectName()
	if _, err := s.store.PutObject(ctx, name, bytes.NewReader(buf.Bytes()), int64(buf.Len()), "application/x-ndjson"); err != nil {
		return err
	}
	return nil
}

// ===========================================================================
// MultiSink
// ===========================================================================

// MultiSink writes every batch to each sink in order. All sinks are
// attempted; their errors are combined.
type MultiSink []Sink

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*ObjectSink)(nil)
	_ Sink = MultiSink(nil)
)

func (m MultiSink) Write(ctx context.Context, events []*models.SecurityEvent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Write(ctx, events))
	}
	return err
}

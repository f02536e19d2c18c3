package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/tenantauth/pkg/models"
)

type mockPutter struct {
	mock.Mock
	body []byte
}

func (m *mockPutter) PutObject(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (minio.UploadInfo, error) {
	m.body, _ = io.ReadAll(reader)
	args := m.Called(ctx, objectName, size, contentType)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

// ===========================================================================
// ObjectSink
// ===========================================================================

func TestObjectSink_WritesNDJSONBatch(t *testing.T) {
	t.Parallel()
	putter := &mockPutter{}
	putter.On("PutObject", mock.Anything,
		mock.MatchedBy(func(name string) bool {
			return strings.HasPrefix(name, "events/2026/03/14/093000.") && strings.HasSuffix(name, ".jsonl")
		}),
		mock.AnythingOfType("int64"),
		"application/x-ndjson",
	).Return(minio.UploadInfo{}, nil)

	sink := NewObjectSink(putter, "events/")
	sink.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }

	events := []*models.SecurityEvent{testEvent("acme"), testEvent("globex")}
	require.NoError(t, sink.Write(context.Background(), events))
	putter.AssertExpectations(t)

	var got []models.SecurityEvent
	sc := bufio.NewScanner(bytes.NewReader(putter.body))
	for sc.Scan() {
		var ev models.SecurityEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "acme", got[0].TenantID)
	assert.Equal(t, "globex", got[1].TenantID)
}

func TestObjectSink_EmptyBatchIsNoop(t *testing.T) {
	t.Parallel()
	putter := &mockPutter{}
	require.NoError(t, NewObjectSink(putter, "").Write(context.Background(), nil))
	putter.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestObjectSink_PropagatesError(t *testing.T) {
	t.Parallel()
	putter := &mockPutter{}
	putter.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("no such bucket"))

	err := NewObjectSink(putter, "").Write(context.Background(), []*models.SecurityEvent{testEvent("acme")})
	assert.Error(t, err)
}

// ===========================================================================
// LogSink / MultiSink
// ===========================================================================

func TestLogSink_LevelsByRisk(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	low := testEvent("acme")
	high := models.NewSecurityEvent(models.EventTenantDisabled, models.RiskHigh)
	require.NoError(t, sink.Write(context.Background(), []*models.SecurityEvent{low, high}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "INFO", first["level"])
	assert.Equal(t, "acme", first["tenant_id"])
	assert.Equal(t, "WARN", second["level"])
	assert.Equal(t, "tenant_disabled_access", second["event_type"])
}

func TestMultiSink_WritesAllAndCombinesErrors(t *testing.T) {
	t.Parallel()
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	after := &recordingSink{}

	err := MultiSink{ok, failing, after}.Write(context.Background(), []*models.SecurityEvent{testEvent("acme")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.events(), 1)
	assert.Len(t, after.events(), 1, "a failing sink does not stop later sinks")
}

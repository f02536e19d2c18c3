package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/tenantauth/pkg/errors"
)

// ===========================================================================
// Mock ObjectStore
// ===========================================================================

type mockObjectStore struct {
	mock.Mock
}

func (m *mockObjectStore) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func (m *mockObjectStore) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	args := m.Called(ctx, bucketName)
	return args.Bool(0), args.Error(1)
}

func (m *mockObjectStore) MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error {
	args := m.Called(ctx, bucketName, opts)
	return args.Error(0)
}

// ===========================================================================
// Tests
// ===========================================================================

func TestNewFromStore_DefaultsBucket(t *testing.T) {
	t.Parallel()
	c := NewFromStore(new(mockObjectStore), nil)
	assert.Equal(t, DefaultBucket, c.Bucket())
}

func TestClient_EnsureBucket_CreatesMissing(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "audit").Return(false, nil)
	m.On("MakeBucket", mock.Anything, "audit", minio.MakeBucketOptions{Region: "eu-west-1"}).Return(nil)

	c := NewFromStore(m, &Config{Bucket: "audit", Region: "eu-west-1"})
	require.NoError(t, c.EnsureBucket(context.Background()))
	m.AssertExpectations(t)
}

func TestClient_EnsureBucket_ExistingIsNoop(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "audit").Return(true, nil)

	c := NewFromStore(m, &Config{Bucket: "audit"})
	require.NoError(t, c.EnsureBucket(context.Background()))
	m.AssertNotCalled(t, "MakeBucket", mock.Anything, mock.Anything, mock.Anything)
}

func TestClient_EnsureBucket_Error(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "audit").Return(false, errors.New("access denied"))

	c := NewFromStore(m, &Config{Bucket: "audit"})
	err := c.EnsureBucket(context.Background())
	require.Error(t, err)
	assert.True(t, sserr.IsUnavailable(err))
}

func TestClient_PutObject(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	body := bytes.NewReader([]byte(`{"id":"1"}` + "\n"))
	m.On("PutObject", mock.Anything, "audit", "events/1.jsonl", body, int64(body.Len()),
		minio.PutObjectOptions{ContentType: "application/x-ndjson"}).
		Return(minio.UploadInfo{Bucket: "audit", Key: "events/1.jsonl", Size: int64(body.Len())}, nil)

	c := NewFromStore(m, &Config{Bucket: "audit"})
	info, err := c.PutObject(context.Background(), "events/1.jsonl", body, int64(body.Len()), "application/x-ndjson")

	require.NoError(t, err)
	assert.Equal(t, "events/1.jsonl", info.Key)
	m.AssertExpectations(t)
}

func TestClient_PutObject_Timeout(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, context.DeadlineExceeded)

	c := NewFromStore(m, nil)
	_, err := c.PutObject(context.Background(), "k", bytes.NewReader(nil), 0, "")

	require.Error(t, err)
	assert.True(t, sserr.IsTimeout(err))
}

func TestClient_Health(t *testing.T) {
	t.Parallel()
	m := new(mockObjectStore)
	m.On("BucketExists", mock.Anything, "ok").Return(true, nil)
	m.On("BucketExists", mock.Anything, "down").Return(false, errors.New("dial tcp: refused"))

	assert.NoError(t, NewFromStore(m, &Config{Bucket: "ok"}).Health(context.Background()))

	err := NewFromStore(m, &Config{Bucket: "down"}).Health(context.Background())
	require.Error(t, err)
	assert.True(t, sserr.IsUnavailable(err))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Endpoint: "localhost:9000"}
	assert.Error(t, cfg.Validate(), "access key required")

	cfg = &Config{Endpoint: "localhost:9000", AccessKey: "ak", SecretKey: "sk"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultRegion, cfg.Region)
	assert.Equal(t, DefaultBucket, cfg.Bucket)
	assert.Equal(t, "[REDACTED]", cfg.SecretKey.String())
	assert.True(t, cfg.Enabled())
}

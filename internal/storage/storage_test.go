package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemBuckets(t *testing.T) {
	ctx := context.Background()
	store := NewFilesystem(afero.NewMemMapFs(), "/data")

	ok, err := store.BucketExists(ctx, "artifacts")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.CreateBucket(ctx, "artifacts"))
	assert.ErrorIs(t, store.CreateBucket(ctx, "artifacts"), ErrBucketExists)

	ok, err = store.BucketExists(ctx, "artifacts")
	require.NoError(t, err)
	assert.True(t, ok)

	for _, bad := range []string{"", "..", "a/b"} {
		assert.Error(t, store.CreateBucket(ctx, bad), bad)
	}
}

func TestFilesystemUploadAndOpen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFilesystem(fs, "/data")
	require.NoError(t, store.CreateBucket(ctx, "artifacts"))

	key := "pipeline-runs/r1/artifacts/a1/report.txt"
	n, err := store.Upload(ctx, "artifacts", key, strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), n)

	exists, err := afero.Exists(fs, "/data/artifacts/"+key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.Open(ctx, "artifacts", key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))

	_, err = store.Open(ctx, "artifacts", "missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFilesystemKeysStayInsideBucket(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFilesystem(fs, "/data")

	for _, key := range []string{"", "../../escape.txt", "a/../b", "/abs", "a//b", "a/", `a\b`, "./a"} {
		_, err := store.Upload(ctx, "artifacts", key, strings.NewReader("x"))
		assert.Error(t, err, "%q", key)
		_, err = store.Open(ctx, "artifacts", key)
		assert.Error(t, err, "%q", key)
	}

	exists, err := afero.Exists(fs, "/escape.txt")
	require.NoError(t, err)
	assert.False(t, exists)
	exists, err = afero.Exists(fs, "/data/escape.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.Upload(ctx, "artifacts", "runs/1/out.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	exists, err = afero.Exists(fs, "/data/artifacts/runs/1/out.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func TestFilesystemFailedUploadLeavesNothing(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := NewFilesystem(fs, "/data")

	_, err := store.Upload(ctx, "artifacts", "broken.bin", failingReader{})
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	exists, err := afero.Exists(fs, "/data/artifacts/broken.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFilesystemUploadHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFilesystem(afero.NewMemMapFs(), "/").Upload(ctx, "artifacts", "k", strings.NewReader("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewS3WithStaticCredentials(t *testing.T) {
	store, err := NewS3(context.Background(), S3Config{
		Region:          "eu-west-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minio",
		SecretAccessKey: "minio123",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", store.region)
}

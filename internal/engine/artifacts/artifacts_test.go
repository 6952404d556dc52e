package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/davidroman0O/pipelite/internal/persistence/memstore"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/storage"
	"github.com/davidroman0O/pipelite/internal/types"
)

// flakyStore wraps a real store and can refuse uploads or pretend another
// process already created the bucket.
type flakyStore struct {
	storage.ObjectStore
	failUpload  bool
	raceCreate  bool
	createCalls atomic.Int32
	existsCalls atomic.Int32
}

func (f *flakyStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	f.existsCalls.Add(1)
	if f.raceCreate {
		return false, nil
	}
	return f.ObjectStore.BucketExists(ctx, bucket)
}

func (f *flakyStore) CreateBucket(ctx context.Context, bucket string) error {
	f.createCalls.Add(1)
	if f.raceCreate {
		return storage.ErrBucketExists
	}
	return f.ObjectStore.CreateBucket(ctx, bucket)
}

func (f *flakyStore) Upload(ctx context.Context, bucket, key string, r io.Reader) (int64, error) {
	if f.failUpload {
		return 0, errors.New("connection reset by peer")
	}
	return f.ObjectStore.Upload(ctx, bucket, key, r)
}

func setup(t *testing.T, store *flakyStore) (*Service, repository.Repository, *types.PipelineRun) {
	t.Helper()
	ctx := context.Background()
	db, err := memstore.New()
	require.NoError(t, err)

	p, err := db.Pipelines().Create(ctx, &types.Pipeline{Name: "ocr", DockerImageURL: "img", RepositorySSHURL: "git@x:y", RepositoryBranch: "master"})
	require.NoError(t, err)
	run, err := db.PipelineRuns().Create(ctx, &types.PipelineRun{
		PipelineID: p.ID,
		States:     []types.PipelineRunState{{Code: types.RunStateNotStarted}},
	})
	require.NoError(t, err)

	return New(db, store, ""), db, run
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := &flakyStore{ObjectStore: storage.NewFilesystem(fs, "/objects")}
	svc, _, run := setup(t, store)

	a, err := svc.Attach(ctx, run.ID, "report.pdf", strings.NewReader("%PDF-1.7"))
	require.NoError(t, err)
	assert.Equal(t, run.ID, a.PipelineRunID)
	assert.Equal(t, "report.pdf", a.Name)
	assert.Equal(t, int64(8), a.Size)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, fmt.Sprintf("pipeline-runs/%s/artifacts/%s/report.pdf", run.ID, a.ID), a.StorageKey)

	exists, err := afero.Exists(fs, "/objects/"+DefaultBucket+"/"+a.StorageKey)
	require.NoError(t, err)
	assert.True(t, exists)

	// names are not unique
	b, err := svc.Attach(ctx, run.ID, "report.pdf", strings.NewReader("again"))
	require.NoError(t, err)
	assert.Equal(t, 1, b.Position)
	assert.NotEqual(t, a.StorageKey, b.StorageKey)

	list, err := svc.List(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)

	rc, err := svc.Open(ctx, list[1])
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "again", string(body))

	assert.Equal(t, int32(1), store.createCalls.Load())
	assert.Equal(t, int32(1), store.existsCalls.Load())
}

func TestAttachUnknownRun(t *testing.T) {
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/")}
	svc, _, _ := setup(t, store)

	_, err := svc.Attach(context.Background(), types.PipelineRunID(types.NewID()), "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Equal(t, int32(0), store.existsCalls.Load())

	_, err = svc.Attach(context.Background(), "nope", "a.txt", strings.NewReader("x"))
	assert.ErrorIs(t, err, types.ErrValidation)
}

func TestAttachCannotReachAnotherRun(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/objects")}
	svc, db, victim := setup(t, store)

	other, err := db.PipelineRuns().Create(ctx, &types.PipelineRun{
		PipelineID: victim.PipelineID,
		States:     []types.PipelineRunState{{Code: types.RunStateNotStarted}},
	})
	require.NoError(t, err)

	original, err := svc.Attach(ctx, victim.ID, "out.pdf", strings.NewReader("victim bytes"))
	require.NoError(t, err)

	name := fmt.Sprintf("../../../%s/artifacts/%s/out.pdf", victim.ID, original.ID)
	_, err = svc.Attach(ctx, other.ID, name, strings.NewReader("attacker bytes"))
	assert.ErrorIs(t, err, types.ErrValidation)

	rc, err := svc.Open(ctx, *original)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "victim bytes", string(body))

	list, err := svc.List(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAttachRejectsNames(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/")}
	svc, _, run := setup(t, store)

	for _, name := range []string{"", "  ", ".", "..", "../x", "a/b", `a\b`, "/etc/passwd", "bad\x00name", "tab\tname", "del\x7f"} {
		_, err := svc.Attach(ctx, run.ID, name, strings.NewReader("x"))
		assert.ErrorIs(t, err, types.ErrValidation, "%q", name)
	}
	assert.Equal(t, int32(0), store.existsCalls.Load())

	a, err := svc.Attach(ctx, run.ID, "..hidden name.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, "..hidden name.txt", a.Name)
}

func TestAttachFailedUploadRecordsNothing(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/"), failUpload: true}
	svc, db, run := setup(t, store)

	_, err := svc.Attach(ctx, run.ID, "a.txt", strings.NewReader("x"))
	require.ErrorIs(t, err, types.ErrStorageFailure)

	got, err := db.PipelineRuns().Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Artifacts)
}

func TestAttachBucketCreatedElsewhere(t *testing.T) {
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/"), raceCreate: true}
	svc, _, run := setup(t, store)

	_, err := svc.Attach(context.Background(), run.ID, "a.txt", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), store.createCalls.Load())
}

func TestConcurrentAttach(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{ObjectStore: storage.NewFilesystem(afero.NewMemMapFs(), "/")}
	svc, db, run := setup(t, store)

	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := svc.Attach(ctx, run.ID, fmt.Sprintf("part-%d.bin", i), strings.NewReader(strings.Repeat("x", i+1)))
			return err
		})
	}
	require.NoError(t, g.Wait())

	got, err := db.PipelineRuns().Get(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, got.Artifacts, 12)
	for i, a := range got.Artifacts {
		assert.Equal(t, i, a.Position)
	}
	assert.Equal(t, int32(1), store.createCalls.Load())
}

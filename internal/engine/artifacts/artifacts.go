// Package artifacts accepts files produced by pipeline runs. The bytes go to
// an object store first; the artifact record is appended to the run only
// once the upload succeeded.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sasha-s/go-deadlock"

	"github.com/davidroman0O/pipelite/internal/logs"
	"github.com/davidroman0O/pipelite/internal/persistence/repository"
	"github.com/davidroman0O/pipelite/internal/storage"
	"github.com/davidroman0O/pipelite/internal/types"
)

const DefaultBucket = "pipelite-artifacts"

// Key is the object key of an artifact.
func Key(runID types.PipelineRunID, artifactID types.ArtifactID, name string) string {
	return fmt.Sprintf("pipeline-runs/%s/artifacts/%s/%s", runID, artifactID, name)
}

// checkName keeps the name a single key segment so the object stays under
// its own run and artifact id.
func checkName(name string) error {
	switch {
	case name == "":
		return types.NewValidationError("name", "is required")
	case name == "." || name == "..":
		return types.NewValidationError("name", "%q is not a file name", name)
	case strings.ContainsAny(name, `/\`):
		return types.NewValidationError("name", "must not contain a path separator")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return types.NewValidationError("name", "must not contain control characters")
		}
	}
	return nil
}

type Service struct {
	db     repository.Repository
	store  storage.ObjectStore
	bucket string

	// guards the lazy bucket creation only, never a transfer
	mu    deadlock.Mutex
	ready bool
}

func New(db repository.Repository, store storage.ObjectStore, bucket string) *Service {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &Service{
		db:     db,
		store:  store,
		bucket: bucket,
	}
}

func (s *Service) Bucket() string {
	return s.bucket
}

// Attach uploads r as an artifact named name of the run. A failed upload
// returns a types.ErrStorageFailure and records nothing.
func (s *Service) Attach(ctx context.Context, runID types.PipelineRunID, name string, r io.Reader) (*types.PipelineRunArtifact, error) {
	if err := types.CheckID("pipeline_run_id", runID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if err := checkName(name); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, types.NewValidationError("content", "is required")
	}

	if _, err := s.db.PipelineRuns().Get(ctx, runID); err != nil {
		logs.Debug(ctx, "Attach error loading run", "pipeline_run.id", runID, "error", err)
		return nil, err
	}

	if err := s.ensureBucket(ctx); err != nil {
		logs.Error(ctx, "Attach error preparing bucket", "bucket", s.bucket, "error", err)
		return nil, errors.Join(types.ErrStorageFailure, err)
	}

	artifactID := types.ArtifactID(types.NewID())
	key := Key(runID, artifactID, name)

	size, err := s.store.Upload(ctx, s.bucket, key, r)
	if err != nil {
		logs.Error(ctx, "Attach error uploading artifact", "pipeline_run.id", runID, "key", key, "error", err)
		return nil, errors.Join(types.ErrStorageFailure, err)
	}

	artifact, err := s.db.PipelineRuns().AppendArtifact(ctx, &types.PipelineRunArtifact{
		ID:            artifactID,
		PipelineRunID: runID,
		Name:          name,
		StorageKey:    key,
		Size:          size,
	})
	if err != nil {
		// the object stays orphaned in the bucket
		logs.Error(ctx, "Attach error recording artifact", "pipeline_run.id", runID, "key", key, "error", err)
		return nil, err
	}
	logs.Debug(ctx, "Artifact attached", "pipeline_run.id", runID, "artifact.id", artifact.ID, "size", size)
	return artifact, nil
}

func (s *Service) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	exists, err := s.store.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		// another process may create it between the check and here
		if err := s.store.CreateBucket(ctx, s.bucket); err != nil && !errors.Is(err, storage.ErrBucketExists) {
			return err
		}
		logs.Info(ctx, "Artifact bucket created", "bucket", s.bucket)
	}
	s.ready = true
	return nil
}

// List returns the artifacts of a run in attach order.
func (s *Service) List(ctx context.Context, runID types.PipelineRunID) ([]types.PipelineRunArtifact, error) {
	if err := types.CheckID("pipeline_run_id", runID); err != nil {
		return nil, err
	}
	run, err := s.db.PipelineRuns().Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run.Artifacts, nil
}

// Open streams the content of an artifact back from the object store.
func (s *Service) Open(ctx context.Context, artifact types.PipelineRunArtifact) (io.ReadCloser, error) {
	rc, err := s.store.Open(ctx, s.bucket, artifact.StorageKey)
	if err != nil {
		return nil, errors.Join(types.ErrStorageFailure, err)
	}
	return rc, nil
}

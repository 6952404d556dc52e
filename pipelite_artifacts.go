package pipelite

import (
	"context"
	"io"
)

// AttachArtifact uploads content and records it on the run. Nothing is
// recorded when the upload fails.
func (p *Pipelite) AttachArtifact(ctx context.Context, runID PipelineRunID, name string, content io.Reader) (*PipelineRunArtifact, error) {
	return p.artifacts.Attach(ctx, runID, name, content)
}

func (p *Pipelite) ListArtifacts(ctx context.Context, runID PipelineRunID) ([]PipelineRunArtifact, error) {
	return p.artifacts.List(ctx, runID)
}

// OpenArtifact streams an artifact back. The caller closes the reader.
func (p *Pipelite) OpenArtifact(ctx context.Context, artifact PipelineRunArtifact) (io.ReadCloser, error) {
	return p.artifacts.Open(ctx, artifact)
}

func (p *Pipelite) ArtifactBucket() string {
	return p.artifacts.Bucket()
}

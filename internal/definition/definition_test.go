package definition

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/pipelite/internal/engine/workflows"
	"github.com/davidroman0O/pipelite/internal/persistence/memstore"
	"github.com/davidroman0O/pipelite/internal/types"
)

const etl = `
pipeline "extract" {
  description        = "pull the sources"
  docker_image_url   = "registry.local/extract:1"
  repository_ssh_url = "git@example.com:org/extract.git"
}

pipeline "load" {
  docker_image_url   = "registry.local/load:1"
  repository_ssh_url = "git@example.com:org/load.git"
  repository_branch  = "main"
}

workflow "etl" {
  description = "nightly load"

  step "extract" {
    pipeline = "extract"
  }

  step "transform" {
    pipeline   = "transform"
    depends_on = ["extract"]
  }

  step "load" {
    pipeline   = "load"
    depends_on = ["transform", "extract"]
  }
}
`

func newCatalog(t *testing.T) *workflows.Service {
	t.Helper()
	db, err := memstore.New()
	require.NoError(t, err)
	return workflows.New(db)
}

func TestParse(t *testing.T) {
	f, err := Parse("etl.hcl", []byte(etl))
	require.NoError(t, err)

	require.Len(t, f.Pipelines, 2)
	assert.Equal(t, "extract", f.Pipelines[0].Name)
	assert.Equal(t, "main", f.Pipelines[1].RepositoryBranch)

	require.Len(t, f.Workflows, 1)
	w := f.Workflows[0]
	assert.Equal(t, "etl", w.Name)
	require.Len(t, w.Steps, 3)
	assert.Equal(t, []string{"transform", "extract"}, w.Steps[2].DependsOn)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		kind error
	}{
		{"syntax", `workflow "x" {`, types.ErrValidation},
		{"missing attribute", `pipeline "p" { docker_image_url = "i" }`, types.ErrValidation},
		{"duplicate step", `
workflow "w" {
  description = "d"
  step "a" { pipeline = "p" }
  step "a" { pipeline = "p" }
}`, types.ErrValidation},
		{"unknown dependency", `
workflow "w" {
  description = "d"
  step "a" {
    pipeline   = "p"
    depends_on = ["ghost"]
  }
}`, types.ErrValidation},
		{"cycle", `
workflow "w" {
  description = "d"
  step "a" {
    pipeline   = "p"
    depends_on = ["b"]
  }
  step "b" {
    pipeline   = "p"
    depends_on = ["a"]
  }
}`, types.ErrCycleRejected},
		{"self dependency", `
workflow "w" {
  description = "d"
  step "a" {
    pipeline   = "p"
    depends_on = ["a"]
  }
}`, types.ErrCycleRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.hcl", []byte(tt.src))
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)

	transform, err := catalog.CreatePipeline(ctx, types.PipelineSpec{
		Name:             "transform",
		DockerImageURL:   "registry.local/transform:1",
		RepositorySSHURL: "git@example.com:org/transform.git",
	})
	require.NoError(t, err)

	f, err := Parse("etl.hcl", []byte(etl))
	require.NoError(t, err)

	res, err := Apply(ctx, catalog, f)
	require.NoError(t, err)
	assert.Equal(t, []string{"extract", "load"}, res.Created)
	assert.Equal(t, transform.ID, res.Pipelines["transform"].ID)

	require.Len(t, res.Workflows, 1)
	applied := res.Workflows[0]
	assert.Len(t, applied.Steps, 3)
	assert.Len(t, applied.Dependencies, 3)

	order, err := catalog.TopologicalOrder(ctx, applied.Workflow.ID)
	require.NoError(t, err)
	require.Len(t, order, 3)
	assert.Equal(t, applied.Steps["extract"].ID, order[0].ID)
	assert.Equal(t, applied.Steps["transform"].ID, order[1].ID)
	assert.Equal(t, applied.Steps["load"].ID, order[2].ID)

	// applying again reuses every pipeline and creates a second workflow
	again, err := Apply(ctx, catalog, f)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.NotEqual(t, applied.Workflow.ID, again.Workflows[0].Workflow.ID)
	assert.Equal(t, res.Pipelines["extract"].ID, again.Pipelines["extract"].ID)
}

func TestApplyUnknownPipelineWritesNothing(t *testing.T) {
	ctx := context.Background()
	catalog := newCatalog(t)

	f, err := Parse("etl.hcl", []byte(etl))
	require.NoError(t, err)

	_, err = Apply(ctx, catalog, f)
	require.ErrorIs(t, err, types.ErrValidation)

	list, err := catalog.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	pipelines, err := catalog.ListPipelines(ctx)
	require.NoError(t, err)
	assert.Empty(t, pipelines)
}

func TestParseFileDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_pipelines.hcl"), []byte(`
pipeline "p" {
  docker_image_url   = "i"
  repository_ssh_url = "git@x:p.git"
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_workflow.hcl"), []byte(`
workflow "w" {
  description = "d"
  step "only" { pipeline = "p" }
}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	f, err := ParseFile(dir)
	require.NoError(t, err)
	assert.Len(t, f.Pipelines, 1)
	assert.Len(t, f.Workflows, 1)

	single, err := ParseFile(filepath.Join(dir, "a_pipelines.hcl"))
	require.NoError(t, err)
	assert.Len(t, single.Pipelines, 1)

	_, err = ParseFile(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}

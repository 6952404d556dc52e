package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidroman0O/pipelite"
)

type cli struct {
	t   *testing.T
	dir string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	t.Chdir(dir)
	return &cli{t: t, dir: dir}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	args = append(args,
		"--log-level=error",
		"--database-path="+filepath.Join(c.dir, "pipelite.db"),
		"--storage-root="+filepath.Join(c.dir, "objects"),
	)
	err := run(context.Background(), &out, &errOut, args)
	return out.String(), err
}

func (c *cli) decode(v interface{}, args ...string) {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, strings.Join(args, " "))
	require.NoError(c.t, json.Unmarshal([]byte(out), v), out)
}

func (c *cli) pipeline(name string) string {
	var p pipelite.Pipeline
	c.decode(&p, "pipeline", "create", "--name", name, "--image", "registry.local/"+name, "--repo", "git@example.com:org/"+name+".git")
	return string(p.ID)
}

func TestHelp(t *testing.T) {
	var out bytes.Buffer
	err := run(context.Background(), &out, &out, []string{"--help"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestPipelineCommands(t *testing.T) {
	c := newCLI(t)
	id := c.pipeline("build")

	var got pipelite.Pipeline
	c.decode(&got, "pipeline", "get", "build", "--by-name")
	assert.Equal(t, id, string(got.ID))
	assert.Equal(t, "master", got.RepositoryBranch)

	_, err := c.run("pipeline", "create", "--name", "broken")
	require.Error(t, err)
	assert.Equal(t, exitValidation, exitCode(err))

	_, err = c.run("pipeline", "delete", id)
	require.NoError(t, err)
	_, err = c.run("pipeline", "get", id)
	assert.Equal(t, exitNotFound, exitCode(err))
}

func TestWorkflowRejectsCycle(t *testing.T) {
	c := newCLI(t)
	pl := c.pipeline("stage")

	var wf pipelite.Workflow
	c.decode(&wf, "workflow", "create", "--name", "w", "--description", "two stages")

	var a, b pipelite.WorkflowPipeline
	c.decode(&a, "workflow", "add", string(wf.ID), pl)
	c.decode(&b, "workflow", "add", string(wf.ID), pl)

	_, err := c.run("workflow", "depend", string(wf.ID), string(a.ID), string(b.ID))
	require.NoError(t, err)

	out, err := c.run("workflow", "check", string(wf.ID), string(b.ID), string(a.ID))
	require.NoError(t, err)
	assert.Equal(t, "true\n", out)

	_, err = c.run("workflow", "depend", string(wf.ID), string(b.ID), string(a.ID))
	require.ErrorIs(t, err, pipelite.ErrCycleRejected)
	assert.Equal(t, exitRefused, exitCode(err))

	var order []pipelite.WorkflowPipeline
	c.decode(&order, "workflow", "order", string(wf.ID))
	require.Len(t, order, 2)
	assert.Equal(t, a.ID, order[0].ID)
}

func TestRunCommands(t *testing.T) {
	c := newCLI(t)
	pl := c.pipeline("report")

	var run pipelite.PipelineRun
	c.decode(&run, "run", "create", pl, "--callback", "http://127.0.0.1:1/cb", "--input", "data.csv=https://files.local/data.csv")
	require.Len(t, run.Inputs, 1)
	assert.Equal(t, "data.csv", run.Inputs[0].Filename)

	var entry pipelite.PipelineRunState
	c.decode(&entry, "run", "advance", string(run.ID), "running")
	assert.Equal(t, pipelite.RunStateRunning, entry.Code)

	_, err := c.run("run", "advance", string(run.ID), "NOT_STARTED")
	assert.Equal(t, exitRefused, exitCode(err))

	_, err = c.run("run", "advance", string(run.ID), "PAUSED")
	assert.Equal(t, exitValidation, exitCode(err))

	artifact := filepath.Join(c.dir, "report.txt")
	require.NoError(t, os.WriteFile(artifact, []byte("all good"), 0o644))
	var attached []*pipelite.PipelineRunArtifact
	c.decode(&attached, "artifact", "attach", string(run.ID), artifact)
	require.Len(t, attached, 1)
	assert.Equal(t, "report.txt", attached[0].Name)

	out, err := c.run("artifact", "get", string(run.ID), string(attached[0].ID))
	require.NoError(t, err)
	assert.Equal(t, "all good", out)

	var described struct {
		States []pipelite.PipelineRunState `json:"states"`
		Next   []pipelite.RunState         `json:"allowed_transitions"`
	}
	c.decode(&described, "run", "get", string(run.ID))
	assert.Len(t, described.States, 2)
	assert.ElementsMatch(t, []pipelite.RunState{pipelite.RunStateCompleted, pipelite.RunStateFailed, pipelite.RunStateCancelled}, described.Next)
}

func TestApplyCommand(t *testing.T) {
	c := newCLI(t)
	file := filepath.Join(c.dir, "etl.hcl")
	require.NoError(t, os.WriteFile(file, []byte(`
pipeline "extract" {
  docker_image_url   = "registry.local/extract:1"
  repository_ssh_url = "git@example.com:org/extract.git"
}

workflow "etl" {
  description = "nightly"
  step "first" { pipeline = "extract" }
  step "second" {
    pipeline   = "extract"
    depends_on = ["first"]
  }
}
`), 0o644))

	_, err := c.run("apply", file)
	require.NoError(t, err)

	var workflows []pipelite.Workflow
	c.decode(&workflows, "workflow", "list")
	require.Len(t, workflows, 1)
	assert.Equal(t, "etl", workflows[0].Name)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{errors.New("boom"), exitFailure},
		{pipelite.NewValidationError("name", "is required"), exitValidation},
		{fmt.Errorf("wrapped: %w", pipelite.NewNotFound("pipeline", "x")), exitNotFound},
		{&pipelite.TransitionError{Current: pipelite.RunStateCompleted, Requested: pipelite.RunStateRunning}, exitRefused},
		{&pipelite.CycleError{}, exitRefused},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exitCode(tt.err), "%v", tt.err)
	}
}

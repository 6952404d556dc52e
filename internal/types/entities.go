package types

import "time"

// Pipeline is a reusable processing unit definition. RunCounter is the last
// sequence number handed to one of its runs.
type Pipeline struct {
	ID               PipelineID `json:"id"`
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	DockerImageURL   string     `json:"docker_image_url"`
	RepositorySSHURL string     `json:"repository_ssh_url"`
	RepositoryBranch string     `json:"repository_branch"`
	RunCounter       int        `json:"run_counter"`
	IsDeleted        bool       `json:"is_deleted"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

type Workflow struct {
	ID          WorkflowID `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	IsDeleted   bool       `json:"is_deleted"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// WorkflowPipeline is a node of a workflow graph.
type WorkflowPipeline struct {
	ID         WorkflowPipelineID `json:"id"`
	WorkflowID WorkflowID         `json:"workflow_id"`
	PipelineID PipelineID         `json:"pipeline_id"`
	IsDeleted  bool               `json:"is_deleted"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WorkflowPipelineDependency is the directed edge From -> To: To depends on From.
type WorkflowPipelineDependency struct {
	ID         DependencyID       `json:"id"`
	WorkflowID WorkflowID         `json:"workflow_id"`
	From       WorkflowPipelineID `json:"from_workflow_pipeline_id"`
	To         WorkflowPipelineID `json:"to_workflow_pipeline_id"`
	IsDeleted  bool               `json:"is_deleted"`
	CreatedAt  time.Time          `json:"created_at"`
}

type WorkflowRun struct {
	ID         WorkflowRunID `json:"id"`
	WorkflowID WorkflowID    `json:"workflow_id"`
	CreatedAt  time.Time     `json:"created_at"`
}

// WorkflowPipelineRun ties a WorkflowRun, one of its workflow's nodes and the
// PipelineRun executing that node. Position is the creation order inside the
// workflow run.
type WorkflowPipelineRun struct {
	ID                 WorkflowPipelineRunID `json:"id"`
	WorkflowRunID      WorkflowRunID         `json:"workflow_run_id"`
	WorkflowPipelineID WorkflowPipelineID    `json:"workflow_pipeline_id"`
	PipelineRunID      PipelineRunID         `json:"pipeline_run_id"`
	Position           int                   `json:"position"`
	CreatedAt          time.Time             `json:"created_at"`
}

type PipelineRun struct {
	ID          PipelineRunID         `json:"id"`
	PipelineID  PipelineID            `json:"pipeline_id"`
	Sequence    int                   `json:"sequence"`
	CallbackURL string                `json:"callback_url"`
	StdOut      string                `json:"std_out"`
	StdErr      string                `json:"std_err"`
	Version     int                   `json:"version"`
	States      []PipelineRunState    `json:"states"`
	Inputs      []PipelineRunInput    `json:"inputs"`
	Artifacts   []PipelineRunArtifact `json:"artifacts"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// CurrentState is the last entry of the history.
func (r *PipelineRun) CurrentState() RunState {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1].Code
}

type PipelineRunState struct {
	PipelineRunID PipelineRunID `json:"pipeline_run_id"`
	Position      int           `json:"position"`
	Code          RunState      `json:"code"`
	CreatedAt     time.Time     `json:"created_at"`
}

type PipelineRunInput struct {
	PipelineRunID PipelineRunID `json:"pipeline_run_id"`
	Position      int           `json:"position"`
	Filename      string        `json:"filename"`
	URL           string        `json:"url"`
}

type PipelineRunArtifact struct {
	ID            ArtifactID    `json:"id"`
	PipelineRunID PipelineRunID `json:"pipeline_run_id"`
	Position      int           `json:"position"`
	Name          string        `json:"name"`
	StorageKey    string        `json:"storage_key"`
	Size          int64         `json:"size"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Copy returns a deep copy; callers never share slices with a store.
func (r *PipelineRun) Copy() *PipelineRun {
	if r == nil {
		return nil
	}
	c := *r
	c.States = append([]PipelineRunState(nil), r.States...)
	c.Inputs = append([]PipelineRunInput(nil), r.Inputs...)
	c.Artifacts = append([]PipelineRunArtifact(nil), r.Artifacts...)
	return &c
}

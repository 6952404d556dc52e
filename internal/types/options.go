package types

// PipelineRunRequest is the payload accepted when creating a pipeline run.
type PipelineRunRequest struct {
	Inputs      []PipelineRunInputRequest `json:"inputs"`
	CallbackURL string                    `json:"callback_url"`
}

type PipelineRunInputRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// PipelineSpec carries the mutable attributes of a Pipeline.
type PipelineSpec struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	DockerImageURL   string `json:"docker_image_url"`
	RepositorySSHURL string `json:"repository_ssh_url"`
	RepositoryBranch string `json:"repository_branch"`
}

// WorkflowSpec carries the mutable attributes of a Workflow.
type WorkflowSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

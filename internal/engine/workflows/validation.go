package workflows

import (
	"strings"

	"github.com/davidroman0O/pipelite/internal/types"
)

// DefaultBranch is used when a pipeline names no repository branch.
const DefaultBranch = "master"

func normalizePipelineSpec(spec types.PipelineSpec) (types.PipelineSpec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.DockerImageURL = strings.TrimSpace(spec.DockerImageURL)
	spec.RepositorySSHURL = strings.TrimSpace(spec.RepositorySSHURL)
	spec.RepositoryBranch = strings.TrimSpace(spec.RepositoryBranch)
	if spec.RepositoryBranch == "" {
		spec.RepositoryBranch = DefaultBranch
	}

	var errs types.ValidationErrors
	if spec.Name == "" {
		errs = append(errs, types.NewValidationError("name", "is required"))
	}
	if spec.DockerImageURL == "" {
		errs = append(errs, types.NewValidationError("docker_image_url", "is required"))
	}
	if spec.RepositorySSHURL == "" {
		errs = append(errs, types.NewValidationError("repository_ssh_url", "is required"))
	}
	return spec, errs.OrNil()
}

func normalizeWorkflowSpec(spec types.WorkflowSpec) (types.WorkflowSpec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Description = strings.TrimSpace(spec.Description)

	var errs types.ValidationErrors
	if spec.Name == "" {
		errs = append(errs, types.NewValidationError("name", "is required"))
	}
	if spec.Description == "" {
		errs = append(errs, types.NewValidationError("description", "is required"))
	}
	return spec, errs.OrNil()
}

// Package definition loads workflows declared in HCL files and applies them
// through the workflow service.
//
//	pipeline "extract" {
//	  docker_image_url   = "registry.local/extract:1"
//	  repository_ssh_url = "git@example.com:org/extract.git"
//	}
//
//	workflow "etl" {
//	  description = "nightly load"
//	  step "extract" { pipeline = "extract" }
//	  step "load" {
//	    pipeline   = "load"
//	    depends_on = ["extract"]
//	  }
//	}
package definition

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/davidroman0O/pipelite/internal/dag"
	"github.com/davidroman0O/pipelite/internal/types"
)

type File struct {
	Pipelines []*Pipeline `hcl:"pipeline,block"`
	Workflows []*Workflow `hcl:"workflow,block"`
}

type Pipeline struct {
	Name             string `hcl:"name,label"`
	Description      string `hcl:"description,optional"`
	DockerImageURL   string `hcl:"docker_image_url"`
	RepositorySSHURL string `hcl:"repository_ssh_url"`
	RepositoryBranch string `hcl:"repository_branch,optional"`
}

func (p *Pipeline) Spec() types.PipelineSpec {
	return types.PipelineSpec{
		Name:             p.Name,
		Description:      p.Description,
		DockerImageURL:   p.DockerImageURL,
		RepositorySSHURL: p.RepositorySSHURL,
		RepositoryBranch: p.RepositoryBranch,
	}
}

type Workflow struct {
	Name        string  `hcl:"name,label"`
	Description string  `hcl:"description"`
	Steps       []*Step `hcl:"step,block"`
}

// Step places a pipeline in a workflow. DependsOn names the steps that
// must run before it.
type Step struct {
	Key       string   `hcl:"key,label"`
	Pipeline  string   `hcl:"pipeline"`
	DependsOn []string `hcl:"depends_on,optional"`
}

// Parse decodes src and checks what can be checked without a store.
func Parse(filename string, src []byte) (*File, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, types.NewValidationError("definition", "parsing %s: %s", filename, diags.Error())
	}

	var f File
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &f); diags.HasErrors() {
		return nil, types.NewValidationError("definition", "decoding %s: %s", filename, diags.Error())
	}
	if err := f.Check(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseFile reads one file, or every .hcl file of a directory in name order.
func ParseFile(path string) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading definition: %w", err)
		}
		return Parse(path, src)
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.hcl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	merged := &File{}
	for _, m := range matches {
		src, err := os.ReadFile(m)
		if err != nil {
			return nil, fmt.Errorf("reading definition: %w", err)
		}
		f, err := Parse(m, src)
		if err != nil {
			return nil, err
		}
		merged.Pipelines = append(merged.Pipelines, f.Pipelines...)
		merged.Workflows = append(merged.Workflows, f.Workflows...)
	}
	if err := merged.Check(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Check reports duplicate names, dangling depends_on entries and cycles
// between steps.
func (f *File) Check() error {
	var errs types.ValidationErrors

	pipelines := map[string]struct{}{}
	for _, p := range f.Pipelines {
		if _, dup := pipelines[p.Name]; dup {
			errs = append(errs, types.NewValidationError("pipeline."+p.Name, "declared more than once"))
		}
		pipelines[p.Name] = struct{}{}
	}

	workflows := map[string]struct{}{}
	for _, w := range f.Workflows {
		field := "workflow." + w.Name
		if _, dup := workflows[w.Name]; dup {
			errs = append(errs, types.NewValidationError(field, "declared more than once"))
		}
		workflows[w.Name] = struct{}{}

		steps := map[string]struct{}{}
		for _, s := range w.Steps {
			if _, dup := steps[s.Key]; dup {
				errs = append(errs, types.NewValidationError(field+".step."+s.Key, "declared more than once"))
			}
			steps[s.Key] = struct{}{}
			if strings.TrimSpace(s.Pipeline) == "" {
				errs = append(errs, types.NewValidationError(field+".step."+s.Key+".pipeline", "is required"))
			}
		}
		for _, s := range w.Steps {
			for _, dep := range s.DependsOn {
				if _, ok := steps[dep]; !ok {
					errs = append(errs, types.NewValidationError(field+".step."+s.Key+".depends_on", "unknown step %q", dep))
				}
			}
		}
	}
	if err := errs.OrNil(); err != nil {
		return err
	}

	for _, w := range f.Workflows {
		if err := w.checkAcyclic(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Workflow) graph() *dag.Graph[string] {
	g := dag.New[string]()
	for _, s := range w.Steps {
		g.Add(s.Key)
	}
	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			g.Connect(dag.Edge[string]{Source: dep, Target: s.Key})
		}
	}
	return g
}

func (w *Workflow) checkAcyclic() error {
	if err := w.graph().Validate(); err != nil {
		return errors.Join(types.ErrCycleRejected, fmt.Errorf("workflow %q: %w", w.Name, err))
	}
	return nil
}

package pipelite

import (
	"context"

	"github.com/davidroman0O/pipelite/internal/definition"
)

// ParseDefinition reads an HCL definition file, or every .hcl file of a
// directory.
func ParseDefinition(path string) (*Definition, error) {
	return definition.ParseFile(path)
}

// ApplyDefinition creates the pipelines and workflows def declares. Pipelines
// already present by name are reused.
func (p *Pipelite) ApplyDefinition(ctx context.Context, def *Definition) (*DefinitionResult, error) {
	return definition.Apply(ctx, p.workflows, def)
}

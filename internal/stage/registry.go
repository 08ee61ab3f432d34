package stage

import (
	"fmt"
	"slices"

	"github.com/cuongbtq/opportunity-pipeline/internal/domain"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry resolves stages by name and validates their parameters
type Registry struct {
	stages  map[string]Stage
	schemas map[string]*jsonschema.Schema
	common  *jsonschema.Schema
}

// NewRegistry compiles the parameter schemas of the given stages
func NewRegistry(stages ...Stage) (*Registry, error) {
	common, err := compileSchema("common.json", commonParamSchema)
	if err != nil {
		return nil, fmt.Errorf("common parameters: %w", err)
	}

	r := &Registry{
		stages:  make(map[string]Stage, len(stages)),
		schemas: make(map[string]*jsonschema.Schema, len(stages)),
		common:  common,
	}
	for _, s := range stages {
		if _, dup := r.stages[s.Name()]; dup {
			return nil, fmt.Errorf("stage %q registered twice", s.Name())
		}
		schema, err := compileSchema(s.Name()+".json", s.ParamSchema())
		if err != nil {
			return nil, fmt.Errorf("stage %s parameters: %w", s.Name(), err)
		}
		r.stages[s.Name()] = s
		r.schemas[s.Name()] = schema
	}
	return r, nil
}

// Get returns the named stage or ErrUnknownStage
func (r *Registry) Get(name string) (Stage, error) {
	s, ok := r.stages[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, name)
	}
	return s, nil
}

// Names returns the registered stage names in order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.stages))
	for name := range r.stages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Validate checks a parameter document against the common schema and the
// stage schema
func (r *Registry) Validate(name string, params domain.RawJSON) error {
	if _, err := r.Get(name); err != nil {
		return err
	}
	if len(params) == 0 {
		params = domain.RawJSON("{}")
	}
	if !params.IsObject() {
		return fmt.Errorf("%w: parameters must be a JSON object", domain.ErrInvalidParameters)
	}
	if err := validateDocument(r.common, params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	if err := validateDocument(r.schemas[name], params); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidParameters, err)
	}
	return nil
}

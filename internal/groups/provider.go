package groups

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/security"
)

// Provider supplies named group definitions to the registry.
type Provider interface {
	Definitions(ctx context.Context) ([]*AccessGroupDefinition, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]*AccessGroupDefinition, error)

// Definitions implements Provider.
func (f ProviderFunc) Definitions(ctx context.Context) ([]*AccessGroupDefinition, error) {
	return f(ctx)
}

// StaticProvider serves definitions built in code.
type StaticProvider []*AccessGroupDefinition

// Definitions implements Provider.
func (p StaticProvider) Definitions(context.Context) ([]*AccessGroupDefinition, error) {
	out := make([]*AccessGroupDefinition, len(p))
	copy(out, p)
	return out, nil
}

type definitionsFile struct {
	Groups []groupEntry `yaml:"groups" validate:"dive"`
}

type groupEntry struct {
	Name        string            `yaml:"name" validate:"required"`
	Constraints []constraintEntry `yaml:"constraints" validate:"dive"`
	Attributes  []attributeEntry  `yaml:"attributes" validate:"dive"`
}

type constraintEntry struct {
	Entity    string `yaml:"entity" validate:"required"`
	Kind      string `yaml:"kind" validate:"required,oneof=jpql script custom"`
	Where     string `yaml:"where" validate:"required_if=Kind jpql"`
	Join      string `yaml:"join"`
	Operation string `yaml:"operation" validate:"omitempty,oneof=create read update delete"`
	Script    string `yaml:"script" validate:"required_if=Kind script"`
	Code      string `yaml:"code" validate:"required_if=Kind custom"`
}

type attributeEntry struct {
	Name     string `yaml:"name" validate:"required"`
	Datatype string `yaml:"datatype" validate:"required"`
	Value    string `yaml:"value"`
}

// FileProvider reads definitions from a YAML document:
//
//	groups:
//	  - name: north-sales
//	    constraints:
//	      - entity: sales$Order
//	        kind: jpql
//	        where: "{E}.region = :session$region"
//	    attributes:
//	      - name: region
//	        datatype: string
//	        value: north
type FileProvider struct {
	Path  string
	Types *datatypes.Registry
}

// NewFileProvider constructs a provider for the YAML file at path.
func NewFileProvider(path string, types *datatypes.Registry) *FileProvider {
	return &FileProvider{Path: path, Types: types}
}

// Definitions implements Provider. An empty path yields no definitions.
func (p *FileProvider) Definitions(context.Context) ([]*AccessGroupDefinition, error) {
	if p.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("groups: read definitions: %w", err)
	}
	return ParseDefinitions(data, p.Types)
}

// ParseDefinitions builds definitions from a YAML document. Attribute values
// are parsed with types; a failure aborts the whole document.
func ParseDefinitions(data []byte, types *datatypes.Registry) ([]*AccessGroupDefinition, error) {
	var doc definitionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("groups: parse definitions: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("groups: invalid definitions: %w", err)
	}
	if types == nil {
		types = datatypes.NewRegistry()
	}

	out := make([]*AccessGroupDefinition, 0, len(doc.Groups))
	for _, g := range doc.Groups {
		b := NewBuilder(g.Name)
		for _, c := range g.Constraints {
			switch c.Kind {
			case "jpql":
				b.WithJPQLConstraint(c.Entity, c.Where, c.Join)
			case "script":
				if c.Operation == "" {
					return nil, fmt.Errorf("groups: group %s: script constraint on %s has no operation", g.Name, c.Entity)
				}
				b.WithScriptConstraint(c.Entity, security.EntityOp(c.Operation), c.Script)
			case "custom":
				b.WithCustomScriptConstraint(c.Entity, c.Code, c.Join)
			}
		}
		for _, a := range g.Attributes {
			value, err := types.Parse(a.Datatype, a.Value)
			if err != nil {
				return nil, fmt.Errorf("groups: group %s attribute %s: %w", g.Name, a.Name, err)
			}
			b.WithSessionAttribute(a.Name, value)
		}
		out = append(out, b.Build())
	}
	return out, nil
}

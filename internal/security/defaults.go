package security

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPermission is a fallback value applied when no role sets the target explicitly.
type DefaultPermission struct {
	Type   PermissionType
	Target string
	Value  int
}

// DefaultPermissionValues yields fallback permission values.
type DefaultPermissionValues interface {
	DefaultPermissionValues() []DefaultPermission
}

// StaticDefaults is a fixed list of default permission values.
type StaticDefaults []DefaultPermission

// DefaultPermissionValues implements DefaultPermissionValues.
func (d StaticDefaults) DefaultPermissionValues() []DefaultPermission {
	out := make([]DefaultPermission, len(d))
	copy(out, d)
	return out
}

type defaultsFile struct {
	Permissions []defaultEntry `yaml:"permissions" validate:"dive"`
}

type defaultEntry struct {
	Type   string `yaml:"type" validate:"required,oneof=SCREEN ENTITY_OP ENTITY_ATTR SPECIFIC UI"`
	Target string `yaml:"target" validate:"required"`
	Value  *int   `yaml:"value" validate:"required,gte=0"`
}

// LoadDefaults reads default permission values from a YAML document of the form
//
//	permissions:
//	  - type: ENTITY_OP
//	    target: "sec$User:read"
//	    value: 1
func LoadDefaults(data []byte) (StaticDefaults, error) {
	var doc defaultsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("security: parse default permissions: %w", err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("security: invalid default permissions: %w", err)
	}
	out := make(StaticDefaults, 0, len(doc.Permissions))
	for _, entry := range doc.Permissions {
		typ, _ := ParsePermissionType(entry.Type)
		out = append(out, DefaultPermission{Type: typ, Target: entry.Target, Value: *entry.Value})
	}
	return out, nil
}

// LoadDefaultsFile reads default permission values from path. An empty path yields no defaults.
func LoadDefaultsFile(path string) (StaticDefaults, error) {
	if path == "" {
		return StaticDefaults{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("security: read default permissions: %w", err)
	}
	return LoadDefaults(data)
}

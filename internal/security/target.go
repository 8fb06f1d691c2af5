package security

import (
	"fmt"
	"strings"
)

// PermissionKey identifies an entry of a compiled permission table.
type PermissionKey struct {
	Type   PermissionType
	Target string
}

// String renders the key as TYPE/target.
func (k PermissionKey) String() string {
	return k.Type.String() + "/" + k.Target
}

// EntityExtensions resolves entities that were replaced by an extended
// entity declared elsewhere.
type EntityExtensions interface {
	// Extended returns the replacing entity name, or ok=false when the entity
	// is not extended. Unregistered entities yield ErrUnknownEntity.
	Extended(entityName string) (extended string, ok bool, err error)
}

// SplitTarget splits an entity scoped target into entity name and property path.
// ok is false when the target has no delimiter.
func SplitTarget(target string) (entity, path string, ok bool) {
	pos := strings.Index(target, TargetPathDelimiter)
	if pos < 0 {
		return "", "", false
	}
	return target[:pos], target[pos+len(TargetPathDelimiter):], true
}

// ExtendedTarget rewrites an entity scoped permission target so that it
// references the extended entity. It returns "" when no rewrite applies.
func ExtendedTarget(ext EntityExtensions, p Permission) (string, error) {
	if !p.Type.IsEntityScoped() || ext == nil {
		return "", nil
	}
	entity, path, ok := SplitTarget(p.Target)
	if !ok {
		return "", nil
	}
	if strings.TrimSpace(entity) == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedTarget, p.Target)
	}
	extended, ok, err := ext.Extended(entity)
	if err != nil {
		return "", fmt.Errorf("permission target %q: %w", p.Target, err)
	}
	if !ok {
		return "", nil
	}
	return extended + TargetPathDelimiter + path, nil
}

// StaticExtensions is an EntityExtensions backed by a fixed map of entity
// name to extended entity name. A nil Known set accepts every entity.
type StaticExtensions struct {
	Replacements map[string]string
	Known        map[string]struct{}
}

// NewStaticExtensions builds StaticExtensions from entity:extended pairs.
func NewStaticExtensions(replacements map[string]string, known ...string) *StaticExtensions {
	ext := &StaticExtensions{Replacements: make(map[string]string, len(replacements))}
	for k, v := range replacements {
		ext.Replacements[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(known) > 0 {
		ext.Known = make(map[string]struct{}, len(known)+len(replacements)*2)
		for _, name := range known {
			ext.Known[name] = struct{}{}
		}
		for k, v := range ext.Replacements {
			ext.Known[k] = struct{}{}
			ext.Known[v] = struct{}{}
		}
	}
	return ext
}

// Extended implements EntityExtensions.
func (s *StaticExtensions) Extended(entityName string) (string, bool, error) {
	if s == nil {
		return "", false, nil
	}
	if s.Known != nil {
		if _, ok := s.Known[entityName]; !ok {
			return "", false, fmt.Errorf("%w: %s", ErrUnknownEntity, entityName)
		}
	}
	extended, ok := s.Replacements[entityName]
	if !ok || extended == "" || extended == entityName {
		return "", false, nil
	}
	return extended, true, nil
}

var _ EntityExtensions = (*StaticExtensions)(nil)

package groups

import (
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/secengine/internal/datatypes"
	"github.com/odyssey-erp/secengine/internal/security"
)

// AttributeUpdate is one step of attribute compilation. A nil Value clears Name.
type AttributeUpdate struct {
	Name  string
	Value any
}

// CompileAttributes parses attrs in order. Callers pass inherited attributes
// farthest ancestor first, so later entries override earlier ones. Defining
// a name that is currently set is a duplicate, reported once per name through
// onDuplicate. The first value that
// fails to parse aborts the whole compilation.
func CompileAttributes(types *datatypes.Registry, attrs []security.SessionAttribute, onDuplicate func(name string)) ([]AttributeUpdate, error) {
	seen := make(map[string]struct{}, len(attrs))
	reported := make(map[string]struct{})
	updates := make([]AttributeUpdate, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := seen[attr.Name]; ok {
			if _, done := reported[attr.Name]; !done {
				reported[attr.Name] = struct{}{}
				if onDuplicate != nil {
					onDuplicate(attr.Name)
				}
			}
		}
		value, err := types.Parse(attr.Datatype, attr.StringValue)
		if err != nil {
			return nil, fmt.Errorf("groups: unable to load session attribute %s: %w", attr.Name, err)
		}
		if value == nil {
			delete(seen, attr.Name)
		} else {
			seen[attr.Name] = struct{}{}
		}
		updates = append(updates, AttributeUpdate{Name: attr.Name, Value: value})
	}
	return updates, nil
}

// WarnDuplicate returns an onDuplicate callback logging through logger.
func WarnDuplicate(logger *slog.Logger) func(string) {
	return func(name string) {
		if logger == nil {
			return
		}
		logger.Warn("duplicate definition of session attribute in the group hierarchy", slog.String("attribute", name))
	}
}

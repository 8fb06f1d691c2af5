// Package groups resolves access groups into immutable AccessGroupDefinitions,
// whether the group lives in the database or is registered by name.
package groups

import (
	"sort"

	"github.com/odyssey-erp/secengine/internal/security"
)

// Rule is a compiled row level security rule scoped to an entity.
type Rule interface {
	Entity() string
	isRule()
}

// JPQLConstraint filters rows read from an entity with a where clause and an
// optional join clause.
type JPQLConstraint struct {
	EntityName string `json:"entity"`
	Where      string `json:"where"`
	Join       string `json:"join,omitempty"`
}

// Entity implements Rule.
func (c JPQLConstraint) Entity() string { return c.EntityName }
func (JPQLConstraint) isRule()          {}

// ScriptConstraint checks an in-memory predicate for one entity operation.
type ScriptConstraint struct {
	EntityName string            `json:"entity"`
	Operation  security.EntityOp `json:"operation"`
	Script     string            `json:"script"`
}

// Entity implements Rule.
func (c ScriptConstraint) Entity() string { return c.EntityName }
func (ScriptConstraint) isRule()          {}

// CustomScriptConstraint is a predicate checked on demand by application code.
type CustomScriptConstraint struct {
	EntityName string `json:"entity"`
	Code       string `json:"code"`
	Join       string `json:"join,omitempty"`
}

// Entity implements Rule.
func (c CustomScriptConstraint) Entity() string { return c.EntityName }
func (CustomScriptConstraint) isRule()          {}

// ConstraintSet holds compiled rules keyed by entity name, in insertion order.
type ConstraintSet struct {
	byEntity map[string][]Rule
	count    int
}

func (s *ConstraintSet) add(r Rule) {
	if s.byEntity == nil {
		s.byEntity = make(map[string][]Rule)
	}
	s.byEntity[r.Entity()] = append(s.byEntity[r.Entity()], r)
	s.count++
}

// Len returns the total number of rules.
func (s ConstraintSet) Len() int { return s.count }

// Entities lists the entities that carry at least one rule, sorted.
func (s ConstraintSet) Entities() []string {
	out := make([]string, 0, len(s.byEntity))
	for name := range s.byEntity {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForEntity returns a copy of the rules of an entity.
func (s ConstraintSet) ForEntity(entity string) []Rule {
	rules := s.byEntity[entity]
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// RowFilters returns the where/join rules applied when reading the entity.
func (s ConstraintSet) RowFilters(entity string) []JPQLConstraint {
	var out []JPQLConstraint
	for _, r := range s.byEntity[entity] {
		if c, ok := r.(JPQLConstraint); ok {
			out = append(out, c)
		}
	}
	return out
}

// Scripts returns the predicate rules registered for the entity operation.
func (s ConstraintSet) Scripts(entity string, op security.EntityOp) []ScriptConstraint {
	var out []ScriptConstraint
	for _, r := range s.byEntity[entity] {
		if c, ok := r.(ScriptConstraint); ok && c.Operation == op {
			out = append(out, c)
		}
	}
	return out
}

// Custom returns the custom predicate rules of the entity.
func (s ConstraintSet) Custom(entity string) []CustomScriptConstraint {
	var out []CustomScriptConstraint
	for _, r := range s.byEntity[entity] {
		if c, ok := r.(CustomScriptConstraint); ok {
			out = append(out, c)
		}
	}
	return out
}

// AccessGroupDefinition is the resolved, immutable view of an access group.
type AccessGroupDefinition struct {
	name        string
	constraints ConstraintSet
	attributes  map[string]any
}

// Name returns the group name. Database groups resolved by id may have an empty name.
func (d *AccessGroupDefinition) Name() string { return d.name }

// Constraints returns the compiled rules.
func (d *AccessGroupDefinition) Constraints() ConstraintSet { return d.constraints }

// SessionAttributes returns a copy of the resolved attributes.
func (d *AccessGroupDefinition) SessionAttributes() map[string]any {
	out := make(map[string]any, len(d.attributes))
	for k, v := range d.attributes {
		out[k] = v
	}
	return out
}

// SessionAttribute returns a single resolved attribute.
func (d *AccessGroupDefinition) SessionAttribute(name string) (any, bool) {
	v, ok := d.attributes[name]
	return v, ok
}

package groups

import (
	"github.com/odyssey-erp/secengine/internal/security"
)

// Builder composes an AccessGroupDefinition. A Builder must not be reused
// after Build.
type Builder struct {
	name        string
	constraints ConstraintSet
	attributes  map[string]any
}

// NewBuilder starts a definition for the named group.
func NewBuilder(name string) *Builder {
	return &Builder{name: name, attributes: make(map[string]any)}
}

// WithJPQLConstraint adds a row filter for reading entity.
func (b *Builder) WithJPQLConstraint(entity, where, join string) *Builder {
	b.constraints.add(JPQLConstraint{EntityName: entity, Where: where, Join: join})
	return b
}

// WithScriptConstraint adds an in-memory predicate for the entity operation.
func (b *Builder) WithScriptConstraint(entity string, op security.EntityOp, script string) *Builder {
	b.constraints.add(ScriptConstraint{EntityName: entity, Operation: op, Script: script})
	return b
}

// WithCustomScriptConstraint adds a custom predicate for entity.
func (b *Builder) WithCustomScriptConstraint(entity, code, join string) *Builder {
	b.constraints.add(CustomScriptConstraint{EntityName: entity, Code: code, Join: join})
	return b
}

// WithSessionAttribute sets an attribute. A nil value removes it.
func (b *Builder) WithSessionAttribute(name string, value any) *Builder {
	if value == nil {
		delete(b.attributes, name)
		return b
	}
	b.attributes[name] = value
	return b
}

// WithSessionAttributes applies every attribute of attrs.
func (b *Builder) WithSessionAttributes(attrs map[string]any) *Builder {
	for k, v := range attrs {
		b.WithSessionAttribute(k, v)
	}
	return b
}

// WithConstraint compiles a persisted constraint into rules. Inactive
// constraints are ignored. CUSTOM constraints yield a custom predicate;
// every other operation type is expanded into entity operations, each
// producing a row filter when it is a read with a where clause and,
// independently, a script rule when a script is present.
func (b *Builder) WithConstraint(c security.Constraint) *Builder {
	if !c.IsActive {
		return b
	}
	if c.OperationType == security.ConstraintCustom {
		return b.WithCustomScriptConstraint(c.EntityName, c.Code, c.JoinClause)
	}
	for _, op := range c.OperationType.EntityOps() {
		if op == security.OpRead && c.WhereClause != "" {
			b.WithJPQLConstraint(c.EntityName, c.WhereClause, c.JoinClause)
		}
		if c.Script != "" {
			b.WithScriptConstraint(c.EntityName, op, c.Script)
		}
	}
	return b
}

// Build returns the immutable definition.
func (b *Builder) Build() *AccessGroupDefinition {
	attrs := make(map[string]any, len(b.attributes))
	for k, v := range b.attributes {
		attrs[k] = v
	}
	var set ConstraintSet
	for _, entity := range b.constraints.Entities() {
		for _, r := range b.constraints.byEntity[entity] {
			set.add(r)
		}
	}
	return &AccessGroupDefinition{name: b.name, constraints: set, attributes: attrs}
}

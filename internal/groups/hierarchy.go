package groups

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/secengine/internal/security"
)

// Hierarchy is a persisted group together with what it inherits from its
// ancestors.
type Hierarchy struct {
	Group                security.Group
	InheritedConstraints []security.Constraint
	// InheritedAttributes are ordered farthest ancestor first.
	InheritedAttributes []security.SessionAttribute
}

// LoadHierarchy reads the group and its ancestors' constraints and attributes.
func LoadHierarchy(ctx context.Context, tx security.TxRepository, groupID uuid.UUID) (Hierarchy, error) {
	group, err := tx.GetGroup(ctx, groupID)
	if err != nil {
		return Hierarchy{}, fmt.Errorf("groups: load group: %w", err)
	}
	constraints, err := tx.ListHierarchyConstraints(ctx, groupID)
	if err != nil {
		return Hierarchy{}, fmt.Errorf("groups: load inherited constraints: %w", err)
	}
	attrs, err := tx.ListHierarchySessionAttributes(ctx, groupID)
	if err != nil {
		return Hierarchy{}, fmt.Errorf("groups: load inherited attributes: %w", err)
	}
	return Hierarchy{Group: group, InheritedConstraints: constraints, InheritedAttributes: attrs}, nil
}

// Constraints returns the active constraints, own first, then inherited.
// Identical constraints declared at several levels are all kept.
func (h Hierarchy) Constraints() []security.Constraint {
	out := make([]security.Constraint, 0, len(h.Group.Constraints)+len(h.InheritedConstraints))
	for _, list := range [][]security.Constraint{h.Group.Constraints, h.InheritedConstraints} {
		for _, c := range list {
			if c.IsActive {
				out = append(out, c)
			}
		}
	}
	return out
}

// Attributes returns inherited attributes followed by the group's own, the
// order in which they must be applied.
func (h Hierarchy) Attributes() []security.SessionAttribute {
	out := make([]security.SessionAttribute, 0, len(h.InheritedAttributes)+len(h.Group.SessionAttributes))
	out = append(out, h.InheritedAttributes...)
	return append(out, h.Group.SessionAttributes...)
}

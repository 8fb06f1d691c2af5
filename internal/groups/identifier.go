package groups

import (
	"github.com/google/uuid"
)

// Identifier references an access group either by persisted id or by the
// name of a registered definition.
type Identifier struct {
	id    uuid.UUID
	hasID bool
	name  string
}

// ByID identifies a group stored in the database.
func ByID(id uuid.UUID) Identifier {
	return Identifier{id: id, hasID: true}
}

// ByName identifies a group registered by a definition provider.
func ByName(name string) Identifier {
	return Identifier{name: name}
}

// ID returns the persisted id, if any.
func (i Identifier) ID() (uuid.UUID, bool) {
	return i.id, i.hasID
}

// Name returns the definition name, if any.
func (i Identifier) Name() string {
	return i.name
}

func (i Identifier) String() string {
	switch {
	case i.hasID:
		return "group id " + i.id.String()
	case i.name != "":
		return "group name " + i.name
	default:
		return "empty group identifier"
	}
}

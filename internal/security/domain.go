package security

import (
	"github.com/google/uuid"
)

// TargetPathDelimiter separates the entity name from the property path in
// entity scoped permission targets, e.g. "sales$Order:read".
const TargetPathDelimiter = ":"

// PermissionType classifies what a permission target refers to.
type PermissionType int

// Permission types. The zero value marks a permission whose type is unset.
const (
	PermissionTypeUnset  PermissionType = 0
	PermissionScreen     PermissionType = 10
	PermissionEntityOp   PermissionType = 20
	PermissionEntityAttr PermissionType = 30
	PermissionSpecific   PermissionType = 40
	PermissionUI         PermissionType = 50
)

// String returns the persisted name of the permission type.
func (t PermissionType) String() string {
	switch t {
	case PermissionScreen:
		return "SCREEN"
	case PermissionEntityOp:
		return "ENTITY_OP"
	case PermissionEntityAttr:
		return "ENTITY_ATTR"
	case PermissionSpecific:
		return "SPECIFIC"
	case PermissionUI:
		return "UI"
	default:
		return "UNSET"
	}
}

// IsEntityScoped reports whether targets of this type are entityName:path pairs.
func (t PermissionType) IsEntityScoped() bool {
	return t == PermissionEntityOp || t == PermissionEntityAttr
}

// ParsePermissionType maps a persisted name back to a PermissionType.
func ParsePermissionType(name string) (PermissionType, bool) {
	for _, t := range []PermissionType{PermissionScreen, PermissionEntityOp, PermissionEntityAttr, PermissionSpecific, PermissionUI} {
		if t.String() == name {
			return t, true
		}
	}
	return PermissionTypeUnset, false
}

// Access levels used by the built-in permission types.
const (
	AccessDeny  = 0
	AccessAllow = 1
	AttrView    = 1
	AttrModify  = 2
)

// Permission grants an access level to a target.
type Permission struct {
	ID     uuid.UUID
	RoleID uuid.UUID
	Type   PermissionType
	Target string
	// Value is nil when the permission row carries no value.
	Value *int
}

// RoleType distinguishes regular roles from sentinel ones.
type RoleType int

const (
	RoleStandard RoleType = 0
	RoleSuper    RoleType = 10
	RoleReadonly RoleType = 20
	RoleDenying  RoleType = 30
)

// Role is a named bundle of permissions.
type Role struct {
	ID          uuid.UUID
	Name        string
	Type        RoleType
	Permissions []Permission
}

// UserRole links a user to a role.
type UserRole struct {
	UserID uuid.UUID
	RoleID uuid.UUID
}

// User is the principal a session is compiled for.
type User struct {
	ID    uuid.UUID
	Login string
	Name  string
	// GroupID references a persisted access group.
	GroupID *uuid.UUID
	// GroupName references a group registered by a definition provider.
	GroupName string
	TenantID  *string
}

// HasGroup reports whether the user is assigned to any access group.
func (u User) HasGroup() bool {
	return u.GroupID != nil || u.GroupName != ""
}

// Group is a node of the access group tree.
type Group struct {
	ID                uuid.UUID
	Name              string
	ParentID          *uuid.UUID
	Constraints       []Constraint
	SessionAttributes []SessionAttribute
}

// GroupHierarchy materializes one ancestor of a group. Level is the distance
// from the group, so the direct parent has level 1.
type GroupHierarchy struct {
	GroupID  uuid.UUID
	ParentID uuid.UUID
	Level    int
}

// EntityOp is a concrete operation on an entity.
type EntityOp string

const (
	OpCreate EntityOp = "create"
	OpRead   EntityOp = "read"
	OpUpdate EntityOp = "update"
	OpDelete EntityOp = "delete"
)

// ConstraintOperationType is the operation a constraint was declared for.
type ConstraintOperationType string

const (
	ConstraintCreate ConstraintOperationType = "create"
	ConstraintRead   ConstraintOperationType = "read"
	ConstraintUpdate ConstraintOperationType = "update"
	ConstraintDelete ConstraintOperationType = "delete"
	ConstraintAll    ConstraintOperationType = "all"
	ConstraintCustom ConstraintOperationType = "custom"
)

// EntityOps expands the declared operation into concrete entity operations.
// CUSTOM and unknown values expand to nothing.
func (t ConstraintOperationType) EntityOps() []EntityOp {
	switch t {
	case ConstraintCreate:
		return []EntityOp{OpCreate}
	case ConstraintRead:
		return []EntityOp{OpRead}
	case ConstraintUpdate:
		return []EntityOp{OpUpdate}
	case ConstraintDelete:
		return []EntityOp{OpDelete}
	case ConstraintAll:
		return []EntityOp{OpCreate, OpRead, OpUpdate, OpDelete}
	default:
		return nil
	}
}

// Constraint is a row level rule attached to a group.
type Constraint struct {
	ID            uuid.UUID
	GroupID       uuid.UUID
	EntityName    string
	OperationType ConstraintOperationType
	IsActive      bool
	WhereClause   string
	JoinClause    string
	// Script is a predicate evaluated in memory for the declared operations.
	Script string
	// Code is the predicate of a CUSTOM constraint.
	Code string
}

// SessionAttribute is a typed value inherited by the members of a group.
type SessionAttribute struct {
	ID          uuid.UUID
	GroupID     uuid.UUID
	Name        string
	Datatype    string
	StringValue string
}

// Package usersession compiles users, roles and access groups into
// UserSession snapshots consulted on every authorization check.
package usersession

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/secengine/internal/groups"
	"github.com/odyssey-erp/secengine/internal/security"
)

// Tenant attribute name, and its value for users without a tenant.
const (
	TenantAttribute = "tenantId"
	NoTenant        = "no_tenant"
)

// UserSession is the compiled authorization snapshot of a user. Permissions
// and constraints are fixed once the session is built; attributes may be
// changed by the application and are safe for concurrent use.
type UserSession struct {
	id              uuid.UUID
	user            security.User
	substitutedUser *security.User
	locale          language.Tag
	system          bool

	roleNames   []string
	superRole   bool
	permissions map[security.PermissionKey]int
	constraints []security.Constraint
	accessGroup *groups.AccessGroupDefinition

	mu         sync.RWMutex
	attributes map[string]any
}

func newSession(id uuid.UUID, user security.User, roles []security.Role, locale language.Tag, system bool) *UserSession {
	s := &UserSession{
		id:          id,
		user:        user,
		locale:      locale,
		system:      system,
		permissions: make(map[security.PermissionKey]int),
		attributes:  make(map[string]any),
	}
	s.setRoles(roles)
	return s
}

func (s *UserSession) setRoles(roles []security.Role) {
	s.roleNames = make([]string, 0, len(roles))
	s.superRole = false
	for _, r := range roles {
		s.roleNames = append(s.roleNames, r.Name)
		if r.Type == security.RoleSuper {
			s.superRole = true
		}
	}
}

// ID returns the session id. Substituted sessions keep the id of their source.
func (s *UserSession) ID() uuid.UUID { return s.id }

// User returns the logged in user.
func (s *UserSession) User() security.User { return s.user }

// SubstitutedUser returns the impersonated user, if any.
func (s *UserSession) SubstitutedUser() (security.User, bool) {
	if s.substitutedUser == nil {
		return security.User{}, false
	}
	return *s.substitutedUser, true
}

// CurrentOrSubstitutedUser returns the user whose rights the session carries.
func (s *UserSession) CurrentOrSubstitutedUser() security.User {
	if s.substitutedUser != nil {
		return *s.substitutedUser
	}
	return s.user
}

// Locale returns the session locale.
func (s *UserSession) Locale() language.Tag { return s.locale }

// IsSystem reports whether the session belongs to a system process.
func (s *UserSession) IsSystem() bool { return s.system }

// HasSuperRole reports whether one of the roles grants every permission.
func (s *UserSession) HasSuperRole() bool { return s.superRole }

// RoleNames returns the role names in assignment order.
func (s *UserSession) RoleNames() []string {
	out := make([]string, len(s.roleNames))
	copy(out, s.roleNames)
	return out
}

// PermissionValue returns the recorded value for the target.
func (s *UserSession) PermissionValue(typ security.PermissionType, target string) (int, bool) {
	v, ok := s.permissions[security.PermissionKey{Type: typ, Target: target}]
	return v, ok
}

// IsPermitted reports whether the recorded value reaches value. Super role
// sessions are permitted everything.
func (s *UserSession) IsPermitted(typ security.PermissionType, target string, value int) bool {
	if s.superRole {
		return true
	}
	v, ok := s.PermissionValue(typ, target)
	return ok && v >= value
}

// Permissions returns a copy of the permission table.
func (s *UserSession) Permissions() map[security.PermissionKey]int {
	out := make(map[security.PermissionKey]int, len(s.permissions))
	for k, v := range s.permissions {
		out[k] = v
	}
	return out
}

// Constraints returns the active constraints of the user's group and its ancestors.
func (s *UserSession) Constraints() []security.Constraint {
	out := make([]security.Constraint, len(s.constraints))
	copy(out, s.constraints)
	return out
}

// AccessGroup returns the compiled rules of the user's access group.
func (s *UserSession) AccessGroup() *groups.AccessGroupDefinition { return s.accessGroup }

// AttributeNames returns the attribute names, sorted.
func (s *UserSession) AttributeNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.attributes))
	for name := range s.attributes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attribute returns a session attribute.
func (s *UserSession) Attribute(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.attributes[name]
	return v, ok
}

// SetAttribute stores a session attribute. A nil value removes it.
func (s *UserSession) SetAttribute(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if value == nil {
		delete(s.attributes, name)
		return
	}
	s.attributes[name] = value
}

// RemoveAttribute deletes a session attribute.
func (s *UserSession) RemoveAttribute(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attributes, name)
}

func (s *UserSession) attributesCopy() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.attributes))
	for k, v := range s.attributes {
		out[k] = v
	}
	return out
}

func (s *UserSession) addPermission(typ security.PermissionType, target, extendedTarget string, value int) {
	s.permissions[security.PermissionKey{Type: typ, Target: target}] = value
	if extendedTarget != "" {
		s.permissions[security.PermissionKey{Type: typ, Target: extendedTarget}] = value
	}
}

func (s *UserSession) addConstraint(c security.Constraint) {
	s.constraints = append(s.constraints, c)
}

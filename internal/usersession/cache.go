package usersession

import (
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/odyssey-erp/secengine/internal/security"
)

// DefaultRoleCacheSize bounds the number of users kept in a RoleCache.
const DefaultRoleCacheSize = 1024

type cachedUser struct {
	user  security.User
	roles []security.Role
}

// RoleCache keeps the user-to-roles association, permissions included, so
// repeated compilations of the same user skip the database.
type RoleCache struct {
	entries *lru.Cache[uuid.UUID, cachedUser]
}

// NewRoleCache creates a cache holding at most size users.
func NewRoleCache(size int) (*RoleCache, error) {
	if size <= 0 {
		size = DefaultRoleCacheSize
	}
	entries, err := lru.New[uuid.UUID, cachedUser](size)
	if err != nil {
		return nil, fmt.Errorf("usersession: role cache: %w", err)
	}
	return &RoleCache{entries: entries}, nil
}

// Get returns a copy of the cached association.
func (c *RoleCache) Get(userID uuid.UUID) (security.User, []security.Role, bool) {
	if c == nil {
		return security.User{}, nil, false
	}
	entry, ok := c.entries.Get(userID)
	if !ok {
		return security.User{}, nil, false
	}
	return entry.user, cloneRoles(entry.roles), true
}

// Put caches the association of user.
func (c *RoleCache) Put(user security.User, roles []security.Role) {
	if c == nil {
		return
	}
	c.entries.Add(user.ID, cachedUser{user: user, roles: cloneRoles(roles)})
}

// Invalidate drops the cached association of userID and reports whether one existed.
func (c *RoleCache) Invalidate(userID uuid.UUID) bool {
	if c == nil {
		return false
	}
	return c.entries.Remove(userID)
}

// Len returns the number of cached users.
func (c *RoleCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func cloneRoles(roles []security.Role) []security.Role {
	out := make([]security.Role, len(roles))
	for i, r := range roles {
		r.Permissions = append([]security.Permission(nil), r.Permissions...)
		out[i] = r
	}
	return out
}

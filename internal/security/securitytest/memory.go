// Package securitytest provides an in-memory security.Repository for tests.
package securitytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/odyssey-erp/secengine/internal/security"
)

// Store keeps groups, users and roles in memory. Hierarchy rows are derived
// from ParentID when a group is added, so parents must be added first.
type Store struct {
	mu        sync.RWMutex
	groups    map[uuid.UUID]security.Group
	hierarchy []security.GroupHierarchy
	users     map[uuid.UUID]security.User
	roles     map[uuid.UUID]security.Role
	userRoles []security.UserRole

	txCount atomic.Int64
	// FailWith, when set, is returned by every read.
	FailWith error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		groups: make(map[uuid.UUID]security.Group),
		users:  make(map[uuid.UUID]security.User),
		roles:  make(map[uuid.UUID]security.Role),
	}
}

// AddGroup stores g and records one hierarchy row per ancestor.
func (s *Store) AddGroup(g security.Group) security.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	for i := range g.Constraints {
		g.Constraints[i].GroupID = g.ID
	}
	for i := range g.SessionAttributes {
		g.SessionAttributes[i].GroupID = g.ID
	}
	s.groups[g.ID] = g
	level := 1
	for parent := g.ParentID; parent != nil; level++ {
		s.hierarchy = append(s.hierarchy, security.GroupHierarchy{GroupID: g.ID, ParentID: *parent, Level: level})
		p, ok := s.groups[*parent]
		if !ok {
			break
		}
		parent = p.ParentID
	}
	return g
}

// AddRole stores r.
func (s *Store) AddRole(r security.Role) security.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	for i := range r.Permissions {
		r.Permissions[i].RoleID = r.ID
	}
	s.roles[r.ID] = r
	return r
}

// AddUser stores u and links it to roles in the given order.
func (s *Store) AddUser(u security.User, roles ...security.Role) security.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	s.users[u.ID] = u
	for _, r := range roles {
		s.userRoles = append(s.userRoles, security.UserRole{UserID: u.ID, RoleID: r.ID})
	}
	return u
}

// SetRoles replaces the role links of a user.
func (s *Store) SetRoles(userID uuid.UUID, roles ...security.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.userRoles[:0]
	for _, ur := range s.userRoles {
		if ur.UserID != userID {
			kept = append(kept, ur)
		}
	}
	s.userRoles = kept
	for _, r := range roles {
		s.userRoles = append(s.userRoles, security.UserRole{UserID: userID, RoleID: r.ID})
	}
}

// Transactions returns how many times WithTx ran.
func (s *Store) Transactions() int {
	return int(s.txCount.Load())
}

// WithTx implements security.Repository.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, security.TxRepository) error) error {
	s.txCount.Add(1)
	return fn(ctx, s)
}

// GetGroup implements security.TxRepository.
func (s *Store) GetGroup(_ context.Context, id uuid.UUID) (security.Group, error) {
	if s.FailWith != nil {
		return security.Group{}, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return security.Group{}, fmt.Errorf("group %s: %w", id, security.ErrNotFound)
	}
	g.Constraints = append([]security.Constraint(nil), g.Constraints...)
	g.SessionAttributes = append([]security.SessionAttribute(nil), g.SessionAttributes...)
	return g, nil
}

func (s *Store) ancestors(groupID uuid.UUID) []security.GroupHierarchy {
	var rows []security.GroupHierarchy
	for _, h := range s.hierarchy {
		if h.GroupID == groupID {
			rows = append(rows, h)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Level > rows[j].Level })
	return rows
}

// ListHierarchyConstraints implements security.TxRepository.
func (s *Store) ListHierarchyConstraints(_ context.Context, groupID uuid.UUID) ([]security.Constraint, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []security.Constraint
	for _, h := range s.ancestors(groupID) {
		out = append(out, s.groups[h.ParentID].Constraints...)
	}
	return out, nil
}

// ListHierarchySessionAttributes implements security.TxRepository.
func (s *Store) ListHierarchySessionAttributes(_ context.Context, groupID uuid.UUID) ([]security.SessionAttribute, error) {
	if s.FailWith != nil {
		return nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []security.SessionAttribute
	for _, h := range s.ancestors(groupID) {
		out = append(out, s.groups[h.ParentID].SessionAttributes...)
	}
	return out, nil
}

// GetUserWithRoles implements security.TxRepository.
func (s *Store) GetUserWithRoles(_ context.Context, userID uuid.UUID) (security.User, []security.Role, error) {
	if s.FailWith != nil {
		return security.User{}, nil, s.FailWith
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return security.User{}, nil, fmt.Errorf("user %s: %w", userID, security.ErrNotFound)
	}
	var roles []security.Role
	for _, ur := range s.userRoles {
		if ur.UserID != userID {
			continue
		}
		r := s.roles[ur.RoleID]
		r.Permissions = append([]security.Permission(nil), r.Permissions...)
		roles = append(roles, r)
	}
	return u, roles, nil
}

var _ security.Repository = (*Store)(nil)
var _ security.TxRepository = (*Store)(nil)

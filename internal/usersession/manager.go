package usersession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/secengine/internal/groups"
	"github.com/odyssey-erp/secengine/internal/observability"
	"github.com/odyssey-erp/secengine/internal/security"
)

// UUIDSource generates session ids.
type UUIDSource interface {
	NewUUID() uuid.UUID
}

// RandomUUIDs generates random (version 4) ids.
type RandomUUIDs struct{}

// NewUUID implements UUIDSource.
func (RandomUUIDs) NewUUID() uuid.UUID { return uuid.New() }

// Options carries the optional collaborators of a Manager.
type Options struct {
	Extensions security.EntityExtensions
	Defaults   security.DefaultPermissionValues
	Cache      *RoleCache
	UUIDs      UUIDSource
	Logger     *slog.Logger
	Metrics    *observability.Metrics
}

// Manager compiles user sessions.
type Manager struct {
	store      security.Repository
	groups     *groups.Repository
	extensions security.EntityExtensions
	defaults   security.DefaultPermissionValues
	cache      *RoleCache
	uuids      UUIDSource
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewManager constructs a Manager.
func NewManager(store security.Repository, groupRepo *groups.Repository, opts Options) *Manager {
	m := &Manager{
		store:      store,
		groups:     groupRepo,
		extensions: opts.Extensions,
		defaults:   opts.Defaults,
		cache:      opts.Cache,
		uuids:      opts.UUIDs,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
	if m.uuids == nil {
		m.uuids = RandomUUIDs{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// CreateSession compiles a new session for user with a fresh id.
func (m *Manager) CreateSession(ctx context.Context, user security.User, roles []security.Role, locale language.Tag, system bool) (*UserSession, error) {
	return m.CreateSessionWithID(ctx, m.uuids.NewUUID(), user, roles, locale, system)
}

// CreateSessionWithID compiles a new session for user under the given id.
func (m *Manager) CreateSessionWithID(ctx context.Context, id uuid.UUID, user security.User, roles []security.Role, locale language.Tag, system bool) (*UserSession, error) {
	start := time.Now()
	s := newSession(id, user, roles, locale, system)
	err := m.compile(ctx, s, user, roles)
	m.metrics.ObserveSessionCompile("login", start, err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// CreateSubstitutedSession compiles the session of src's user acting as user.
// The new session keeps the id, locale and system flag of src and carries the
// rights of the substituted user.
func (m *Manager) CreateSubstitutedSession(ctx context.Context, src *UserSession, user security.User, roles []security.Role) (*UserSession, error) {
	if src == nil {
		return nil, fmt.Errorf("usersession: substitution without source session: %w", security.ErrInvalidState)
	}
	start := time.Now()
	s := newSession(src.ID(), src.User(), roles, src.Locale(), src.IsSystem())
	substituted := user
	s.substitutedUser = &substituted
	err := m.compile(ctx, s, user, roles)
	m.metrics.ObserveSessionCompile("substitution", start, err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// PermissionValue compiles the permissions of a user without building a
// session and returns the value recorded for the target. Users holding a
// super role have no recorded values.
func (m *Manager) PermissionValue(ctx context.Context, userID uuid.UUID, typ security.PermissionType, target string) (int, bool, error) {
	user, roles, err := m.LoadUser(ctx, userID)
	if err != nil {
		return 0, false, err
	}
	s := newSession(uuid.Nil, user, roles, language.Und, false)
	if err := m.compilePermissions(s, roles); err != nil {
		return 0, false, err
	}
	v, ok := s.PermissionValue(typ, target)
	return v, ok, nil
}

// LoadUser returns the user with its roles, served from the role cache when possible.
func (m *Manager) LoadUser(ctx context.Context, userID uuid.UUID) (security.User, []security.Role, error) {
	if user, roles, ok := m.cache.Get(userID); ok {
		return user, roles, nil
	}
	var (
		user  security.User
		roles []security.Role
	)
	err := m.store.WithTx(ctx, func(ctx context.Context, tx security.TxRepository) error {
		var err error
		user, roles, err = tx.GetUserWithRoles(ctx, userID)
		return err
	})
	if err != nil {
		return security.User{}, nil, fmt.Errorf("usersession: load user: %w", err)
	}
	m.cache.Put(user, roles)
	return user, roles, nil
}

// ClearPermissionsOnUser drops the cached roles of the session's user and,
// when present, of the substituted user.
func (m *Manager) ClearPermissionsOnUser(s *UserSession) {
	if s == nil {
		return
	}
	m.InvalidateUser(s.User().ID)
	if sub, ok := s.SubstitutedUser(); ok {
		m.InvalidateUser(sub.ID)
	}
}

// InvalidateUser drops the cached roles of a single user.
func (m *Manager) InvalidateUser(userID uuid.UUID) {
	if m.cache.Invalidate(userID) {
		m.metrics.RoleCacheInvalidated(1)
		m.logger.Debug("role cache invalidated", slog.String("user_id", userID.String()))
	}
}

func (m *Manager) compile(ctx context.Context, s *UserSession, user security.User, roles []security.Role) error {
	if !user.HasGroup() {
		return fmt.Errorf("usersession: user %s is not assigned to an access group: %w", user.Login, security.ErrInvalidState)
	}
	if err := m.compilePermissions(s, roles); err != nil {
		return err
	}
	if user.GroupID != nil {
		if err := m.compileStoredGroup(ctx, s, *user.GroupID); err != nil {
			return err
		}
	} else if err := m.compileNamedGroup(ctx, s, user.GroupName); err != nil {
		return err
	}
	tenant := NoTenant
	if user.TenantID != nil && *user.TenantID != "" {
		tenant = *user.TenantID
	}
	s.attributes[TenantAttribute] = tenant
	return nil
}

func (m *Manager) compilePermissions(s *UserSession, roles []security.Role) error {
	if s.superRole {
		return nil
	}
	for _, role := range roles {
		for _, p := range role.Permissions {
			if p.Type == security.PermissionTypeUnset || p.Value == nil {
				continue
			}
			extended, ok, err := m.extendedTarget("role "+role.Name, p)
			if err != nil {
				return err
			}
			if ok {
				s.addPermission(p.Type, p.Target, extended, *p.Value)
			}
		}
	}
	if m.defaults == nil {
		return nil
	}
	for _, d := range m.defaults.DefaultPermissionValues() {
		if _, ok := s.PermissionValue(d.Type, d.Target); ok {
			continue
		}
		value := d.Value
		p := security.Permission{Type: d.Type, Target: d.Target, Value: &value}
		extended, ok, err := m.extendedTarget("default values", p)
		if err != nil {
			return err
		}
		if ok {
			s.addPermission(d.Type, d.Target, extended, value)
		}
	}
	return nil
}

// extendedTarget resolves the extended target of p. ok is false when the
// permission must be skipped because its target cannot be interpreted.
func (m *Manager) extendedTarget(source string, p security.Permission) (string, bool, error) {
	extended, err := security.ExtendedTarget(m.extensions, p)
	if err == nil {
		return extended, true, nil
	}
	if errors.Is(err, security.ErrMalformedTarget) || errors.Is(err, security.ErrUnknownEntity) {
		m.metrics.PermissionSkipped()
		m.logger.Debug("permission skipped",
			slog.String("source", source),
			slog.String("permission", security.PermissionKey{Type: p.Type, Target: p.Target}.String()),
			slog.Any("error", err))
		return "", false, nil
	}
	return "", false, fmt.Errorf("usersession: %s: %w", source, err)
}

func (m *Manager) compileStoredGroup(ctx context.Context, s *UserSession, groupID uuid.UUID) error {
	var h groups.Hierarchy
	err := m.store.WithTx(ctx, func(ctx context.Context, tx security.TxRepository) error {
		var err error
		h, err = groups.LoadHierarchy(ctx, tx, groupID)
		return err
	})
	if err != nil {
		return fmt.Errorf("usersession: %w", err)
	}
	def, err := m.groups.Assemble(h)
	if err != nil {
		return fmt.Errorf("usersession: %w", err)
	}
	for _, c := range h.Constraints() {
		s.addConstraint(c)
	}
	s.accessGroup = def
	s.attributes = def.SessionAttributes()
	return nil
}

func (m *Manager) compileNamedGroup(ctx context.Context, s *UserSession, name string) error {
	def, err := m.groups.Definition(ctx, groups.ByName(name))
	if err != nil {
		return fmt.Errorf("usersession: %w", err)
	}
	s.accessGroup = def
	s.attributes = def.SessionAttributes()
	return nil
}

package usersession

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/secengine/internal/groups"
	"github.com/odyssey-erp/secengine/internal/security"
)

// Registry stores compiled sessions in Redis so that other processes can
// look them up by id.
type Registry struct {
	client *redis.Client
	ttl    time.Duration
	groups *groups.Repository
}

// NewRegistry constructs a Registry. When groupRepo is set, Get re-attaches
// the access group of the session's effective user.
func NewRegistry(client *redis.Client, ttl time.Duration, groupRepo *groups.Repository) *Registry {
	return &Registry{client: client, ttl: ttl, groups: groupRepo}
}

type permissionRecord struct {
	Type   security.PermissionType `json:"type"`
	Target string                  `json:"target"`
	Value  int                     `json:"value"`
}

type sessionPayload struct {
	ID              uuid.UUID             `json:"id"`
	User            security.User         `json:"user"`
	SubstitutedUser *security.User        `json:"substituted_user,omitempty"`
	Locale          string                `json:"locale"`
	System          bool                  `json:"system"`
	RoleNames       []string              `json:"role_names"`
	SuperRole       bool                  `json:"super_role"`
	Permissions     []permissionRecord    `json:"permissions"`
	Constraints     []security.Constraint `json:"constraints"`
	Attributes      map[string]any        `json:"attributes"`
}

func (r *Registry) sessionKey(id uuid.UUID) string {
	return "secengine:session:" + id.String()
}

func (r *Registry) userKey(id uuid.UUID) string {
	return "secengine:user-sessions:" + id.String()
}

// Add stores s, replacing any session with the same id.
func (r *Registry) Add(ctx context.Context, s *UserSession) error {
	payload := sessionPayload{
		ID:              s.id,
		User:            s.user,
		SubstitutedUser: s.substitutedUser,
		Locale:          s.locale.String(),
		System:          s.system,
		RoleNames:       s.RoleNames(),
		SuperRole:       s.superRole,
		Constraints:     s.Constraints(),
		Attributes:      s.attributesCopy(),
	}
	for k, v := range s.permissions {
		payload.Permissions = append(payload.Permissions, permissionRecord{Type: k.Type, Target: k.Target, Value: v})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("usersession: encode session: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(s.id), data, r.ttl)
	for _, userID := range s.userIDs() {
		pipe.SAdd(ctx, r.userKey(userID), s.id.String())
		if r.ttl > 0 {
			pipe.Expire(ctx, r.userKey(userID), r.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("usersession: store session: %w", err)
	}
	return nil
}

// Get loads a stored session. Attribute values come back in their JSON form.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*UserSession, error) {
	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("usersession: session %s: %w", id, security.ErrNoUserSession)
		}
		return nil, fmt.Errorf("usersession: load session: %w", err)
	}
	var payload sessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("usersession: decode session: %w", err)
	}

	locale, err := language.Parse(payload.Locale)
	if err != nil {
		locale = language.Und
	}
	s := &UserSession{
		id:              payload.ID,
		user:            payload.User,
		substitutedUser: payload.SubstitutedUser,
		locale:          locale,
		system:          payload.System,
		roleNames:       payload.RoleNames,
		superRole:       payload.SuperRole,
		permissions:     make(map[security.PermissionKey]int, len(payload.Permissions)),
		constraints:     payload.Constraints,
		attributes:      payload.Attributes,
	}
	if s.attributes == nil {
		s.attributes = make(map[string]any)
	}
	for _, p := range payload.Permissions {
		s.permissions[security.PermissionKey{Type: p.Type, Target: p.Target}] = p.Value
	}

	if r.groups != nil {
		def, err := r.accessGroup(ctx, s.CurrentOrSubstitutedUser())
		if err != nil {
			return nil, err
		}
		s.accessGroup = def
	}
	return s, nil
}

// accessGroup resolves the definition of the user's group. A group that no
// longer exists leaves the session without one.
func (r *Registry) accessGroup(ctx context.Context, user security.User) (*groups.AccessGroupDefinition, error) {
	var id groups.Identifier
	switch {
	case user.GroupID != nil:
		id = groups.ByID(*user.GroupID)
	case user.GroupName != "":
		id = groups.ByName(user.GroupName)
	default:
		return nil, nil
	}
	def, err := r.groups.Definition(ctx, id)
	if err != nil {
		if errors.Is(err, security.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("usersession: resolve access group: %w", err)
	}
	return def, nil
}

// Remove deletes a stored session. Removing an unknown id is not an error.
func (r *Registry) Remove(ctx context.Context, id uuid.UUID) error {
	s, err := r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, security.ErrNoUserSession) {
			return nil
		}
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	for _, userID := range s.userIDs() {
		pipe.SRem(ctx, r.userKey(userID), id.String())
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("usersession: remove session: %w", err)
	}
	return nil
}

// userIDs lists the users a session is indexed under.
func (s *UserSession) userIDs() []uuid.UUID {
	ids := []uuid.UUID{s.user.ID}
	if s.substitutedUser != nil && s.substitutedUser.ID != s.user.ID {
		ids = append(ids, s.substitutedUser.ID)
	}
	return ids
}

// RemoveUser deletes every stored session of a user, including sessions in
// which the user is substituted, and returns how many were removed.
func (r *Registry) RemoveUser(ctx context.Context, userID uuid.UUID) (int, error) {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("usersession: list user sessions: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, "secengine:session:"+id)
	}
	keys = append(keys, r.userKey(userID))
	removed, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("usersession: remove user sessions: %w", err)
	}
	// the index key itself is part of the count
	return int(removed) - 1, nil
}

// Sweep drops index entries whose session already expired and returns how
// many entries were removed.
func (r *Registry) Sweep(ctx context.Context) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, "secengine:user-sessions:*", 100).Iterator()
	for iter.Next(ctx) {
		index := iter.Val()
		ids, err := r.client.SMembers(ctx, index).Result()
		if err != nil {
			return removed, fmt.Errorf("usersession: sweep %s: %w", index, err)
		}
		for _, id := range ids {
			n, err := r.client.Exists(ctx, "secengine:session:"+id).Result()
			if err != nil {
				return removed, fmt.Errorf("usersession: sweep %s: %w", index, err)
			}
			if n > 0 {
				continue
			}
			if err := r.client.SRem(ctx, index, id).Err(); err != nil {
				return removed, fmt.Errorf("usersession: sweep %s: %w", index, err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("usersession: sweep: %w", err)
	}
	return removed, nil
}

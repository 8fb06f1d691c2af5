package security

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/secengine/internal/platform/db"
)

// Repository is the data access gateway used by session compilation and
// group resolution. All reads happen inside WithTx.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the reads available inside a transaction.
type TxRepository interface {
	// GetGroup returns the group with its own constraints and session attributes.
	GetGroup(ctx context.Context, id uuid.UUID) (Group, error)
	// ListHierarchyConstraints returns the constraints of every ancestor of the group.
	ListHierarchyConstraints(ctx context.Context, groupID uuid.UUID) ([]Constraint, error)
	// ListHierarchySessionAttributes returns the attributes of every ancestor of
	// the group, farthest ancestor first.
	ListHierarchySessionAttributes(ctx context.Context, groupID uuid.UUID) ([]SessionAttribute, error)
	// GetUserWithRoles returns the user and its roles with their permissions.
	GetUserWithRoles(ctx context.Context, userID uuid.UUID) (User, []Role, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetGroup(ctx context.Context, id uuid.UUID) (Group, error) {
	var g Group
	err := t.tx.QueryRow(ctx, `SELECT id, name, parent_id FROM sec_group WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, fmt.Errorf("group %s: %w", id, ErrNotFound)
		}
		return Group{}, err
	}
	g.Constraints, err = t.queryConstraints(ctx, `
		SELECT c.id, c.group_id, c.entity_name, c.operation_type, c.is_active,
		       c.where_clause, c.join_clause, c.script, c.code
		FROM sec_constraint c
		WHERE c.group_id = $1
		ORDER BY c.created_at, c.id`, id)
	if err != nil {
		return Group{}, err
	}
	g.SessionAttributes, err = t.queryAttributes(ctx, `
		SELECT a.id, a.group_id, a.name, a.datatype, a.str_value
		FROM sec_session_attr a
		WHERE a.group_id = $1
		ORDER BY a.created_at, a.id`, id)
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (t *txRepository) ListHierarchyConstraints(ctx context.Context, groupID uuid.UUID) ([]Constraint, error) {
	return t.queryConstraints(ctx, `
		SELECT c.id, c.group_id, c.entity_name, c.operation_type, c.is_active,
		       c.where_clause, c.join_clause, c.script, c.code
		FROM sec_group_hierarchy h
		JOIN sec_constraint c ON c.group_id = h.parent_id
		WHERE h.group_id = $1
		ORDER BY h.hierarchy_level DESC, c.created_at, c.id`, groupID)
}

func (t *txRepository) ListHierarchySessionAttributes(ctx context.Context, groupID uuid.UUID) ([]SessionAttribute, error) {
	return t.queryAttributes(ctx, `
		SELECT a.id, a.group_id, a.name, a.datatype, a.str_value
		FROM sec_group_hierarchy h
		JOIN sec_session_attr a ON a.group_id = h.parent_id
		WHERE h.group_id = $1
		ORDER BY h.hierarchy_level DESC, a.created_at, a.id`, groupID)
}

func (t *txRepository) GetUserWithRoles(ctx context.Context, userID uuid.UUID) (User, []Role, error) {
	var (
		u         User
		groupName *string
	)
	err := t.tx.QueryRow(ctx, `
		SELECT id, login, name, group_id, group_name, tenant_id
		FROM sec_user WHERE id = $1`, userID).
		Scan(&u.ID, &u.Login, &u.Name, &u.GroupID, &groupName, &u.TenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return User{}, nil, err
	}
	if groupName != nil {
		u.GroupName = *groupName
	}

	rows, err := t.tx.Query(ctx, `
		SELECT r.id, r.name, r.role_type
		FROM sec_user_role ur
		JOIN sec_role r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY ur.created_at, r.name`, userID)
	if err != nil {
		return User{}, nil, err
	}
	var roles []Role
	index := make(map[uuid.UUID]int)
	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Type); err != nil {
			rows.Close()
			return User{}, nil, err
		}
		index[role.ID] = len(roles)
		ids = append(ids, role.ID)
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return User{}, nil, err
	}
	if len(ids) == 0 {
		return u, roles, nil
	}

	permRows, err := t.tx.Query(ctx, `
		SELECT p.id, p.role_id, p.permission_type, p.target, p.value
		FROM sec_permission p
		WHERE p.role_id = ANY($1)
		ORDER BY p.created_at, p.id`, ids)
	if err != nil {
		return User{}, nil, err
	}
	defer permRows.Close()
	for permRows.Next() {
		var (
			p   Permission
			typ *int
		)
		if err := permRows.Scan(&p.ID, &p.RoleID, &typ, &p.Target, &p.Value); err != nil {
			return User{}, nil, err
		}
		if typ != nil {
			p.Type = PermissionType(*typ)
		}
		i := index[p.RoleID]
		roles[i].Permissions = append(roles[i].Permissions, p)
	}
	if err := permRows.Err(); err != nil {
		return User{}, nil, err
	}
	return u, roles, nil
}

func (t *txRepository) queryConstraints(ctx context.Context, query string, args ...any) ([]Constraint, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Constraint
	for rows.Next() {
		var (
			c                         Constraint
			op                        string
			where, join, script, code *string
		)
		if err := rows.Scan(&c.ID, &c.GroupID, &c.EntityName, &op, &c.IsActive, &where, &join, &script, &code); err != nil {
			return nil, err
		}
		c.OperationType = ConstraintOperationType(op)
		c.WhereClause = deref(where)
		c.JoinClause = deref(join)
		c.Script = deref(script)
		c.Code = deref(code)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *txRepository) queryAttributes(ctx context.Context, query string, args ...any) ([]SessionAttribute, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionAttribute
	for rows.Next() {
		var (
			a     SessionAttribute
			value *string
		)
		if err := rows.Scan(&a.ID, &a.GroupID, &a.Name, &a.Datatype, &value); err != nil {
			return nil, err
		}
		a.StringValue = deref(value)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Repository = (*PGRepository)(nil)

package security

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/secengine/internal/platform/db"
)

// Migration represents a schema migration of the security tables.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the security schema migrations in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create groups and hierarchy",
			SQL: `
				CREATE TABLE IF NOT EXISTS sec_group (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					parent_id UUID REFERENCES sec_group(id) ON DELETE RESTRICT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS sec_group_hierarchy (
					group_id UUID NOT NULL REFERENCES sec_group(id) ON DELETE CASCADE,
					parent_id UUID NOT NULL REFERENCES sec_group(id) ON DELETE CASCADE,
					hierarchy_level INT NOT NULL CHECK (hierarchy_level > 0),
					PRIMARY KEY (group_id, parent_id)
				);
			`,
		},
		{
			Version:     2,
			Description: "Create constraints and session attributes",
			SQL: `
				CREATE TABLE IF NOT EXISTS sec_constraint (
					id UUID PRIMARY KEY,
					group_id UUID NOT NULL REFERENCES sec_group(id) ON DELETE CASCADE,
					entity_name VARCHAR(255) NOT NULL,
					operation_type VARCHAR(20) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					where_clause TEXT,
					join_clause TEXT,
					script TEXT,
					code TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sec_constraint_group ON sec_constraint(group_id);

				CREATE TABLE IF NOT EXISTS sec_session_attr (
					id UUID PRIMARY KEY,
					group_id UUID NOT NULL REFERENCES sec_group(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					datatype VARCHAR(40) NOT NULL,
					str_value TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sec_session_attr_group ON sec_session_attr(group_id);
			`,
		},
		{
			Version:     3,
			Description: "Create roles, permissions and users",
			SQL: `
				CREATE TABLE IF NOT EXISTS sec_role (
					id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					role_type INT NOT NULL DEFAULT 0
				);

				CREATE TABLE IF NOT EXISTS sec_permission (
					id UUID PRIMARY KEY,
					role_id UUID NOT NULL REFERENCES sec_role(id) ON DELETE CASCADE,
					permission_type INT,
					target VARCHAR(500) NOT NULL,
					value INT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_sec_permission_role ON sec_permission(role_id);

				CREATE TABLE IF NOT EXISTS sec_user (
					id UUID PRIMARY KEY,
					login VARCHAR(100) NOT NULL UNIQUE,
					name VARCHAR(255) NOT NULL DEFAULT '',
					group_id UUID REFERENCES sec_group(id) ON DELETE RESTRICT,
					group_name VARCHAR(255),
					tenant_id VARCHAR(255)
				);

				CREATE TABLE IF NOT EXISTS sec_user_role (
					user_id UUID NOT NULL REFERENCES sec_user(id) ON DELETE CASCADE,
					role_id UUID NOT NULL REFERENCES sec_role(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, role_id)
				);
			`,
		},
	}
}

// Migrate applies every migration not yet recorded in sec_schema_migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sec_schema_migrations (
			version INT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("security: create migrations table: %w", err)
	}
	for _, m := range Migrations() {
		err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
			var applied bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sec_schema_migrations WHERE version = $1)`, m.Version).Scan(&applied); err != nil {
				return err
			}
			if applied {
				return nil
			}
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO sec_schema_migrations (version) VALUES ($1)`, m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("security: migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
)

// RepositoryPort is the persistence surface the Service needs.
type RepositoryPort interface {
	GrantStore
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]Permission, error)
	EnsurePermission(ctx context.Context, name, description string) (Permission, error)
	SetRolePermissions(ctx context.Context, roleID int64, names []string) error
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) (bool, error)
	GrantPermission(ctx context.Context, userID int64, name string) error
	RevokePermission(ctx context.Context, userID int64, name string) (bool, error)
}

// Repository persists roles, permissions and assignments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// PrincipalGrants loads direct and role permissions of a user.
func (r *Repository) PrincipalGrants(ctx context.Context, userID int64) (Grants, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return Grants{}, err
	}
	if !exists {
		return Grants{}, ErrNotFound
	}

	grants := Grants{Roles: map[string][]string{}}
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM user_permissions up
JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1
ORDER BY p.name`, userID)
	if err != nil {
		return Grants{}, err
	}
	grants.Direct, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Grants{}, err
	}

	rows, err = r.pool.Query(ctx, `SELECT r.name, p.name FROM user_roles ur
JOIN roles r ON r.id = ur.role_id
LEFT JOIN role_permissions rp ON rp.role_id = r.id
LEFT JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id = $1
ORDER BY r.name, p.name`, userID)
	if err != nil {
		return Grants{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		var perm *string
		if err := rows.Scan(&role, &perm); err != nil {
			return Grants{}, err
		}
		if _, ok := grants.Roles[role]; !ok {
			grants.Roles[role] = []string{}
		}
		if perm != nil {
			grants.Roles[role] = append(grants.Roles[role], *perm)
		}
	}
	return grants, rows.Err()
}

const roleColumns = `r.id, r.name, r.description, r.translations, r.created_at, r.updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	var translations []byte
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &translations, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	if len(translations) > 0 {
		if err := json.Unmarshal(translations, &role.Translations); err != nil {
			return Role{}, fmt.Errorf("rbac: decode role translations: %w", err)
		}
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles r ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole fetches a role and its permission names.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM role_permissions rp
JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1 ORDER BY p.name`, id)
	if err != nil {
		return Role{}, err
	}
	role.Permissions, err = pgx.CollectRows(rows, pgx.RowTo[string])
	return role, err
}

// CreateRole inserts a role. Duplicate names surface as db.ErrConstraintViolation.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	translations, err := json.Marshal(role.Translations)
	if err != nil {
		return Role{}, err
	}
	created, err := scanRole(r.pool.QueryRow(ctx, `INSERT INTO roles AS r (name, description, translations)
VALUES ($1, $2, $3)
RETURNING `+roleColumns, role.Name, role.Description, translations))
	if err != nil {
		return Role{}, db.MapError(err)
	}
	return created, nil
}

// UpdateRole updates name, description and translations.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	translations, err := json.Marshal(role.Translations)
	if err != nil {
		return Role{}, err
	}
	updated, err := scanRole(r.pool.QueryRow(ctx, `UPDATE roles AS r
SET name = $2, description = $3, translations = $4, updated_at = NOW()
WHERE r.id = $1
RETURNING `+roleColumns, role.ID, role.Name, role.Description, translations))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrNotFound
		}
		return Role{}, db.MapError(err)
	}
	return updated, nil
}

// DeleteRole removes a role by ID. Returns ErrNotFound if nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return db.MapError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[Permission])
}

// EnsurePermission upserts a permission, keeping an existing description
// when the new one is empty.
func (r *Repository) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = COALESCE(NULLIF(EXCLUDED.description, ''), permissions.description)
RETURNING id, name, description`, name, description).Scan(&p.ID, &p.Name, &p.Description)
	if err != nil {
		return Permission{}, db.MapError(err)
	}
	return p, nil
}

// SetRolePermissions replaces the permission set of a role. Unknown
// permission names fail the whole operation with ErrNotFound.
func (r *Repository) SetRolePermissions(ctx context.Context, roleID int64, names []string) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		var locked int64
		if err := tx.QueryRow(ctx, `SELECT id FROM roles WHERE id = $1 FOR UPDATE`, roleID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if len(names) == 0 {
			return nil
		}
		tag, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
SELECT $1, id FROM permissions WHERE name = ANY($2)`, roleID, names)
		if err != nil {
			return db.MapError(err)
		}
		if int(tag.RowsAffected()) != len(names) {
			return fmt.Errorf("%w: unknown permission in %v", ErrNotFound, names)
		}
		return nil
	})
}

// AssignRole links a role to a user; assigning twice is a no-op.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, roleID)
	return db.MapError(err)
}

// RemoveRole unlinks a role; false when it was not assigned.
func (r *Repository) RemoveRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GrantPermission gives a user a permission directly.
func (r *Repository) GrantPermission(ctx context.Context, userID int64, name string) error {
	var permID int64
	if err := r.pool.QueryRow(ctx, `SELECT id FROM permissions WHERE name = $1`, name).Scan(&permID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: permission %q", ErrNotFound, name)
		}
		return err
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, userID, permID)
	return db.MapError(err)
}

// RevokePermission removes a direct grant; false when it did not exist.
func (r *Repository) RevokePermission(ctx context.Context, userID int64, name string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_permissions
WHERE user_id = $1 AND permission_id = (SELECT id FROM permissions WHERE name = $2)`, userID, name)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

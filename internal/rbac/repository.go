package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deelflow/deelflow/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	constraintRoleNameKey = "roles_name_key"
	constraintPermission  = "role_permissions_permission_fkey"
	constraintUserRole    = "user_roles_role_id_fkey"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPermissions returns the persisted permission registry in seed order.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, label, grp FROM permissions ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Name, &p.Label, &p.Group); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// CreateRole inserts a role and its permission set in one transaction.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`INSERT INTO roles (id, name, label) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
			role.ID, role.Name, role.Label,
		).Scan(&role.CreatedAt, &role.UpdatedAt); err != nil {
			return translate(err)
		}
		return insertRolePermissions(ctx, tx, role.ID, role.Permissions)
	})
	if err != nil {
		return Role{}, err
	}
	role.Permissions = sortedCopy(role.Permissions)
	return role, nil
}

const selectRoles = `
SELECT r.id::text, r.name, r.label, r.created_at, r.updated_at,
       COALESCE(array_agg(rp.permission ORDER BY rp.permission) FILTER (WHERE rp.permission IS NOT NULL), '{}')
FROM roles r
LEFT JOIN role_permissions rp ON rp.role_id = r.id`

// ListRoles returns all roles in insertion order.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, selectRoles+` GROUP BY r.seq, r.id ORDER BY r.seq`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// GetRole fetches a role by ID.
func (r *Repository) GetRole(ctx context.Context, id string) (Role, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Role{}, ErrRoleNotFound
	}
	return r.getRole(ctx, `WHERE r.id = $1`, id)
}

// GetRoleByName fetches a role by its unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return r.getRole(ctx, `WHERE r.name = $1`, name)
}

func (r *Repository) getRole(ctx context.Context, where string, arg string) (Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, selectRoles+" "+where+` GROUP BY r.seq, r.id`, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, ErrRoleNotFound
		}
		return Role{}, err
	}
	return role, nil
}

// ReplaceRolePermissions swaps the permission set of a role inside one
// transaction. The role row is locked first so concurrent replaces of the same
// role queue up and the last committed writer wins; readers only ever see a
// committed set.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, id string, perms []string) (Role, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Role{}, ErrRoleNotFound
	}
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrRoleNotFound
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		return insertRolePermissions(ctx, tx, id, perms)
	})
	if err != nil {
		return Role{}, err
	}
	return r.GetRole(ctx, id)
}

// DeleteRole removes a role. Bound roles are rejected by the user_roles
// foreign key.
func (r *Repository) DeleteRole(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrRoleNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrRoleInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// AssignRole binds a role to a user. Existing bindings are left untouched.
func (r *Repository) AssignRole(ctx context.Context, userID, roleID string) error {
	if _, err := uuid.Parse(roleID); err != nil {
		return ErrRoleNotFound
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2) ON CONFLICT (user_id, role_id) DO NOTHING`,
		userID, roleID)
	return translate(err)
}

// RevokeRole removes a binding if present.
func (r *Repository) RevokeRole(ctx context.Context, userID, roleID string) error {
	if _, err := uuid.Parse(roleID); err != nil {
		return nil
	}
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// ReplaceUserRoles swaps the full role set of a user.
func (r *Repository) ReplaceUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	for _, id := range roleIDs {
		if _, err := uuid.Parse(id); err != nil {
			return ErrRoleNotFound
		}
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return err
		}
		if len(roleIDs) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role_id)
			 SELECT $1, rid::uuid FROM unnest($2::text[]) AS rid
			 ON CONFLICT (user_id, role_id) DO NOTHING`,
			userID, roleIDs)
		return translate(err)
	})
}

// RolesForUser returns the role IDs bound to a user in assignment order.
func (r *Repository) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id::text FROM user_roles WHERE user_id = $1 ORDER BY created_at, role_id`, userID)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// CountUsersByRole returns the number of bound users per role ID.
func (r *Repository) CountUsersByRole(ctx context.Context) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT role_id::text, COUNT(*) FROM user_roles GROUP BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}

// PermissionSets loads the permission set of each role with a single
// statement, so every set reflects one committed snapshot.
func (r *Repository) PermissionSets(ctx context.Context, roleIDs []string) (map[string][]string, error) {
	sets := make(map[string][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return sets, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT r.id::text, rp.permission
		 FROM roles r
		 LEFT JOIN role_permissions rp ON rp.role_id = r.id
		 WHERE r.id = ANY($1::text[]::uuid[])`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			perm *string
		)
		if err := rows.Scan(&id, &perm); err != nil {
			return nil, err
		}
		if _, ok := sets[id]; !ok {
			sets[id] = []string{}
		}
		if perm != nil {
			sets[id] = append(sets[id], *perm)
		}
	}
	return sets, rows.Err()
}

func insertRolePermissions(ctx context.Context, tx pgx.Tx, roleID string, perms []string) error {
	if len(perms) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission)
		 SELECT $1, p FROM unnest($2::text[]) AS p
		 ON CONFLICT (role_id, permission) DO NOTHING`,
		roleID, perms)
	return translate(err)
}

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Label, &role.CreatedAt, &role.UpdatedAt, &role.Permissions); err != nil {
		return Role{}, err
	}
	return role, nil
}

// translate maps constraint violations onto domain errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraintRoleNameKey:
		return ErrDuplicateRoleName
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraintPermission:
		return ErrUnknownPermission
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == constraintUserRole:
		return ErrRoleNotFound
	default:
		return fmt.Errorf("rbac: %s: %w", pgErr.ConstraintName, err)
	}
}

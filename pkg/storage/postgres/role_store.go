package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/porthorian/openguard/pkg/storage"
)

const (
	putRoleQuery = `
INSERT INTO openguard.role (
  name, description, date_added
) VALUES ($1, $2, $3)
ON CONFLICT (name) DO UPDATE
SET
  description = EXCLUDED.description,
  date_modified = EXCLUDED.date_added
`

	putPermissionQuery = `
INSERT INTO openguard.permission (
  name, date_added
) VALUES ($1, $2)
ON CONFLICT (name) DO NOTHING
`

	deleteRolePermissionsQuery = `DELETE FROM openguard.role_permission WHERE role_name = $1`

	putRolePermissionQuery = `
INSERT INTO openguard.role_permission (
  role_name, permission_name, date_added
) VALUES ($1, $2, $3)
`

	getRoleQuery = `
SELECT
  r.name, r.description, rp.permission_name
FROM openguard.role r
LEFT JOIN openguard.role_permission rp ON rp.role_name = r.name
WHERE r.name = $1
`

	deleteRoleQuery = `DELETE FROM openguard.role WHERE name = $1`

	deleteSubjectRolesQuery = `DELETE FROM openguard.subject_role WHERE subject_id = $1`

	putSubjectRoleQuery = `
INSERT INTO openguard.subject_role (
  subject_id, role_name, date_added
) VALUES ($1, $2, $3)
`
)

// PutRole upserts the role and replaces its permission set.
func (a *Adapter) PutRole(ctx context.Context, record storage.RoleRecord) error {
	name := strings.TrimSpace(record.Name)
	if name == "" {
		return errEmptyID
	}
	permissions := storage.SortedUnique(record.Permissions)

	return a.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		if _, err := tx.ExecContext(ctx, putRoleQuery, name, nullString(record.Description), now); err != nil {
			return fmt.Errorf("put role %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, deleteRolePermissionsQuery, name); err != nil {
			return fmt.Errorf("clear permissions of role %q: %w", name, err)
		}
		for _, permission := range permissions {
			if _, err := tx.ExecContext(ctx, putPermissionQuery, permission, now); err != nil {
				return fmt.Errorf("put permission %q: %w", permission, err)
			}
			if _, err := tx.ExecContext(ctx, putRolePermissionQuery, name, permission, now); err != nil {
				return fmt.Errorf("grant %q to role %q: %w", permission, name, err)
			}
		}
		return nil
	})
}

func (a *Adapter) GetRole(ctx context.Context, name string) (storage.RoleRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.RoleRecord{}, err
	}

	rows, err := a.stmts.getRole.QueryContext(ctx, name)
	if err != nil {
		return storage.RoleRecord{}, err
	}
	defer rows.Close()

	var (
		record      storage.RoleRecord
		found       bool
		permissions []string
	)
	for rows.Next() {
		var (
			roleName    string
			description sql.NullString
			permission  sql.NullString
		)
		if err := rows.Scan(&roleName, &description, &permission); err != nil {
			return storage.RoleRecord{}, err
		}
		if !found {
			record.Name = roleName
			record.Description = description.String
			found = true
		}
		if permission.Valid {
			permissions = append(permissions, permission.String)
		}
	}
	if err := rows.Err(); err != nil {
		return storage.RoleRecord{}, err
	}
	if !found {
		return storage.RoleRecord{}, storage.ErrNotFound
	}

	record.Permissions = storage.SortedUnique(permissions)
	return record, nil
}

func (a *Adapter) DeleteRole(ctx context.Context, name string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteRole.ExecContext(ctx, name)
	return err
}

func (a *Adapter) AssignRoles(ctx context.Context, subjectID string, roles []string) error {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return errEmptyID
	}
	roles = storage.SortedUnique(roles)

	return a.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		if _, err := tx.ExecContext(ctx, deleteSubjectRolesQuery, subjectID); err != nil {
			return fmt.Errorf("clear roles of subject %q: %w", subjectID, err)
		}
		for _, role := range roles {
			if _, err := tx.ExecContext(ctx, putSubjectRoleQuery, subjectID, role, now); err != nil {
				return fmt.Errorf("assign role %q to subject %q: %w", role, subjectID, err)
			}
		}
		return nil
	})
}

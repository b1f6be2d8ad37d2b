package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/porthorian/openguard/pkg/storage"
)

// One statement so the subject row, its roles and their permissions all come
// from the same read.
const loadIdentityQuery = `
SELECT
  s.id, s.display_name, s.email, s.status, s.date_added, s.date_modified,
  sr.role_name, rp.permission_name
FROM openguard.subject s
LEFT JOIN openguard.subject_role sr ON sr.subject_id = s.id
LEFT JOIN openguard.role_permission rp ON rp.role_name = sr.role_name
WHERE s.id = $1
`

func (a *Adapter) LoadIdentity(ctx context.Context, subjectID string) (storage.IdentityRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.IdentityRecord{}, err
	}

	rows, err := a.stmts.loadIdentity.QueryContext(ctx, subjectID)
	if err != nil {
		return storage.IdentityRecord{}, err
	}
	defer rows.Close()

	var (
		record      storage.IdentityRecord
		found       bool
		roles       []string
		permissions []string
	)
	for rows.Next() {
		var (
			subject    storage.SubjectRecord
			role       sql.NullString
			permission sql.NullString
		)
		if err := scanSubject(rows, &subject, &role, &permission); err != nil {
			return storage.IdentityRecord{}, err
		}

		if !found {
			record.Subject = subject
			found = true
		}
		if role.Valid {
			roles = append(roles, role.String)
		}
		if permission.Valid {
			permissions = append(permissions, permission.String)
		}
	}

	if err := rows.Err(); err != nil {
		return storage.IdentityRecord{}, err
	}
	if !found {
		return storage.IdentityRecord{}, storage.ErrNotFound
	}

	record.Roles = storage.SortedUnique(roles)
	record.Permissions = storage.SortedUnique(permissions)
	return record, nil
}

func scanSubject(s scanner, subject *storage.SubjectRecord, extra ...any) error {
	var (
		displayName  sql.NullString
		email        sql.NullString
		status       string
		dateModified sql.NullTime
	)

	dest := []any{&subject.ID, &displayName, &email, &status, &subject.DateAdded, &dateModified}
	dest = append(dest, extra...)
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		return err
	}

	subject.DisplayName = displayName.String
	subject.Email = email.String
	subject.Status = storage.SubjectStatus(status)
	subject.DateAdded = subject.DateAdded.UTC()
	if dateModified.Valid {
		t := dateModified.Time.UTC()
		subject.DateModified = &t
	}
	return nil
}

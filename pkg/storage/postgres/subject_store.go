package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/porthorian/openguard/pkg/storage"
)

var errEmptyID = errors.New("postgres adapter: id is required")

const (
	putSubjectQuery = `
INSERT INTO openguard.subject (
  id, display_name, email, status, date_added, date_modified
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE
SET
  display_name = EXCLUDED.display_name,
  email = EXCLUDED.email,
  status = EXCLUDED.status,
  date_modified = EXCLUDED.date_modified
`

	getSubjectQuery = `
SELECT
  id, display_name, email, status, date_added, date_modified
FROM openguard.subject
WHERE id = $1
`

	deleteSubjectQuery = `DELETE FROM openguard.subject WHERE id = $1`
)

func (a *Adapter) PutSubject(ctx context.Context, record storage.SubjectRecord) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	id := strings.TrimSpace(record.ID)
	if id == "" {
		return errEmptyID
	}

	dateAdded := record.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	dateModified := time.Now().UTC()
	if record.DateModified != nil {
		dateModified = record.DateModified.UTC()
	}

	status := record.Status
	if status == "" {
		status = storage.SubjectStatusActive
	}

	_, err := a.stmts.putSubject.ExecContext(
		ctx,
		id,
		nullString(record.DisplayName),
		nullString(record.Email),
		string(status),
		dateAdded,
		dateModified,
	)
	return err
}

func (a *Adapter) GetSubject(ctx context.Context, id string) (storage.SubjectRecord, error) {
	if err := a.requirePreparedStatements(); err != nil {
		return storage.SubjectRecord{}, err
	}

	var record storage.SubjectRecord
	if err := scanSubject(a.stmts.getSubject.QueryRowContext(ctx, id), &record); err != nil {
		return storage.SubjectRecord{}, err
	}
	return record, nil
}

// DeleteSubject removes the subject; role assignments cascade.
func (a *Adapter) DeleteSubject(ctx context.Context, id string) error {
	if err := a.requirePreparedStatements(); err != nil {
		return err
	}

	_, err := a.stmts.deleteSubject.ExecContext(ctx, id)
	return err
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}

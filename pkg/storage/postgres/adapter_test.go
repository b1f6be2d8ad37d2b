package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/porthorian/openguard/pkg/storage"
)

var identityColumns = []string{
	"id", "display_name", "email", "status", "date_added", "date_modified", "role_name", "permission_name",
}

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock, map[string]*sqlmock.ExpectedPrepare) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	prepared := make(map[string]*sqlmock.ExpectedPrepare, len(fixedPrepareStatementSpecs))
	for _, spec := range fixedPrepareStatementSpecs {
		prepared[spec.label] = mock.ExpectPrepare(regexp.QuoteMeta(spec.query))
	}

	adapter, err := NewAdapter(db)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter, mock, prepared
}

func TestNewAdapterNilDB(t *testing.T) {
	if _, err := NewAdapter(nil); !errors.Is(err, ErrNilDB) {
		t.Fatalf("expected ErrNilDB, got %v", err)
	}
}

func TestNewAdapterPrepareFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectPrepare(regexp.QuoteMeta(loadIdentityQuery)).WillReturnError(errors.New("boom"))

	if _, err := NewAdapter(db); err == nil {
		t.Fatal("expected prepare failure")
	}
}

func TestZeroAdapterIsNotInitialized(t *testing.T) {
	adapter := &Adapter{}
	if _, err := adapter.LoadIdentity(context.Background(), "u1"); !errors.Is(err, ErrNilDB) {
		t.Fatalf("expected ErrNilDB, got %v", err)
	}
}

func TestLoadIdentityFlattensJoinedRows(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)
	added := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	rows := sqlmock.NewRows(identityColumns).
		AddRow("u1", "Ada", "ada@example.com", "active", added, nil, "admin", "users.delete").
		AddRow("u1", "Ada", "ada@example.com", "active", added, nil, "admin", "dashboard.view").
		AddRow("u1", "Ada", "ada@example.com", "active", added, nil, "user", "dashboard.view")
	prepared["load identity"].ExpectQuery().WithArgs("u1").WillReturnRows(rows)

	record, err := adapter.LoadIdentity(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}

	if record.Subject.ID != "u1" || record.Subject.DisplayName != "Ada" || record.Subject.Email != "ada@example.com" {
		t.Fatalf("unexpected subject: %+v", record.Subject)
	}
	if !record.Subject.Usable() {
		t.Fatalf("expected active subject, got %q", record.Subject.Status)
	}
	if record.Subject.DateModified != nil {
		t.Fatalf("expected nil date modified, got %v", record.Subject.DateModified)
	}
	if got := record.Roles; len(got) != 2 || got[0] != "admin" || got[1] != "user" {
		t.Fatalf("unexpected roles: %v", got)
	}
	if got := record.Permissions; len(got) != 2 || got[0] != "dashboard.view" || got[1] != "users.delete" {
		t.Fatalf("unexpected permissions: %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadIdentityWithoutRoles(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	rows := sqlmock.NewRows(identityColumns).
		AddRow("u2", nil, nil, "active", time.Now().UTC(), nil, nil, nil)
	prepared["load identity"].ExpectQuery().WithArgs("u2").WillReturnRows(rows)

	record, err := adapter.LoadIdentity(context.Background(), "u2")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if len(record.Roles) != 0 || len(record.Permissions) != 0 {
		t.Fatalf("expected no grants, got roles=%v permissions=%v", record.Roles, record.Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadIdentityNotFound(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	prepared["load identity"].ExpectQuery().WithArgs("ghost").WillReturnRows(sqlmock.NewRows(identityColumns))

	_, err := adapter.LoadIdentity(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadIdentityQueryError(t *testing.T) {
	adapter, _, prepared := newMockAdapter(t)
	queryErr := errors.New("connection reset")

	prepared["load identity"].ExpectQuery().WithArgs("u1").WillReturnError(queryErr)

	_, err := adapter.LoadIdentity(context.Background(), "u1")
	if !errors.Is(err, queryErr) {
		t.Fatalf("expected query error, got %v", err)
	}
}

func TestGetSubjectNotFound(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	prepared["get subject"].ExpectQuery().WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows(identityColumns[:6]))

	_, err := adapter.GetSubject(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutSubjectDefaultsStatus(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	prepared["put subject"].ExpectExec().
		WithArgs("u1", sqlmock.AnyArg(), sqlmock.AnyArg(), "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := adapter.PutSubject(context.Background(), storage.SubjectRecord{ID: " u1 "}); err != nil {
		t.Fatalf("put subject: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutSubjectRequiresID(t *testing.T) {
	adapter, _, _ := newMockAdapter(t)

	if err := adapter.PutSubject(context.Background(), storage.SubjectRecord{}); err == nil {
		t.Fatal("expected error for empty id")
	}
}

func TestGetRoleCollectsPermissions(t *testing.T) {
	adapter, mock, prepared := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"name", "description", "permission_name"}).
		AddRow("editor", "Edits things", "posts.write").
		AddRow("editor", "Edits things", "posts.read")
	prepared["get role"].ExpectQuery().WithArgs("editor").WillReturnRows(rows)

	role, err := adapter.GetRole(context.Background(), "editor")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if role.Name != "editor" || role.Description != "Edits things" {
		t.Fatalf("unexpected role: %+v", role)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "posts.read" || role.Permissions[1] != "posts.write" {
		t.Fatalf("unexpected permissions: %v", role.Permissions)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPutRoleReplacesPermissions(t *testing.T) {
	adapter, mock, _ := newMockAdapter(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(putRoleQuery)).
		WithArgs("editor", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(deleteRolePermissionsQuery)).
		WithArgs("editor").
		WillReturnResult(sqlmock.NewResult(0, 3))
	for _, permission := range []string{"posts.read", "posts.write"} {
		mock.ExpectExec(regexp.QuoteMeta(putPermissionQuery)).
			WithArgs(permission, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta(putRolePermissionQuery)).
			WithArgs("editor", permission, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	err := adapter.PutRole(context.Background(), storage.RoleRecord{
		Name:        "editor",
		Permissions: []string{"posts.write", "posts.read", "posts.write"},
	})
	if err != nil {
		t.Fatalf("put role: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAssignRolesRollsBackOnFailure(t *testing.T) {
	adapter, mock, _ := newMockAdapter(t)
	insertErr := errors.New("foreign key violation")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(deleteSubjectRolesQuery)).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(putSubjectRoleQuery)).
		WithArgs("u1", "ghost", sqlmock.AnyArg()).
		WillReturnError(insertErr)
	mock.ExpectRollback()

	err := adapter.AssignRoles(context.Background(), "u1", []string{"ghost"})
	if !errors.Is(err, insertErr) {
		t.Fatalf("expected insert error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/porthorian/openguard/pkg/storage"
)

type Adapter struct {
	db *sql.DB

	stmts preparedStatements
}

type preparedStatements struct {
	loadIdentity *sql.Stmt

	putSubject    *sql.Stmt
	getSubject    *sql.Stmt
	deleteSubject *sql.Stmt

	getRole    *sql.Stmt
	deleteRole *sql.Stmt
}

type prepareStatementSpec struct {
	label  string
	query  string
	assign func(*preparedStatements, *sql.Stmt)
}

var fixedPrepareStatementSpecs = []prepareStatementSpec{
	{
		label: "load identity",
		query: loadIdentityQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.loadIdentity = stmt
		},
	},
	{
		label: "put subject",
		query: putSubjectQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.putSubject = stmt
		},
	},
	{
		label: "get subject",
		query: getSubjectQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getSubject = stmt
		},
	},
	{
		label: "delete subject",
		query: deleteSubjectQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteSubject = stmt
		},
	},
	{
		label: "get role",
		query: getRoleQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.getRole = stmt
		},
	},
	{
		label: "delete role",
		query: deleteRoleQuery,
		assign: func(ps *preparedStatements, stmt *sql.Stmt) {
			ps.deleteRole = stmt
		},
	},
}

var (
	ErrNilDB                 = errors.New("postgres adapter: db is nil")
	ErrAdapterNotInitialized = errors.New("postgres adapter: adapter not initialized")
)

var _ storage.Store = (*Adapter)(nil)

func NewAdapter(db *sql.DB) (*Adapter, error) {
	adapter := &Adapter{
		db: db,
	}

	if err := adapter.prepareStatements(); err != nil {
		_ = adapter.Close()
		return nil, err
	}

	return adapter, nil
}

// Close releases prepared statements. The *sql.DB belongs to the caller.
func (a *Adapter) Close() error {
	if a == nil {
		return nil
	}

	return closeStatements(
		a.stmts.loadIdentity,
		a.stmts.putSubject,
		a.stmts.getSubject,
		a.stmts.deleteSubject,
		a.stmts.getRole,
		a.stmts.deleteRole,
	)
}

func (a *Adapter) prepareStatements() (err error) {
	db, err := a.requireDB()
	if err != nil {
		return err
	}

	prepared := make([]*sql.Stmt, 0, len(fixedPrepareStatementSpecs))
	defer func() {
		if err != nil {
			_ = closeStatements(prepared...)
			a.stmts = preparedStatements{}
		}
	}()

	for _, spec := range fixedPrepareStatementSpecs {
		stmt, prepErr := db.Prepare(spec.query)
		if prepErr != nil {
			err = fmt.Errorf("postgres adapter: prepare %s statement: %w", spec.label, prepErr)
			return err
		}
		prepared = append(prepared, stmt)
		spec.assign(&a.stmts, stmt)
	}
	return nil
}

func (a *Adapter) requirePreparedStatements() error {
	if _, err := a.requireDB(); err != nil {
		return err
	}

	if a.stmts.loadIdentity == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.putSubject == nil || a.stmts.getSubject == nil || a.stmts.deleteSubject == nil {
		return ErrAdapterNotInitialized
	}
	if a.stmts.getRole == nil || a.stmts.deleteRole == nil {
		return ErrAdapterNotInitialized
	}

	return nil
}

func (a *Adapter) requireDB() (*sql.DB, error) {
	if a == nil || a.db == nil {
		return nil, ErrNilDB
	}
	return a.db, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func closeStatements(stmts ...*sql.Stmt) error {
	var errs []error
	for _, stmt := range stmts {
		if stmt == nil {
			continue
		}
		if err := stmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package storage

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

type SubjectStatus string

const (
	SubjectStatusActive   SubjectStatus = "active"
	SubjectStatusDisabled SubjectStatus = "disabled"
)

type SubjectRecord struct {
	ID           string
	DateAdded    time.Time
	DateModified *time.Time
	DisplayName  string
	Email        string
	Status       SubjectStatus
}

// Usable reports whether the subject may authenticate. An empty status is
// treated as active.
func (r SubjectRecord) Usable() bool {
	return r.Status == "" || r.Status == SubjectStatusActive
}

type RoleRecord struct {
	Name        string
	Description string
	Permissions []string
}

// IdentityRecord is one read of a subject together with its role names and
// the union of those roles' permissions.
type IdentityRecord struct {
	Subject     SubjectRecord
	Roles       []string
	Permissions []string
}

type IdentityStore interface {
	// LoadIdentity returns ErrNotFound when no subject has the given id.
	LoadIdentity(ctx context.Context, subjectID string) (IdentityRecord, error)
}

type SubjectStore interface {
	PutSubject(ctx context.Context, record SubjectRecord) error
	GetSubject(ctx context.Context, id string) (SubjectRecord, error)
	DeleteSubject(ctx context.Context, id string) error
}

type RoleStore interface {
	PutRole(ctx context.Context, record RoleRecord) error
	GetRole(ctx context.Context, name string) (RoleRecord, error)
	DeleteRole(ctx context.Context, name string) error
}

type AssignmentStore interface {
	// AssignRoles replaces the subject's role set.
	AssignRoles(ctx context.Context, subjectID string, roles []string) error
}

type Store interface {
	IdentityStore
	SubjectStore
	RoleStore
	AssignmentStore
}

// SortedUnique trims, drops blanks, sorts and de-duplicates names.
func SortedUnique(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

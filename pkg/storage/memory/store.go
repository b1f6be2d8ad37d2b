// Package memory is an in-process storage backend for tests, examples and
// single-node demos.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/porthorian/openguard/pkg/storage"
)

var ErrEmptyID = errors.New("memory storage: id is required")

type Store struct {
	mu          sync.RWMutex
	subjects    map[string]storage.SubjectRecord
	roles       map[string]storage.RoleRecord
	assignments map[string][]string
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		subjects:    map[string]storage.SubjectRecord{},
		roles:       map[string]storage.RoleRecord{},
		assignments: map[string][]string{},
	}
}

func (s *Store) LoadIdentity(ctx context.Context, subjectID string) (storage.IdentityRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.IdentityRecord{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	subject, ok := s.subjects[subjectID]
	if !ok {
		return storage.IdentityRecord{}, storage.ErrNotFound
	}

	roles := s.assignments[subjectID]
	var permissions []string
	for _, name := range roles {
		permissions = append(permissions, s.roles[name].Permissions...)
	}

	return storage.IdentityRecord{
		Subject:     subject,
		Roles:       storage.SortedUnique(roles),
		Permissions: storage.SortedUnique(permissions),
	}, nil
}

func (s *Store) PutSubject(ctx context.Context, record storage.SubjectRecord) error {
	record.ID = strings.TrimSpace(record.ID)
	if record.ID == "" {
		return ErrEmptyID
	}

	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.subjects[record.ID]; ok {
		record.DateAdded = existing.DateAdded
		record.DateModified = &now
	} else if record.DateAdded.IsZero() {
		record.DateAdded = now
	}
	if record.Status == "" {
		record.Status = storage.SubjectStatusActive
	}

	s.subjects[record.ID] = record
	return nil
}

func (s *Store) GetSubject(ctx context.Context, id string) (storage.SubjectRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.subjects[id]
	if !ok {
		return storage.SubjectRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *Store) DeleteSubject(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.subjects, id)
	delete(s.assignments, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) PutRole(ctx context.Context, record storage.RoleRecord) error {
	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		return ErrEmptyID
	}
	record.Permissions = storage.SortedUnique(record.Permissions)

	s.mu.Lock()
	s.roles[record.Name] = record
	s.mu.Unlock()
	return nil
}

func (s *Store) GetRole(ctx context.Context, name string) (storage.RoleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.roles[name]
	if !ok {
		return storage.RoleRecord{}, storage.ErrNotFound
	}
	record.Permissions = append([]string(nil), record.Permissions...)
	return record, nil
}

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.roles, name)
	for subjectID, roles := range s.assignments {
		kept := roles[:0]
		for _, role := range roles {
			if role != name {
				kept = append(kept, role)
			}
		}
		s.assignments[subjectID] = kept
	}
	return nil
}

func (s *Store) AssignRoles(ctx context.Context, subjectID string, roles []string) error {
	roles = storage.SortedUnique(roles)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subjects[subjectID]; !ok {
		return fmt.Errorf("memory storage: assign roles to %q: %w", subjectID, storage.ErrNotFound)
	}
	for _, role := range roles {
		if _, ok := s.roles[role]; !ok {
			return fmt.Errorf("memory storage: role %q: %w", role, storage.ErrNotFound)
		}
	}

	s.assignments[subjectID] = roles
	return nil
}

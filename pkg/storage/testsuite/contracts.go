// Package testsuite holds the behaviour every storage.Store backend must share.
package testsuite

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/porthorian/openguard/pkg/storage"
)

type StoreFactory func(t *testing.T) storage.Store

func Run(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("LoadIdentityFlattensPermissions", func(t *testing.T) {
		testLoadIdentityFlattensPermissions(t, newStore(t))
	})
	t.Run("LoadIdentityNotFound", func(t *testing.T) {
		testLoadIdentityNotFound(t, newStore(t))
	})
	t.Run("LoadIdentityWithoutRoles", func(t *testing.T) {
		testLoadIdentityWithoutRoles(t, newStore(t))
	})
	t.Run("AssignRolesReplaces", func(t *testing.T) {
		testAssignRolesReplaces(t, newStore(t))
	})
	t.Run("DisabledSubjectIsLoaded", func(t *testing.T) {
		testDisabledSubjectIsLoaded(t, newStore(t))
	})
	t.Run("DeleteSubject", func(t *testing.T) {
		testDeleteSubject(t, newStore(t))
	})
}

func seed(t *testing.T, store storage.Store) {
	t.Helper()
	ctx := context.Background()

	roles := []storage.RoleRecord{
		{Name: "user", Permissions: []string{"dashboard.view"}},
		{Name: "editor", Permissions: []string{"posts.write", "dashboard.view"}},
		{Name: "admin", Permissions: []string{"users.read", "users.delete"}},
	}
	for _, role := range roles {
		if err := store.PutRole(ctx, role); err != nil {
			t.Fatalf("put role %s: %v", role.Name, err)
		}
	}

	if err := store.PutSubject(ctx, storage.SubjectRecord{ID: "u1", DisplayName: "Ada", Email: "ada@example.com"}); err != nil {
		t.Fatalf("put subject: %v", err)
	}
}

func testLoadIdentityFlattensPermissions(t *testing.T, store storage.Store) {
	ctx := context.Background()
	seed(t, store)

	if err := store.AssignRoles(ctx, "u1", []string{"user", "editor"}); err != nil {
		t.Fatalf("assign roles: %v", err)
	}

	record, err := store.LoadIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if record.Subject.ID != "u1" || record.Subject.Email != "ada@example.com" {
		t.Fatalf("unexpected subject %+v", record.Subject)
	}
	if !slices.Equal(record.Roles, []string{"editor", "user"}) {
		t.Fatalf("unexpected roles %v", record.Roles)
	}
	if !slices.Equal(record.Permissions, []string{"dashboard.view", "posts.write"}) {
		t.Fatalf("expected de-duplicated permission union, got %v", record.Permissions)
	}
}

func testLoadIdentityNotFound(t *testing.T, store storage.Store) {
	_, err := store.LoadIdentity(context.Background(), "nobody")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testLoadIdentityWithoutRoles(t *testing.T, store storage.Store) {
	seed(t, store)

	record, err := store.LoadIdentity(context.Background(), "u1")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if len(record.Roles) != 0 || len(record.Permissions) != 0 {
		t.Fatalf("expected no grants, got roles=%v permissions=%v", record.Roles, record.Permissions)
	}
}

func testAssignRolesReplaces(t *testing.T, store storage.Store) {
	ctx := context.Background()
	seed(t, store)

	if err := store.AssignRoles(ctx, "u1", []string{"admin"}); err != nil {
		t.Fatalf("assign roles: %v", err)
	}
	if err := store.AssignRoles(ctx, "u1", []string{"user"}); err != nil {
		t.Fatalf("reassign roles: %v", err)
	}

	record, err := store.LoadIdentity(ctx, "u1")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if !slices.Equal(record.Roles, []string{"user"}) {
		t.Fatalf("expected roles to be replaced, got %v", record.Roles)
	}
	if slices.Contains(record.Permissions, "users.delete") {
		t.Fatal("expected admin permissions to be gone")
	}
}

func testDisabledSubjectIsLoaded(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.PutSubject(ctx, storage.SubjectRecord{ID: "u2", Status: storage.SubjectStatusDisabled}); err != nil {
		t.Fatalf("put subject: %v", err)
	}

	record, err := store.LoadIdentity(ctx, "u2")
	if err != nil {
		t.Fatalf("load identity: %v", err)
	}
	if record.Subject.Usable() {
		t.Fatal("expected disabled subject to be reported unusable")
	}
}

func testDeleteSubject(t *testing.T, store storage.Store) {
	ctx := context.Background()
	seed(t, store)

	if err := store.DeleteSubject(ctx, "u1"); err != nil {
		t.Fatalf("delete subject: %v", err)
	}
	if _, err := store.GetSubject(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

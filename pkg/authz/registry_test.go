package authz

import (
	"slices"
	"testing"
)

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry(map[string]Requirement{
		"users.manage":  {Roles: []string{"admin", " admin"}},
		"posts.publish": AllPermissions("posts.write", "posts.publish"),
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	requirement, ok := registry.Policy("users.manage")
	if !ok {
		t.Fatal("expected users.manage to be registered")
	}
	if !slices.Equal(requirement.Roles, []string{"admin"}) {
		t.Fatalf("expected normalized roles, got %v", requirement.Roles)
	}

	if err := registry.Register("users.manage", AnyRole("x")); err != ErrDuplicateName {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	if err := registry.Register(" ", AnyRole("x")); err != ErrEmptyName {
		t.Fatalf("expected ErrEmptyName, got %v", err)
	}

	if got := registry.Names(); !slices.Equal(got, []string{"posts.publish", "users.manage"}) {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestRegistryMustPolicyPanicsOnUnknown(t *testing.T) {
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown policy")
		}
	}()
	registry.MustPolicy("missing")
}

func TestNilRegistry(t *testing.T) {
	var registry *Registry

	if names := registry.Names(); names != nil {
		t.Fatalf("expected no names, got %v", names)
	}
	if _, ok := registry.Policy("anything"); ok {
		t.Fatal("expected nil registry to hold no policies")
	}
}

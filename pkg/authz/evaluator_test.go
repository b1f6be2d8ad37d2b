package authz

import (
	"errors"
	"slices"
	"testing"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

type testSubject struct {
	roles       []string
	permissions []string
}

func (s testSubject) HasRole(role string) bool {
	return slices.Contains(s.roles, role)
}

func (s testSubject) HasPermission(permission string) bool {
	return slices.Contains(s.permissions, permission)
}

func TestEvaluateAnonymous(t *testing.T) {
	evaluator := NewEvaluator("")

	if err := evaluator.Evaluate(nil, Requirement{}); err != nil {
		t.Fatalf("expected empty requirement to pass anonymously, got %v", err)
	}

	for _, requirement := range []Requirement{AnyRole("admin"), AllPermissions("users.read"), Authenticated()} {
		err := evaluator.Evaluate(nil, requirement)
		if !oerrors.IsCode(err, oerrors.CodeUnauthenticated) {
			t.Fatalf("expected unauthenticated for %+v, got %v", requirement, err)
		}
	}
}

func TestEvaluateSuperuserBypass(t *testing.T) {
	evaluator := NewEvaluator("")
	subject := testSubject{roles: []string{"superuser"}}

	requirements := []Requirement{
		{Roles: []string{"admin"}, Permissions: []string{"anything.nonexistent"}},
		AnyRole("admin"),
		AllPermissions("users.delete", "users.read"),
		Authenticated(),
	}
	for _, requirement := range requirements {
		if err := evaluator.Evaluate(subject, requirement); err != nil {
			t.Fatalf("expected superuser to pass %+v, got %v", requirement, err)
		}
	}
}

func TestEvaluateSuperuserOverride(t *testing.T) {
	evaluator := NewEvaluator("root")
	if evaluator.SuperuserRole() != "root" {
		t.Fatalf("expected root, got %s", evaluator.SuperuserRole())
	}

	superuser := testSubject{roles: []string{"superuser"}}
	if err := evaluator.Evaluate(superuser, AnyRole("admin")); !oerrors.IsCode(err, oerrors.CodeForbidden) {
		t.Fatalf("expected superuser role to be ordinary under root evaluator, got %v", err)
	}

	owner := testSubject{roles: []string{"owner"}}
	if err := evaluator.Evaluate(owner, AnyRole("admin").WithSuperuserRole("owner")); err != nil {
		t.Fatalf("expected per-requirement superuser override to pass, got %v", err)
	}
}

func TestEvaluateAnyRole(t *testing.T) {
	evaluator := NewEvaluator("")

	moderator := testSubject{roles: []string{"moderator"}}
	if err := evaluator.Evaluate(moderator, AnyRole("admin", "moderator")); err != nil {
		t.Fatalf("expected moderator to satisfy admin|moderator, got %v", err)
	}

	for _, roles := range [][]string{{"admin"}, {"user", "admin"}, {"user"}, nil} {
		subject := testSubject{roles: roles}
		err := evaluator.Evaluate(subject, AnyRole("admin"))
		want := slices.Contains(roles, "admin")
		if (err == nil) != want {
			t.Fatalf("roles %v: expected allowed=%v, got %v", roles, want, err)
		}
	}
}

func TestEvaluateAllPermissions(t *testing.T) {
	evaluator := NewEvaluator("")
	requirement := AllPermissions("users.delete", "users.read")

	cases := []struct {
		permissions []string
		allowed     bool
	}{
		{[]string{"users.delete", "users.read"}, true},
		{[]string{"users.read", "users.delete", "users.write"}, true},
		{[]string{"users.read"}, false},
		{[]string{"users.delete"}, false},
		{nil, false},
	}

	for _, tc := range cases {
		err := evaluator.Evaluate(testSubject{permissions: tc.permissions}, requirement)
		if (err == nil) != tc.allowed {
			t.Fatalf("permissions %v: expected allowed=%v, got %v", tc.permissions, tc.allowed, err)
		}
		if err != nil && !oerrors.IsCode(err, oerrors.CodeForbidden) {
			t.Fatalf("expected forbidden, got %v", err)
		}
	}
}

func TestEvaluatePartialPermissionsReportsMissing(t *testing.T) {
	evaluator := NewEvaluator("")
	editor := testSubject{roles: []string{"editor"}, permissions: []string{"posts.write"}}

	err := evaluator.Evaluate(editor, AllPermissions("posts.write", "posts.publish"))
	if !oerrors.IsCode(err, oerrors.CodeForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	var denial *Denial
	if !errors.As(err, &denial) {
		t.Fatalf("expected denial cause, got %v", err)
	}
	if !slices.Equal(denial.MissingPermissions, []string{"posts.publish"}) {
		t.Fatalf("expected posts.publish to be missing, got %v", denial.MissingPermissions)
	}
}

func TestEvaluateRolesAndPermissionsBothRequired(t *testing.T) {
	evaluator := NewEvaluator("")
	requirement := Requirement{Roles: []string{"admin"}, Permissions: []string{"users.delete"}}

	cases := []struct {
		subject testSubject
		allowed bool
	}{
		{testSubject{roles: []string{"admin"}, permissions: []string{"users.delete"}}, true},
		{testSubject{roles: []string{"admin"}}, false},
		{testSubject{permissions: []string{"users.delete"}}, false},
	}

	for _, tc := range cases {
		if got := evaluator.Allowed(tc.subject, requirement); got != tc.allowed {
			t.Fatalf("subject %+v: expected %v, got %v", tc.subject, tc.allowed, got)
		}
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	evaluator := NewEvaluator("")
	subject := testSubject{roles: []string{"user"}, permissions: []string{"dashboard.view"}}
	requirements := []Requirement{
		AnyRole("user"),
		AnyRole("admin"),
		AllPermissions("dashboard.view"),
		AllPermissions("dashboard.view", "dashboard.edit"),
	}

	for _, requirement := range requirements {
		first := evaluator.Allowed(subject, requirement)
		for i := 0; i < 3; i++ {
			if evaluator.Allowed(subject, requirement) != first {
				t.Fatalf("decision for %+v changed between calls", requirement)
			}
		}
	}
}

func TestRequirementNormalize(t *testing.T) {
	requirement := Requirement{
		Roles:       []string{" admin", "admin", "", "editor"},
		Permissions: []string{"  "},
	}.Normalize()

	if !slices.Equal(requirement.Roles, []string{"admin", "editor"}) {
		t.Fatalf("unexpected roles %v", requirement.Roles)
	}
	if requirement.Permissions != nil {
		t.Fatalf("expected blank permissions to drop, got %v", requirement.Permissions)
	}
	if (Requirement{Permissions: []string{""}}).Normalize().IsEmpty() != true {
		t.Fatal("expected blank-only requirement to normalize to empty")
	}
}

func TestEvaluateNormalizesRequirement(t *testing.T) {
	evaluator := NewEvaluator("")
	subject := testSubject{roles: []string{"admin"}, permissions: []string{"posts.write"}}

	padded := []Requirement{
		{Roles: []string{"admin "}},
		{Roles: []string{"", " admin"}},
		{Permissions: []string{"", "posts.write"}},
		{Roles: []string{" admin"}, Permissions: []string{"posts.write ", "posts.write"}},
		{Roles: []string{"editor"}, SuperuserRole: " admin "},
	}
	for _, requirement := range padded {
		if err := evaluator.Evaluate(subject, requirement); err != nil {
			t.Fatalf("requirement %+v: expected allow, got %v", requirement, err)
		}
		if evaluator.Allowed(subject, requirement) != evaluator.Allowed(subject, requirement.Normalize()) {
			t.Fatalf("requirement %+v: decision differs from its normalized form", requirement)
		}
	}

	err := evaluator.Evaluate(subject, Requirement{Permissions: []string{" posts.delete", ""}})
	var denial *Denial
	if !errors.As(err, &denial) || !slices.Equal(denial.MissingPermissions, []string{"posts.delete"}) {
		t.Fatalf("expected trimmed missing permission, got %v", err)
	}
}

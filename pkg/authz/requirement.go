package authz

import (
	"slices"
	"strings"
)

const DefaultSuperuserRole = "superuser"

// Requirement is the access policy attached to a route or checked inside a
// handler. A caller needs at least one of Roles and every one of Permissions.
// When both are set both must hold.
type Requirement struct {
	Roles       []string `json:"roles,omitempty" yaml:"roles,omitempty" koanf:"roles"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty" koanf:"permissions"`
	// SuperuserRole overrides the evaluator's bypass role for this requirement.
	SuperuserRole string `json:"superuser_role,omitempty" yaml:"superuser_role,omitempty" koanf:"superuser_role"`
	// Authenticated demands an identity even when no roles or permissions are listed.
	Authenticated bool `json:"authenticated,omitempty" yaml:"authenticated,omitempty" koanf:"authenticated"`
}

// AnyRole builds a requirement satisfied by holding one of roles.
func AnyRole(roles ...string) Requirement {
	return Requirement{Roles: roles}
}

// AllPermissions builds a requirement satisfied by holding every permission.
func AllPermissions(permissions ...string) Requirement {
	return Requirement{Permissions: permissions}
}

// Authenticated builds a requirement satisfied by any identity.
func Authenticated() Requirement {
	return Requirement{Authenticated: true}
}

func (r Requirement) WithSuperuserRole(role string) Requirement {
	r.SuperuserRole = role
	return r
}

// IsEmpty reports whether the requirement restricts nothing.
func (r Requirement) IsEmpty() bool {
	return len(r.Roles) == 0 && len(r.Permissions) == 0 && !r.Authenticated
}

// Normalize trims names, drops blanks and duplicates, and sorts both lists.
func (r Requirement) Normalize() Requirement {
	return Requirement{
		Roles:         normalizeNames(r.Roles),
		Permissions:   normalizeNames(r.Permissions),
		SuperuserRole: strings.TrimSpace(r.SuperuserRole),
		Authenticated: r.Authenticated,
	}
}

func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}

	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		out = append(out, name)
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

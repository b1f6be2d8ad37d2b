package authz

import (
	"fmt"
	"strings"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

// Subject is the resolved caller as seen by the evaluator.
type Subject interface {
	HasRole(role string) bool
	HasPermission(permission string) bool
}

// Denial is attached as the cause of a forbidden error. It is meant for logs,
// not for clients.
type Denial struct {
	MissingRoles       []string
	MissingPermissions []string
}

func (d *Denial) Error() string {
	var parts []string
	if len(d.MissingRoles) > 0 {
		parts = append(parts, fmt.Sprintf("requires one of roles [%s]", strings.Join(d.MissingRoles, ", ")))
	}
	if len(d.MissingPermissions) > 0 {
		parts = append(parts, fmt.Sprintf("missing permissions [%s]", strings.Join(d.MissingPermissions, ", ")))
	}
	return "authz: " + strings.Join(parts, "; ")
}

type Evaluator struct {
	superuserRole string
}

func NewEvaluator(superuserRole string) *Evaluator {
	superuserRole = strings.TrimSpace(superuserRole)
	if superuserRole == "" {
		superuserRole = DefaultSuperuserRole
	}
	return &Evaluator{superuserRole: superuserRole}
}

func (e *Evaluator) SuperuserRole() string {
	if e == nil || e.superuserRole == "" {
		return DefaultSuperuserRole
	}
	return e.superuserRole
}

// Evaluate decides whether subject satisfies requirement. A nil subject means
// the caller is anonymous. The superuser role is checked before anything else.
// requirement is normalized first, so route-level and in-handler checks agree.
func (e *Evaluator) Evaluate(subject Subject, requirement Requirement) error {
	requirement = requirement.Normalize()
	if subject == nil {
		if requirement.IsEmpty() {
			return nil
		}
		return oerrors.New(oerrors.CodeUnauthenticated, "authentication required")
	}

	superuser := requirement.SuperuserRole
	if superuser == "" {
		superuser = e.SuperuserRole()
	}
	if subject.HasRole(superuser) {
		return nil
	}

	if len(requirement.Roles) > 0 && !HasAnyRole(subject, requirement.Roles) {
		return oerrors.Wrap(oerrors.CodeForbidden, "missing required role", &Denial{
			MissingRoles: requirement.Roles,
		})
	}

	if len(requirement.Permissions) > 0 {
		if missing := MissingPermissions(subject, requirement.Permissions); len(missing) > 0 {
			return oerrors.Wrap(oerrors.CodeForbidden, "missing required permission", &Denial{
				MissingPermissions: missing,
			})
		}
	}

	return nil
}

// Allowed is Evaluate as a boolean.
func (e *Evaluator) Allowed(subject Subject, requirement Requirement) bool {
	return e.Evaluate(subject, requirement) == nil
}

func HasAnyRole(subject Subject, roles []string) bool {
	for _, role := range roles {
		if subject.HasRole(role) {
			return true
		}
	}
	return false
}

func MissingPermissions(subject Subject, permissions []string) []string {
	var missing []string
	for _, permission := range permissions {
		if !subject.HasPermission(permission) {
			missing = append(missing, permission)
		}
	}
	return missing
}

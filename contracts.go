package openguard

import (
	"context"
	"slices"

	"github.com/porthorian/openguard/pkg/authz"
	"github.com/porthorian/openguard/pkg/storage"
)

// Identity is the resolved caller. Roles and Permissions are sorted and
// de-duplicated; Permissions is the union of the roles' grants at the time
// the identity was resolved.
type Identity struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"display_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

func NewIdentity(id string, displayName string, email string, roles []string, permissions []string) *Identity {
	return &Identity{
		ID:          id,
		DisplayName: displayName,
		Email:       email,
		Roles:       storage.SortedUnique(roles),
		Permissions: storage.SortedUnique(permissions),
	}
}

func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	_, found := slices.BinarySearch(i.Roles, role)
	return found
}

func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	_, found := slices.BinarySearch(i.Permissions, permission)
	return found
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Roles = slices.Clone(i.Roles)
	out.Permissions = slices.Clone(i.Permissions)
	return &out
}

type AuthMode int

const (
	// AuthRequired fails with a missing_credential error when no credential is sent.
	AuthRequired AuthMode = iota
	// AuthOptional lets anonymous callers through with a nil identity.
	AuthOptional
)

func (m AuthMode) String() string {
	switch m {
	case AuthRequired:
		return "required"
	case AuthOptional:
		return "optional"
	}
	return "unknown"
}

type Authenticator interface {
	// Authenticate turns a bearer credential into an Identity. With AuthOptional
	// and an empty credential it returns (nil, nil).
	Authenticate(ctx context.Context, credential string, mode AuthMode) (*Identity, error)
}

type Authorizer interface {
	Authorize(identity *Identity, requirement authz.Requirement) error
}

// Guard is what transports need from a Client.
type Guard interface {
	Authenticator
	Authorizer
}

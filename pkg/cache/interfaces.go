package cache

import (
	"context"
	"time"
)

const (
	DefaultKeyPrefix = "user:"
	DefaultTTL       = time.Hour
)

// IdentitySnapshot is the cached form of a resolved identity. It is a copy
// taken at resolution time and goes stale if grants change in storage.
type IdentitySnapshot struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

type IdentityCache interface {
	SetIdentity(ctx context.Context, key string, snapshot IdentitySnapshot, ttl time.Duration) error
	GetIdentity(ctx context.Context, key string) (IdentitySnapshot, bool, error)
	DeleteIdentity(ctx context.Context, key string) error
}

// Key builds the cache key for subjectID.
func Key(prefix string, subjectID string) string {
	return prefix + subjectID
}

func CloneSnapshot(snapshot IdentitySnapshot) IdentitySnapshot {
	snapshot.Roles = cloneStrings(snapshot.Roles)
	snapshot.Permissions = cloneStrings(snapshot.Permissions)
	return snapshot
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

package session

import (
	"context"
	"time"
)

// Claims is the verified payload of a bearer credential.
type Claims struct {
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Extra     map[string]any
}

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (Claims, error)
}

type TokenIssuer interface {
	IssueToken(ctx context.Context, subject string, extra map[string]any, ttl time.Duration) (string, error)
}

const (
	AlgorithmHS256 = "HS256"
	AlgorithmHS384 = "HS384"
	AlgorithmHS512 = "HS512"

	DefaultSubjectClaim = "sub"
)

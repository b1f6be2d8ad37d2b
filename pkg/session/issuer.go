package session

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEmptySubject = stderrors.New("session: subject is required")
	ErrInvalidTTL   = stderrors.New("session: ttl must be greater than zero")
)

type IssuerConfig struct {
	Secret       []byte
	Algorithm    string
	SubjectClaim string
	Issuer       string
	Audience     string
	Now          func() time.Time
}

// HMACIssuer mints tokens that HMACVerifier accepts. Issuance is not part of
// the request path; it backs the CLI and tests.
type HMACIssuer struct {
	secret       []byte
	method       *jwt.SigningMethodHMAC
	subjectClaim string
	issuer       string
	audience     string
	now          func() time.Time
}

var _ TokenIssuer = (*HMACIssuer)(nil)

func NewHMACIssuer(config IssuerConfig) (*HMACIssuer, error) {
	if len(config.Secret) == 0 {
		return nil, ErrEmptySecret
	}

	method, err := signingMethod(config.Algorithm)
	if err != nil {
		return nil, err
	}

	subjectClaim := strings.TrimSpace(config.SubjectClaim)
	if subjectClaim == "" {
		subjectClaim = DefaultSubjectClaim
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &HMACIssuer{
		secret:       config.Secret,
		method:       method,
		subjectClaim: subjectClaim,
		issuer:       config.Issuer,
		audience:     config.Audience,
		now:          now,
	}, nil
}

func (i *HMACIssuer) IssueToken(_ context.Context, subject string, extra map[string]any, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrEmptySubject
	}
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	now := i.now().UTC()
	claims := jwt.MapClaims{}
	for key, value := range extra {
		claims[key] = value
	}
	claims[i.subjectClaim] = subject
	claims["jti"] = uuid.NewString()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(ttl).Unix()
	if i.issuer != "" {
		claims["iss"] = i.issuer
	}
	if i.audience != "" {
		claims["aud"] = i.audience
	}

	return jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
}

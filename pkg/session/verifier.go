package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	oerrors "github.com/porthorian/openguard/pkg/errors"
)

var (
	ErrEmptySecret          = stderrors.New("session: secret is required")
	ErrUnsupportedAlgorithm = stderrors.New("session: unsupported signing algorithm")
	errMissingSubject       = stderrors.New("session: subject claim is missing or empty")
)

type VerifierConfig struct {
	Secret    []byte
	Algorithm string
	// SubjectClaim names the claim carrying the subject id. Defaults to "sub".
	SubjectClaim string
	Leeway       time.Duration
	// AllowMissingExpiry accepts tokens without an exp claim.
	AllowMissingExpiry bool
	Issuer             string
	Audience           string
	Now                func() time.Time
}

type HMACVerifier struct {
	secret       []byte
	parser       *jwt.Parser
	subjectClaim string
}

var _ TokenValidator = (*HMACVerifier)(nil)

func NewHMACVerifier(config VerifierConfig) (*HMACVerifier, error) {
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

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithJSONNumber(),
		jwt.WithIssuedAt(),
	}
	if !config.AllowMissingExpiry {
		opts = append(opts, jwt.WithExpirationRequired())
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}
	if config.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(config.Now))
	}

	secret := make([]byte, len(config.Secret))
	copy(secret, config.Secret)

	return &HMACVerifier{
		secret:       secret,
		parser:       jwt.NewParser(opts...),
		subjectClaim: subjectClaim,
	}, nil
}

// ValidateToken verifies the credential and returns its claims. An empty
// credential yields CodeMissingCredential; every other failure is
// CodeInvalidCredential.
func (v *HMACVerifier) ValidateToken(_ context.Context, token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, oerrors.New(oerrors.CodeMissingCredential, "bearer credential is required")
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, mapClaims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, oerrors.Wrap(oerrors.CodeInvalidCredential, "bearer credential expired", err)
		}
		return Claims{}, oerrors.Wrap(oerrors.CodeInvalidCredential, "bearer credential is invalid", err)
	}
	if !parsed.Valid {
		return Claims{}, oerrors.New(oerrors.CodeInvalidCredential, "bearer credential is invalid")
	}

	subject, ok := CanonicalSubject(mapClaims[v.subjectClaim])
	if !ok {
		return Claims{}, oerrors.Wrap(oerrors.CodeInvalidCredential, "bearer credential has no subject", errMissingSubject)
	}

	claims := Claims{
		Subject: subject,
		Extra:   map[string]any{},
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.UTC()
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.UTC()
	}
	if jti, ok := mapClaims["jti"].(string); ok {
		claims.ID = jti
	}
	for key, value := range mapClaims {
		switch key {
		case v.subjectClaim, "exp", "iat", "nbf", "jti":
			continue
		}
		claims.Extra[key] = value
	}

	return claims, nil
}

// CanonicalSubject renders a subject claim as the string used for identity
// lookups. Strings are trimmed; numbers use their shortest base-10 form so
// 42, 42.0 and "42" all map to "42".
func CanonicalSubject(value any) (string, bool) {
	switch s := value.(type) {
	case string:
		s = strings.TrimSpace(s)
		return s, s != ""
	case json.Number:
		if i, err := s.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		f, err := s.Float64()
		if err != nil {
			return "", false
		}
		return formatFloat(f)
	case float64:
		return formatFloat(s)
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	default:
		return "", false
	}
}

func formatFloat(f float64) (string, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func signingMethod(algorithm string) (*jwt.SigningMethodHMAC, error) {
	switch strings.ToUpper(strings.TrimSpace(algorithm)) {
	case "", AlgorithmHS256:
		return jwt.SigningMethodHS256, nil
	case AlgorithmHS384:
		return jwt.SigningMethodHS384, nil
	case AlgorithmHS512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, algorithm)
	}
}

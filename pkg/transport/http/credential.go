package httptransport

import (
	"net/http"
	"strings"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

const bearerScheme = "bearer"

// BearerToken extracts the credential from the configured header, falling
// back to the cookie when one is configured. A missing credential returns ""
// with no error; a header using another scheme is an invalid credential.
func BearerToken(r *http.Request, config MiddlewareConfig) (string, error) {
	header := config.TokenHeader
	if header == "" {
		header = DefaultTokenHeader
	}

	if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
		scheme, credential, found := strings.Cut(value, " ")
		if !found || !strings.EqualFold(scheme, bearerScheme) {
			return "", oerrors.New(oerrors.CodeInvalidCredential, "authorization header must use the Bearer scheme")
		}
		return strings.TrimSpace(credential), nil
	}

	if config.CookieName != "" {
		if cookie, err := r.Cookie(config.CookieName); err == nil {
			return strings.TrimSpace(cookie.Value), nil
		}
	}

	return "", nil
}

package errors

import "net/http"

var publicMessages = map[Code]string{
	CodeMissingCredential:  "authentication required",
	CodeInvalidCredential:  "invalid credentials",
	CodeIdentityNotFound:   "invalid credentials",
	CodeUnauthenticated:    "authentication required",
	CodeForbidden:          "insufficient permissions",
	CodeStorageUnavailable: "identity service unavailable",
	CodeCacheUnavailable:   "identity service unavailable",
	CodeUnknown:            "internal error",
}

// HTTPStatus maps err onto the status code a client should see.
// IdentityNotFound is deliberately 401 rather than 404.
func HTTPStatus(err error) int {
	if IsAuthentication(err) {
		return http.StatusUnauthorized
	}
	switch CodeOf(err) {
	case CodeForbidden:
		return http.StatusForbidden
	case CodeStorageUnavailable, CodeCacheUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a client-safe message for err. Wrapped causes are never included.
func PublicMessage(err error) string {
	return publicMessages[CodeOf(err)]
}

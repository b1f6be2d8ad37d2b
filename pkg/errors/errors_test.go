package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(CodeStorageUnavailable, "failed to load identity", cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Error() != "failed to load identity" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !IsInternalCode(err) {
		t.Fatal("expected storage_unavailable to be internal")
	}
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("middleware: %w", New(CodeForbidden, "missing role"))
	if got := CodeOf(err); got != CodeForbidden {
		t.Fatalf("expected forbidden, got %s", got)
	}
	if got := CodeOf(errors.New("plain")); got != CodeUnknown {
		t.Fatalf("expected unknown for plain error, got %s", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeMissingCredential:  http.StatusUnauthorized,
		CodeInvalidCredential:  http.StatusUnauthorized,
		CodeIdentityNotFound:   http.StatusUnauthorized,
		CodeUnauthenticated:    http.StatusUnauthorized,
		CodeForbidden:          http.StatusForbidden,
		CodeStorageUnavailable: http.StatusServiceUnavailable,
		CodeCacheUnavailable:   http.StatusServiceUnavailable,
		CodeUnknown:            http.StatusInternalServerError,
	}

	for code, want := range cases {
		if got := HTTPStatus(New(code, "x")); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestPublicMessageHidesCause(t *testing.T) {
	err := Wrap(CodeStorageUnavailable, "query failed: pq: relation openguard.subject does not exist", errors.New("boom"))
	if got := PublicMessage(err); got != "identity service unavailable" {
		t.Fatalf("unexpected public message %q", got)
	}
	if !IsAuthentication(New(CodeIdentityNotFound, "gone")) {
		t.Fatal("expected identity_not_found to be an authentication failure")
	}
	if IsAuthentication(New(CodeForbidden, "no")) {
		t.Fatal("forbidden is not an authentication failure")
	}
}

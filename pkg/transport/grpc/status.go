package grpctransport

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

// Code maps a guard error onto a gRPC status code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	switch oerrors.CodeOf(err) {
	case oerrors.CodeMissingCredential, oerrors.CodeInvalidCredential, oerrors.CodeIdentityNotFound, oerrors.CodeUnauthenticated:
		return codes.Unauthenticated
	case oerrors.CodeForbidden:
		return codes.PermissionDenied
	case oerrors.CodeStorageUnavailable, oerrors.CodeCacheUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Status converts a guard error into a status error carrying only the public
// message.
func Status(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(Code(err), oerrors.PublicMessage(err))
}

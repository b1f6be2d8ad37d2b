package errors

import (
	"errors"
)

type Code string

const (
	CodeMissingCredential Code = "missing_credential"
	CodeInvalidCredential Code = "invalid_credential"
	CodeIdentityNotFound  Code = "identity_not_found"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeForbidden         Code = "forbidden"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeCacheUnavailable   Code = "cache_unavailable"
)

var (
	ErrMissingStore  = errors.New("openguard: identity store is required")
	ErrMissingSecret = errors.New("openguard: verifier secret is required")
	ErrClientClosed  = errors.New("openguard: client is closed")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in err's chain, or CodeUnknown.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return CodeUnknown
	}
	return typed.Code
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeCacheUnavailable)
}

// IsAuthentication reports whether err should be answered as "who are you?".
func IsAuthentication(err error) bool {
	switch CodeOf(err) {
	case CodeMissingCredential, CodeInvalidCredential, CodeIdentityNotFound, CodeUnauthenticated:
		return true
	}
	return false
}

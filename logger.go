package openguard

import (
	"github.com/go-logr/logr"

	oerrors "github.com/porthorian/openguard/pkg/errors"
)

func resolveLogger(logger logr.Logger) logr.Logger {
	if logger.GetSink() == nil {
		return logr.Discard()
	}
	return logger
}

// logInternal records failures callers only see as a generic message.
// Authentication and authorization outcomes are not logged as errors.
func logInternal(logger logr.Logger, err error, msg string, keysAndValues ...any) {
	if err == nil || !oerrors.IsInternalCode(err) {
		return
	}
	logger.Error(err, msg, keysAndValues...)
}

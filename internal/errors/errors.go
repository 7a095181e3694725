// Package errors defines the failure kinds shared by the storage backends,
// the orchestrator and the HTTP layer.
package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Failure kinds. Concrete errors are marked with one of these so callers can
// match them with errors.Is regardless of how deeply they were wrapped.
var (
	// ErrConfiguration means the backend has no connection parameters. It is
	// an expected condition that sends the orchestrator offline.
	ErrConfiguration = errors.New("storage backend not configured")
	// ErrBackendUnavailable covers network, auth and timeout failures.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
	// ErrData means a stored payload could not be decoded.
	ErrData = errors.New("malformed stored data")
	// ErrValidation rejects a record before it reaches any backend.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
)

const (
	KindConfiguration = "configuration"
	KindUnavailable   = "unavailable"
	KindData          = "data"
	KindValidation    = "validation"
	KindNotFound      = "not_found"
	KindUnknown       = "unknown"
)

var statusCodeMap = map[error]int{
	ErrConfiguration:      http.StatusServiceUnavailable,
	ErrBackendUnavailable: http.StatusServiceUnavailable,
	ErrData:               http.StatusUnprocessableEntity,
	ErrValidation:         http.StatusBadRequest,
	ErrNotFound:           http.StatusNotFound,
}

// Configuration builds a configuration error for the named backend.
func Configuration(backend, format string, args ...interface{}) error {
	err := errors.Newf(format, args...)
	return errors.Mark(errors.Wrapf(err, "%s", backend), ErrConfiguration)
}

// Unavailable wraps err as a backend availability failure for op.
func Unavailable(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrBackendUnavailable)
}

// Data wraps err as a malformed payload failure for op.
func Data(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrData)
}

// Validation builds a validation error.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// ValidationWrap marks an existing error (typically from the validator) as a
// validation failure.
func ValidationWrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, msg), ErrValidation)
}

// NotFound builds a not-found error.
func NotFound(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

func IsConfiguration(err error) bool { return errors.Is(err, ErrConfiguration) }
func IsUnavailable(err error) bool   { return errors.Is(err, ErrBackendUnavailable) }
func IsData(err error) bool          { return errors.Is(err, ErrData) }
func IsValidation(err error) bool    { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsConfiguration(err):
		return KindConfiguration
	case IsUnavailable(err):
		return KindUnavailable
	case IsData(err):
		return KindData
	case IsValidation(err):
		return KindValidation
	case IsNotFound(err):
		return KindNotFound
	default:
		return KindUnknown
	}
}

// HTTPStatus maps err to the status code the API responds with.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	for target, code := range statusCodeMap {
		if errors.Is(err, target) {
			return code
		}
	}
	return http.StatusInternalServerError
}

package tracker

import (
	"errors"
	"fmt"
)

// ErrAuthentication is returned when the backend rejects the bridge's
// credentials. Distinct from a generic backend failure so callers can
// prompt for re-login instead of retrying.
var ErrAuthentication = errors.New("authentication failed")

// BackendError is a generic external API failure carrying a
// backend-specific code (HTTP status, API error code).
type BackendError struct {
	Backend string
	Code    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	msg := fmt.Sprintf("%s backend error", e.Backend)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// IsBackendError returns true if err is (or wraps) a BackendError.
func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

package types

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned across the bridge packages.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, types.ErrNotFound) {
//	    // item/mapping/entity does not exist
//	}
var (
	// ErrNotFound is returned when an item, mapping, or external entity
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a mapping for an
	// external entity that already has one.
	ErrAlreadyExists = errors.New("already exists")

	// ErrMappingConflict is returned when an update is attempted on a
	// mapping in conflict state without going through resolution.
	ErrMappingConflict = errors.New("mapping is in conflict state")

	// ErrNotInConflict is returned when conflict resolution is attempted
	// on a mapping that is not in conflict state.
	ErrNotInConflict = errors.New("mapping is not in conflict state")
)

// ValidationError indicates a malformed field value, such as an
// unparseable external reference string.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation returns true if err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SubprocessError indicates an underlying command (git diff, bd show)
// failed or produced unparseable output. Stderr is captured so the
// failure is actionable without reading logs.
type SubprocessError struct {
	Cmd    string
	Stderr string
	Err    error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Cmd, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *SubprocessError) Unwrap() error {
	return e.Err
}

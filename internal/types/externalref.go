package types

import (
	"fmt"
	"strings"
)

// Backend identifies an external tracker system.
type Backend string

const (
	BackendGitHub   Backend = "github"
	BackendShortcut Backend = "shortcut"
)

// IsValid returns true if the backend is one of the supported trackers.
func (b Backend) IsValid() bool {
	switch b {
	case BackendGitHub, BackendShortcut:
		return true
	}
	return false
}

// ExternalRef is a parsed external reference.
//
// Wire format: "github:<owner>/<repo>#<number>" or "shortcut:<id>".
// Every non-empty external_ref string must parse to exactly one
// ExternalRef; anything else is a validation error, never a silent nil.
type ExternalRef struct {
	Backend Backend
	Locator string
}

// ParseExternalRef parses an external reference string.
// Returns a *ValidationError for unrecognized formats.
func ParseExternalRef(s string) (*ExternalRef, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, &ValidationError{Field: "external_ref", Reason: "empty reference"}
	}

	backend, locator, ok := strings.Cut(s, ":")
	if !ok || locator == "" {
		return nil, &ValidationError{
			Field:  "external_ref",
			Reason: fmt.Sprintf("expected <backend>:<locator>, got %q", s),
		}
	}

	b := Backend(backend)
	if !b.IsValid() {
		return nil, &ValidationError{
			Field:  "external_ref",
			Reason: fmt.Sprintf("unrecognized backend %q (supported: github, shortcut)", backend),
		}
	}

	if b == BackendGitHub {
		// github locators are <owner>/<repo>#<number>
		repo, num, ok := strings.Cut(locator, "#")
		if !ok || num == "" || !strings.Contains(repo, "/") {
			return nil, &ValidationError{
				Field:  "external_ref",
				Reason: fmt.Sprintf("github locator must be <owner>/<repo>#<number>, got %q", locator),
			}
		}
	}

	return &ExternalRef{Backend: b, Locator: locator}, nil
}

// String renders the reference in wire format.
func (r *ExternalRef) String() string {
	return string(r.Backend) + ":" + r.Locator
}

// Repository returns the repository portion of a github locator
// ("owner/repo"), or empty for non-github backends.
func (r *ExternalRef) Repository() string {
	if r.Backend != BackendGitHub {
		return ""
	}
	repo, _, _ := strings.Cut(r.Locator, "#")
	return repo
}

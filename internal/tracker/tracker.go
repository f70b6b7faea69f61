// Package tracker defines the capability the bridge consumes from
// external project-management systems, and the backends implementing
// it.
//
// Backends register themselves by name in an init function; callers
// construct one through New with an opaque config map. The in-memory
// backend exists for tests and dry runs.
package tracker

import (
	"context"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// Entity is an external tracker entity (a GitHub issue or Shortcut
// story) as seen by the bridge.
type Entity struct {
	// Locator identifies the entity within its backend, e.g.
	// "acme/app#5" or "12345".
	Locator string

	Title string
	Body  string

	// URL is the human-facing link to the entity.
	URL string

	// State is the backend-native state string (open/closed/...).
	State string
}

// Comment is a posted discussion comment.
type Comment struct {
	ID        string
	Body      string
	CreatedAt time.Time
}

// IssueUpdate describes a partial entity update. Nil fields are left
// untouched.
type IssueUpdate struct {
	Title *string
	Body  *string
}

// Backend is the external tracker capability consumed by the bridge.
//
// Implementations must surface missing entities as types.ErrNotFound
// (wrapped), auth failures as ErrAuthentication, and other API failures
// as *BackendError so callers can tell them apart.
type Backend interface {
	// Name returns the backend identifier (github, shortcut, memory).
	Name() types.Backend

	// GetIssue fetches an entity by locator.
	GetIssue(ctx context.Context, locator string) (*Entity, error)

	// UpdateIssue applies a partial update and returns the new state.
	UpdateIssue(ctx context.Context, locator string, update IssueUpdate) (*Entity, error)

	// AddComment posts a new comment. Comments are always additive;
	// the bridge never edits or deletes them.
	AddComment(ctx context.Context, locator string, body string) (*Comment, error)

	// SearchIssues finds entities matching a backend-native query.
	SearchIssues(ctx context.Context, query string) ([]*Entity, error)

	// LinkIssues records a relationship between two entities.
	LinkIssues(ctx context.Context, fromLocator, toLocator, relation string) error
}

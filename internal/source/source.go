// Package source provides read access to the beads issue store.
//
// The bridge never talks to the beads database directly; it consumes a
// narrow client capability (show, list, dep tree) implemented by
// shelling out to the bd CLI, the same way beads itself shells out to
// git and jj. Tests substitute an in-memory client.
package source

import (
	"context"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// Filter narrows a List call. Zero value means all items.
type Filter struct {
	// IssueType limits results to one issue type (e.g. "epic").
	IssueType string

	// Status limits results to one status.
	Status types.Status

	// Limit caps the number of results. 0 means no limit.
	Limit int
}

// TreeNode is one node of a dependency tree rooted at an epic.
type TreeNode struct {
	Item     *types.TrackedItem
	EdgeType types.DependencyType
	Children []*TreeNode
}

// TreeOptions configures a DepTree call.
type TreeOptions struct {
	// MaxDepth limits the tree depth. 0 means the client default.
	MaxDepth int
}

// Client is the capability the bridge needs from the beads store.
//
// Show returns types.ErrNotFound (wrapped) for unknown IDs. List with a
// filter that matches nothing returns an empty slice, not an error.
type Client interface {
	// Show fetches a single item by ID.
	Show(ctx context.Context, id string) (*types.TrackedItem, error)

	// List fetches items matching the filter.
	List(ctx context.Context, filter Filter) ([]*types.TrackedItem, error)

	// DepTree fetches the dependency tree rooted at the given item.
	DepTree(ctx context.Context, rootID string, opts TreeOptions) (*TreeNode, error)
}

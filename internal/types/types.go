// Package types defines the shared data model for the bridge: tracked
// items as read from the beads JSONL store, dependency edges, and the
// external reference format linking items to external tracker entities.
//
// Everything in this package is read-only from the bridge's perspective.
// Tracked items are created and mutated exclusively by the bd CLI; the
// bridge only parses them.
package types

import "time"

// Status represents the lifecycle state of a tracked item.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusClosed     Status = "closed"
)

// IsValid returns true if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusBlocked, StatusClosed:
		return true
	}
	return false
}

// IsTerminal returns true if the item needs no further work.
func (s Status) IsTerminal() bool {
	return s == StatusClosed
}

// DependencyType classifies a dependency edge between tracked items.
type DependencyType string

const (
	// DepParentChild links a child item to its parent (epic) item.
	DepParentChild DependencyType = "parent-child"

	// DepBlocks means the target must complete before this item can proceed.
	DepBlocks DependencyType = "blocks"

	// DepRelated is an informational link with no ordering semantics.
	DepRelated DependencyType = "related"

	// DepDiscoveredFrom records that this item was found while working
	// on the target item.
	DepDiscoveredFrom DependencyType = "discovered-from"
)

// IsValid returns true if the dependency type is one of the known values.
func (t DependencyType) IsValid() bool {
	switch t {
	case DepParentChild, DepBlocks, DepRelated, DepDiscoveredFrom:
		return true
	}
	return false
}

// Dependency is a single outgoing edge from a tracked item.
// The direction is explicit: the owning item depends on (or is a child
// of) the item identified by ID. There is no guess-and-retry on edge
// direction anywhere in the bridge.
type Dependency struct {
	ID   string         `json:"id"`
	Type DependencyType `json:"type"`
}

// TrackedItem is a unit of work in the beads store, one JSONL record in
// .beads/issues.jsonl. The bridge reads these via the bd CLI or by
// scanning git diffs of the JSONL file; it never writes them.
type TrackedItem struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// IssueType is bug, feature, task, epic, or chore.
	IssueType string `json:"issue_type,omitempty"`

	Status Status `json:"status"`

	// ExternalRef links this item to an external tracker entity, in the
	// form "<backend>:<locator>". Empty means no direct link; an ancestor
	// may still carry one.
	ExternalRef string `json:"external_ref,omitempty"`

	// Dependencies are the outgoing edges of this item, in store order.
	Dependencies []Dependency `json:"dependencies,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// IsEpic returns true if the item is an epic (the unit that external
// entities map to).
func (i *TrackedItem) IsEpic() bool {
	return i.IssueType == "epic"
}

// ParentIDs returns the targets of all parent-child edges, in order.
func (i *TrackedItem) ParentIDs() []string {
	var parents []string
	for _, dep := range i.Dependencies {
		if dep.Type == DepParentChild {
			parents = append(parents, dep.ID)
		}
	}
	return parents
}

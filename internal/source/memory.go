package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// MemoryClient is an in-memory Client used by tests and by the watch
// command's dry-run mode. Items are keyed by ID; dependency trees are
// derived from parent-child edges.
type MemoryClient struct {
	mu    sync.RWMutex
	items map[string]*types.TrackedItem

	// ShowErr, when set, is returned by every Show call. Used to
	// exercise failure paths.
	ShowErr error
}

// NewMemoryClient creates an empty in-memory client.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{items: make(map[string]*types.TrackedItem)}
}

// Put adds or replaces an item.
func (c *MemoryClient) Put(item *types.TrackedItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[item.ID] = item
}

// Show implements Client.Show.
func (c *MemoryClient) Show(ctx context.Context, id string) (*types.TrackedItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.ShowErr != nil {
		return nil, c.ShowErr
	}
	item, ok := c.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, types.ErrNotFound)
	}
	copied := *item
	return &copied, nil
}

// List implements Client.List.
func (c *MemoryClient) List(ctx context.Context, filter Filter) ([]*types.TrackedItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*types.TrackedItem
	for _, item := range c.items {
		if filter.IssueType != "" && item.IssueType != filter.IssueType {
			continue
		}
		if filter.Status != "" && item.Status != filter.Status {
			continue
		}
		copied := *item
		out = append(out, &copied)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// DepTree implements Client.DepTree by following edges where this item
// is the parent of the child (children carry parent-child edges pointing
// at the root).
func (c *MemoryClient) DepTree(ctx context.Context, rootID string, opts TreeOptions) (*TreeNode, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	root, ok := c.items[rootID]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", rootID, types.ErrNotFound)
	}

	visited := make(map[string]bool)
	return c.buildTree(root, types.DependencyType(""), visited), nil
}

func (c *MemoryClient) buildTree(item *types.TrackedItem, edge types.DependencyType, visited map[string]bool) *TreeNode {
	copied := *item
	node := &TreeNode{Item: &copied, EdgeType: edge}
	if visited[item.ID] {
		return node
	}
	visited[item.ID] = true

	var childIDs []string
	for id, child := range c.items {
		for _, dep := range child.Dependencies {
			if dep.Type == types.DepParentChild && dep.ID == item.ID {
				childIDs = append(childIDs, id)
			}
		}
	}
	sort.Strings(childIDs)
	for _, id := range childIDs {
		node.Children = append(node.Children, c.buildTree(c.items[id], types.DepParentChild, visited))
	}
	return node
}

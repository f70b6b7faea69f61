// Package resolve maps tracked items to the external tracker entities
// that represent them, by walking parent-child dependency edges upward
// until an ancestor carrying an external reference is found.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/steveyegge/beads-bridge/internal/source"
	"github.com/steveyegge/beads-bridge/internal/types"
)

// Resolver walks the dependency graph to find external references.
// It is stateless across calls; the visited set lives for a single walk.
type Resolver struct {
	source source.Client
	logger *log.Logger
}

// New creates a resolver reading from the given source client.
// If logger is nil, a default logger writing to stderr is used.
func New(client source.Client, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[resolve] ", log.LstdFlags)
	}
	return &Resolver{source: client, logger: logger}
}

// Resolve finds the external reference governing the given item.
//
// The item itself is checked first; otherwise each parent-child edge is
// followed upward, depth-first, returning the first reference found.
// A nil reference with nil error means no ancestor carries one.
//
// The walk is cycle-safe: revisiting an ID terminates that branch. A
// missing item anywhere in the walk resolves that branch to nil rather
// than failing the operation. An unparseable external_ref string on a
// reached item is a hard error.
func (r *Resolver) Resolve(ctx context.Context, itemID string) (*types.ExternalRef, error) {
	visited := make(map[string]bool)
	return r.walk(ctx, itemID, visited)
}

func (r *Resolver) walk(ctx context.Context, itemID string, visited map[string]bool) (*types.ExternalRef, error) {
	if visited[itemID] {
		return nil, nil
	}
	visited[itemID] = true

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	item, err := r.source.Show(ctx, itemID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			r.logger.Printf("item %s not found, treating branch as unresolved", itemID)
			return nil, nil
		}
		return nil, fmt.Errorf("fetching %s: %w", itemID, err)
	}

	if item.ExternalRef != "" {
		ref, err := types.ParseExternalRef(item.ExternalRef)
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", itemID, err)
		}
		return ref, nil
	}

	for _, parentID := range item.ParentIDs() {
		ref, err := r.walk(ctx, parentID, visited)
		if err != nil {
			return nil, err
		}
		if ref != nil {
			return ref, nil
		}
	}

	return nil, nil
}

// FindEntityByExternalRef is the reverse lookup: given an external
// reference, find the epic whose external_ref matches it exactly.
// Returns the item ID, or empty string when no epic matches (absence is
// not an error).
func (r *Resolver) FindEntityByExternalRef(ctx context.Context, ref *types.ExternalRef) (string, error) {
	epics, err := r.source.List(ctx, source.Filter{IssueType: "epic"})
	if err != nil {
		return "", fmt.Errorf("listing epics: %w", err)
	}

	want := ref.String()
	for _, epic := range epics {
		if epic.ExternalRef == want {
			return epic.ID, nil
		}
	}
	return "", nil
}

package diagram

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/beads-bridge/internal/mapping"
	"github.com/steveyegge/beads-bridge/internal/resolve"
	"github.com/steveyegge/beads-bridge/internal/source"
	"github.com/steveyegge/beads-bridge/internal/tracker"
	"github.com/steveyegge/beads-bridge/internal/types"
)

// Placer renders dependency diagrams for the epics linked to an
// external entity and places them on the entity: in-place in the body
// via the marked section, and optionally as an additive snapshot
// comment preserving point-in-time history.
type Placer struct {
	store    *mapping.Store
	source   source.Client
	resolver *resolve.Resolver
	backend  tracker.Backend
	gen      Generator
	logger   *log.Logger

	now func() time.Time
}

// PlacerOptions configures a Placer. Store may be nil, in which case
// epic discovery always goes through the resolver.
type PlacerOptions struct {
	Store    *mapping.Store
	Source   source.Client
	Resolver *resolve.Resolver
	Backend  tracker.Backend

	// Generator renders trees; defaults to mermaid.
	Generator Generator

	Logger *log.Logger
}

// NewPlacer creates a Placer.
func NewPlacer(opts PlacerOptions) *Placer {
	gen := opts.Generator
	if gen == nil {
		gen = NewMermaid()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[diagram] ", log.LstdFlags)
	}
	return &Placer{
		store:    opts.Store,
		source:   opts.Source,
		resolver: opts.Resolver,
		backend:  opts.Backend,
		gen:      gen,
		logger:   logger,
		now:      time.Now,
	}
}

// PlaceOptions controls one placement.
type PlaceOptions struct {
	// UpdateDescription rewrites the marked section in the entity body.
	UpdateDescription bool

	// CreateSnapshot posts the diagram as a new comment.
	CreateSnapshot bool

	// Trigger names what initiated the placement, e.g. "sync" or
	// "manual". Recorded in the section's last-updated line.
	Trigger string

	// Message is free-form context included in the snapshot comment.
	Message string
}

// PlacementResult reports what one placement did. Err carries any
// failure; partial progress fields stay valid alongside it.
type PlacementResult struct {
	Ref       *types.ExternalRef
	MappingID string

	// EpicLinks holds the refreshed per-epic progress counts observed
	// during rendering.
	EpicLinks []mapping.EpicLink

	// ItemsSynced is the total number of tree nodes rendered.
	ItemsSynced int

	DescriptionUpdated bool
	SnapshotPosted     bool
	EntityURL          string

	Err error
}

// Place renders and places the diagram for one external entity.
//
// Epics come from the entity's mapping when one exists; otherwise the
// resolver's reverse lookup finds the epic whose external reference
// points at the entity. Backend failures are captured in the result
// rather than returned, so a fan-out over many entities isolates
// per-entity failures.
func (p *Placer) Place(ctx context.Context, ref *types.ExternalRef, opts PlaceOptions) *PlacementResult {
	result := &PlacementResult{Ref: ref}
	if opts.Trigger == "" {
		opts.Trigger = "manual"
	}

	links, err := p.epicsFor(ctx, ref, result)
	if err != nil {
		result.Err = err
		return result
	}

	content, refreshed, total, err := p.render(ctx, links)
	if err != nil {
		result.Err = err
		return result
	}
	result.EpicLinks = refreshed
	result.ItemsSynced = total

	entity, err := p.backend.GetIssue(ctx, ref.Locator)
	if err != nil {
		result.Err = fmt.Errorf("fetching %s: %w", ref, err)
		return result
	}
	result.EntityURL = entity.URL

	if opts.UpdateDescription {
		section := FormatSection(content, p.now(), opts.Trigger)
		newBody := UpsertSection(entity.Body, section)
		if newBody != entity.Body {
			if _, err := p.backend.UpdateIssue(ctx, ref.Locator, tracker.IssueUpdate{Body: &newBody}); err != nil {
				result.Err = fmt.Errorf("updating %s: %w", ref, err)
				return result
			}
			result.DescriptionUpdated = true
		}
	}

	if opts.CreateSnapshot {
		comment := p.formatSnapshot(content, refreshed, opts)
		if _, err := p.backend.AddComment(ctx, ref.Locator, comment); err != nil {
			result.Err = fmt.Errorf("commenting on %s: %w", ref, err)
			return result
		}
		result.SnapshotPosted = true
	}

	return result
}

// epicsFor discovers the epics to render for an entity. Mapping-linked
// epics win; the resolver reverse lookup is the fallback for entities
// synced before a mapping was created.
func (p *Placer) epicsFor(ctx context.Context, ref *types.ExternalRef, result *PlacementResult) ([]mapping.EpicLink, error) {
	if p.store != nil {
		m, err := p.store.FindByExternalEntity(ref.String())
		if err != nil {
			return nil, fmt.Errorf("looking up mapping for %s: %w", ref, err)
		}
		if m != nil {
			result.MappingID = m.ID
			if len(m.LinkedEpics) > 0 {
				return m.LinkedEpics, nil
			}
		}
	}

	if p.resolver == nil {
		return nil, fmt.Errorf("no epics linked to %s: %w", ref, types.ErrNotFound)
	}
	epicID, err := p.resolver.FindEntityByExternalRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	if epicID == "" {
		return nil, fmt.Errorf("no epic resolves to %s: %w", ref, types.ErrNotFound)
	}
	return []mapping.EpicLink{{EpicID: epicID}}, nil
}

// render produces the section content for a set of epics, along with
// refreshed per-epic progress counts and the total node count.
func (p *Placer) render(ctx context.Context, links []mapping.EpicLink) (string, []mapping.EpicLink, int, error) {
	var sections []string
	refreshed := make([]mapping.EpicLink, 0, len(links))
	total := 0

	for _, link := range links {
		tree, err := p.source.DepTree(ctx, link.EpicID, source.TreeOptions{})
		if err != nil {
			return "", nil, 0, fmt.Errorf("dependency tree for %s: %w", link.EpicID, err)
		}

		block, err := p.gen.Generate(ctx, tree)
		if err != nil {
			return "", nil, 0, fmt.Errorf("rendering %s: %w", link.EpicID, err)
		}
		if len(links) > 1 {
			block = fmt.Sprintf("### %s: %s\n\n%s", tree.Item.ID, tree.Item.Title, block)
		}
		sections = append(sections, block)

		nodes, closed := countTree(tree)
		total += nodes
		link.Status = tree.Item.Status
		link.TotalIssues = nodes - 1 // the root epic is not its own issue
		link.CompletedIssues = closed
		if tree.Item.Status == types.StatusClosed && closed > 0 {
			link.CompletedIssues = closed - 1
		}
		link.LastUpdatedAt = p.now().UTC()
		refreshed = append(refreshed, link)
	}

	return strings.Join(sections, "\n\n"), refreshed, total, nil
}

// formatSnapshot renders the additive comment body.
func (p *Placer) formatSnapshot(content string, links []mapping.EpicLink, opts PlaceOptions) string {
	var b strings.Builder
	b.WriteString("## Dependency Snapshot\n\n")
	fmt.Fprintf(&b, "Captured: %s\n", p.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Trigger: %s\n", opts.Trigger)
	if opts.Message != "" {
		b.WriteString(opts.Message)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")

	completed, totalIssues := 0, 0
	for _, link := range links {
		completed += link.CompletedIssues
		totalIssues += link.TotalIssues
	}
	fmt.Fprintf(&b, "Progress: %d/%d issues closed across %d epic(s).\n", completed, totalIssues, len(links))
	return b.String()
}

// countTree returns the number of distinct nodes in a tree and how many
// of them are closed.
func countTree(root *source.TreeNode) (nodes, closed int) {
	seen := make(map[string]bool)
	var walk func(n *source.TreeNode)
	walk = func(n *source.TreeNode) {
		if n == nil || n.Item == nil || seen[n.Item.ID] {
			return
		}
		seen[n.Item.ID] = true
		nodes++
		if n.Item.Status == types.StatusClosed {
			closed++
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(root)
	return nodes, closed
}

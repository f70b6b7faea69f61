// Package orchestrator drives the end-to-end sync pipeline: detect
// changed items, resolve them to external entities, group by entity,
// and fan out placements with bounded concurrency.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/beads-bridge/internal/changes"
	"github.com/steveyegge/beads-bridge/internal/diagram"
	"github.com/steveyegge/beads-bridge/internal/mapping"
	"github.com/steveyegge/beads-bridge/internal/resolve"
	"github.com/steveyegge/beads-bridge/internal/types"
)

const (
	// DefaultMaxConcurrent bounds simultaneous per-entity placements.
	// External trackers rate-limit aggressively; three in flight keeps
	// a burst of changes under typical API budgets.
	DefaultMaxConcurrent = 3

	// DefaultEntityTimeout bounds one entity's placement end to end.
	DefaultEntityTimeout = 2 * time.Minute
)

// Detector is the change-detection capability, satisfied by
// *changes.Detector.
type Detector interface {
	DetectChanges(ctx context.Context, sinceRef string) (*changes.ChangeSet, error)
}

// Placer is the placement capability the orchestrator fans out over.
// Satisfied by *diagram.Placer; tests substitute a recording fake.
type Placer interface {
	Place(ctx context.Context, ref *types.ExternalRef, opts diagram.PlaceOptions) *diagram.PlacementResult
}

// Orchestrator wires the pipeline stages together. Safe for use from a
// single goroutine; each Sync call manages its own worker pool.
type Orchestrator struct {
	detector Detector
	resolver *resolve.Resolver
	placer   Placer
	store    *mapping.Store
	logger   *log.Logger

	maxConcurrent int
	entityTimeout time.Duration
	snapshots     bool
	now           func() time.Time
}

// Options configures an Orchestrator. Detector, Resolver, and Placer
// are required; Store may be nil to run without durable sync records.
type Options struct {
	Detector Detector
	Resolver *resolve.Resolver
	Placer   Placer
	Store    *mapping.Store
	Logger   *log.Logger

	// MaxConcurrent caps in-flight placements. Zero means
	// DefaultMaxConcurrent.
	MaxConcurrent int

	// EntityTimeout bounds one entity's placement. Zero means
	// DefaultEntityTimeout.
	EntityTimeout time.Duration

	// Snapshots posts a snapshot comment per entity in addition to the
	// in-place body update.
	Snapshots bool
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.EntityTimeout <= 0 {
		opts.EntityTimeout = DefaultEntityTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[orchestrator] ", log.LstdFlags)
	}
	return &Orchestrator{
		detector:      opts.Detector,
		resolver:      opts.Resolver,
		placer:        opts.Placer,
		store:         opts.Store,
		logger:        opts.Logger,
		maxConcurrent: opts.MaxConcurrent,
		entityTimeout: opts.EntityTimeout,
		snapshots:     opts.Snapshots,
		now:           time.Now,
	}
}

// EntitySyncResult reports the outcome for one external entity.
type EntitySyncResult struct {
	// ExternalEntity is the wire-format reference, e.g. "github:acme/app#5".
	ExternalEntity string

	// ItemIDs are the changed items that resolved to this entity.
	ItemIDs []string

	MappingID          string
	ItemsSynced        int
	DescriptionUpdated bool
	SnapshotPosted     bool

	// Skipped is true when the entity's mapping is in conflict state;
	// conflicted mappings are never synced over.
	Skipped bool

	Err error
}

// Sync runs one detection-to-placement pass against changes since the
// given git ref.
//
// One failing entity never aborts the others; its failure lands in its
// result's Err. The returned error covers pipeline-level failures only
// (detection, resolution). Results are sorted by external entity.
func (o *Orchestrator) Sync(ctx context.Context, sinceRef string) ([]EntitySyncResult, error) {
	cs, err := o.detector.DetectChanges(ctx, sinceRef)
	if err != nil {
		return nil, fmt.Errorf("detecting changes: %w", err)
	}
	if cs.Empty() {
		o.logger.Printf("no changes since %s", sinceRef)
		return nil, nil
	}
	o.logger.Printf("%d changed items since %s", len(cs.ChangedItemIDs), sinceRef)

	groups, err := o.groupByEntity(ctx, cs)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		o.logger.Printf("no changed item resolves to an external entity")
		return nil, nil
	}

	entities := make([]string, 0, len(groups))
	for entity := range groups {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	results := make([]EntitySyncResult, len(entities))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.maxConcurrent)
	for i, entity := range entities {
		i, entity := i, entity
		g.Go(func() error {
			result := o.syncEntity(gctx, entity, groups[entity])
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// groupByEntity resolves every changed item and buckets the IDs by
// external entity, filling the change set's AffectedExternalRefs.
// Items with no resolvable reference are logged and skipped; a
// malformed reference string aborts the pass.
func (o *Orchestrator) groupByEntity(ctx context.Context, cs *changes.ChangeSet) (map[string][]string, error) {
	groups := make(map[string][]string)
	for _, itemID := range cs.ChangedItemIDs {
		ref, err := o.resolver.Resolve(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", itemID, err)
		}
		if ref == nil {
			o.logger.Printf("item %s has no external reference, skipping", itemID)
			continue
		}
		entity := ref.String()
		if _, seen := cs.AffectedExternalRefs[entity]; !seen {
			cs.AffectedExternalRefs[entity] = itemID
		}
		groups[entity] = append(groups[entity], itemID)
	}
	return groups, nil
}

// syncEntity places the diagram for one entity and records the attempt
// in its mapping's sync history.
func (o *Orchestrator) syncEntity(ctx context.Context, entity string, itemIDs []string) EntitySyncResult {
	result := EntitySyncResult{ExternalEntity: entity, ItemIDs: itemIDs}

	ref, err := types.ParseExternalRef(entity)
	if err != nil {
		result.Err = err
		return result
	}

	var m *mapping.Mapping
	if o.store != nil {
		m, err = o.store.FindByExternalEntity(entity)
		if err != nil {
			result.Err = fmt.Errorf("looking up mapping: %w", err)
			return result
		}
		if m != nil {
			result.MappingID = m.ID
			if m.Status == mapping.StatusConflict {
				o.logger.Printf("mapping %s is in conflict, skipping %s", m.ID, entity)
				result.Skipped = true
				return result
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, o.entityTimeout)
	defer cancel()

	placement := o.placer.Place(ctx, ref, diagram.PlaceOptions{
		UpdateDescription: true,
		CreateSnapshot:    o.snapshots,
		Trigger:           "sync",
	})
	result.ItemsSynced = placement.ItemsSynced
	result.DescriptionUpdated = placement.DescriptionUpdated
	result.SnapshotPosted = placement.SnapshotPosted
	result.Err = placement.Err
	if result.MappingID == "" {
		result.MappingID = placement.MappingID
	}

	if m != nil {
		o.recordHistory(m.ID, itemIDs, placement)
	}
	return result
}

// recordHistory appends a sync audit entry and refreshes epic progress
// counts on the mapping. Failures here are logged, not propagated; the
// placement already happened.
func (o *Orchestrator) recordHistory(mappingID string, itemIDs []string, placement *diagram.PlacementResult) {
	entry := &mapping.SyncHistoryEntry{
		Timestamp:   o.now().UTC(),
		Direction:   "push",
		Success:     placement.Err == nil,
		ItemsSynced: placement.ItemsSynced,
		Changes:     fmt.Sprintf("%d changed items", len(itemIDs)),
	}
	if placement.Err != nil {
		entry.Error = placement.Err.Error()
	}

	params := mapping.UpdateParams{SyncHistoryEntry: entry}
	if placement.Err == nil && len(placement.EpicLinks) > 0 {
		params.LinkedEpics = placement.EpicLinks
	}
	if _, err := o.store.Update(mappingID, params); err != nil {
		o.logger.Printf("recording sync history on %s: %v", mappingID, err)
	}
}

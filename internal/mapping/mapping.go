// Package mapping provides the durable, git-committable store of
// relationships between internal epics and external tracker entities.
//
// Each mapping lives in its own JSON file under the mappings directory,
// named deterministically from the external entity reference. A single
// index file carries the lightweight fields needed for fast listing;
// the index is a derived cache and can be rebuilt from the full files.
//
// The store assumes a single writer process. Concurrent bridge
// invocations against the same mappings directory are not coordinated.
package mapping

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// SyncHistoryCap bounds the per-mapping sync audit trail. The newest
// entry is first; writes truncate to this many entries.
const SyncHistoryCap = 50

// Status represents the lifecycle state of a mapping.
type Status string

const (
	StatusActive   Status = "active"
	StatusSyncing  Status = "syncing"
	StatusConflict Status = "conflict"
	StatusArchived Status = "archived"
)

// IsValid returns true if the status is one of the known values.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusSyncing, StatusConflict, StatusArchived:
		return true
	}
	return false
}

// Resolution names a conflict resolution strategy.
type Resolution string

const (
	ResolutionGitHubWins Resolution = "github_wins"
	ResolutionBeadsWins  Resolution = "beads_wins"
	ResolutionMerged     Resolution = "merged"
)

// IsValid returns true if the resolution is a known strategy.
func (r Resolution) IsValid() bool {
	switch r {
	case ResolutionGitHubWins, ResolutionBeadsWins, ResolutionMerged:
		return true
	}
	return false
}

// EpicLink records one internal epic participating in a mapping. A
// mapping may aggregate several epics, e.g. one per sub-repository.
type EpicLink struct {
	// Repository is the beads workspace the epic lives in.
	Repository string `json:"repository"`

	// EpicID is the epic's tracked item ID.
	EpicID string `json:"epic_id"`

	Status          types.Status `json:"status"`
	CompletedIssues int          `json:"completed_issues"`
	TotalIssues     int          `json:"total_issues"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// SyncHistoryEntry is one append-only audit record of a sync attempt.
type SyncHistoryEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Direction   string    `json:"direction"`
	Success     bool      `json:"success"`
	ItemsSynced int       `json:"items_synced,omitempty"`
	Changes     string    `json:"changes,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ConflictRecord marks a mapping as conflicted. Its presence forces
// Status == StatusConflict until an explicit resolution clears it.
type ConflictRecord struct {
	DetectedAt  time.Time `json:"detected_at"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
}

// Metrics aggregates progress across all linked epics.
type Metrics struct {
	EpicCount       int `json:"epic_count"`
	TotalIssues     int `json:"total_issues"`
	CompletedIssues int `json:"completed_issues"`
}

// Mapping is the durable record linking one external entity to one or
// more internal epics. Exactly one mapping exists per external entity.
type Mapping struct {
	ID string `json:"id"`

	// ExternalEntity is the wire-format external reference, e.g.
	// "github:acme/app#5" or "shortcut:12345".
	ExternalEntity string `json:"external_entity"`

	// ExternalRepresentation is a human-readable label for the entity,
	// typically its title at mapping creation time.
	ExternalRepresentation string `json:"external_representation,omitempty"`

	LinkedEpics []EpicLink `json:"linked_epics"`

	Status Status `json:"status"`

	// SyncHistory is newest-first, capped at SyncHistoryCap.
	SyncHistory []SyncHistoryEntry `json:"sync_history,omitempty"`

	AggregatedMetrics Metrics `json:"aggregated_metrics"`

	// Metadata holds free-form key/value annotations, merged shallowly
	// on update.
	Metadata map[string]string `json:"metadata,omitempty"`

	Conflict *ConflictRecord `json:"conflict,omitempty"`

	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
	LastSyncDirection string     `json:"last_sync_direction,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants before persisting.
func (m *Mapping) Validate() error {
	if m.ID == "" {
		return &types.ValidationError{Field: "id", Reason: "required"}
	}
	if m.ExternalEntity == "" {
		return &types.ValidationError{Field: "external_entity", Reason: "required"}
	}
	if _, err := types.ParseExternalRef(m.ExternalEntity); err != nil {
		return err
	}
	if !m.Status.IsValid() {
		return &types.ValidationError{
			Field:  "status",
			Reason: fmt.Sprintf("unknown status %q", m.Status),
		}
	}
	if m.Conflict != nil && m.Status != StatusConflict {
		return &types.ValidationError{
			Field:  "status",
			Reason: "conflict record present but status is not conflict",
		}
	}
	return nil
}

// RecomputeMetrics refreshes the aggregated metrics from linked epics.
func (m *Mapping) RecomputeMetrics() {
	metrics := Metrics{EpicCount: len(m.LinkedEpics)}
	for _, link := range m.LinkedEpics {
		metrics.TotalIssues += link.TotalIssues
		metrics.CompletedIssues += link.CompletedIssues
	}
	m.AggregatedMetrics = metrics
}

// FileName derives the deterministic mapping filename for an external
// entity reference, e.g. "github:acme/app#5" ->
// "github-acme-app-5-<hash>.json".
//
// The readable prefix collapses reference punctuation to dashes, which
// is not injective (owner and repo names may themselves contain
// dashes), so a short hash of the raw reference disambiguates: distinct
// entities always get distinct files.
func FileName(externalEntity string) string {
	replacer := strings.NewReplacer(":", "-", "/", "-", "#", "-")
	sum := sha256.Sum256([]byte(externalEntity))
	return fmt.Sprintf("%s-%x.json", replacer.Replace(externalEntity), sum[:4])
}

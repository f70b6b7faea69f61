package mapping

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// Store is the on-disk mapping store. One JSON file per mapping under
// the mappings directory plus a derived index file.
//
// The store assumes a single writer: concurrent bridge invocations
// against the same storage path are not protected against each other.
// Within one process the store is safe for concurrent use.
type Store struct {
	dir    string
	logger *log.Logger

	mu    sync.Mutex
	index map[string]IndexEntry // by mapping ID

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// Init creates the mappings directory and an empty index if absent.
// Safe to call repeatedly.
func Init(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create mappings directory: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, indexFileName)); os.IsNotExist(err) {
		return saveIndex(dir, make(map[string]IndexEntry))
	}
	return nil
}

// Open loads the store from an existing mappings directory.
// A missing directory is an error at startup: an empty result here
// would silently hide a misconfigured storage path. Run Init first
// when bootstrapping a new workspace.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[mapping] ", log.LstdFlags)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("mappings directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("mappings path %s is not a directory", dir)
	}

	index, err := loadIndex(dir)
	if err != nil {
		return nil, err
	}

	return &Store{
		dir:    dir,
		logger: logger,
		index:  index,
		now:    time.Now,
	}, nil
}

// CreateParams configures a new mapping.
type CreateParams struct {
	// ExternalEntity is the wire-format external reference.
	ExternalEntity string

	// ExternalRepresentation is an optional human-readable label.
	ExternalRepresentation string

	// Epics seeds the linked epics. Counters start at zero and link
	// status starts open; syncs refresh them.
	Epics []EpicSeed

	// Metadata seeds free-form annotations.
	Metadata map[string]string
}

// EpicSeed identifies one epic to link at creation time.
type EpicSeed struct {
	Repository string
	EpicID     string
}

// Create allocates and persists a new mapping.
// Fails with types.ErrAlreadyExists if the external entity already has
// one; the store never silently overwrites.
func (s *Store) Create(params CreateParams) (*Mapping, error) {
	if _, err := types.ParseExternalRef(params.ExternalEntity); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.findByEntityLocked(params.ExternalEntity); exists {
		return nil, fmt.Errorf("mapping for %s: %w", params.ExternalEntity, types.ErrAlreadyExists)
	}

	now := s.now().UTC()
	m := &Mapping{
		ID:                     uuid.NewString(),
		ExternalEntity:         params.ExternalEntity,
		ExternalRepresentation: params.ExternalRepresentation,
		Status:                 StatusActive,
		Metadata:               params.Metadata,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	for _, seed := range params.Epics {
		m.LinkedEpics = append(m.LinkedEpics, EpicLink{
			Repository:    seed.Repository,
			EpicID:        seed.EpicID,
			Status:        types.StatusOpen,
			CreatedAt:     now,
			LastUpdatedAt: now,
		})
	}
	m.RecomputeMetrics()

	if err := s.persistLocked(m); err != nil {
		return nil, err
	}
	s.logger.Printf("created mapping %s for %s", m.ID, m.ExternalEntity)
	return m, nil
}

// Get returns the mapping with the given ID, or nil when absent.
func (s *Store) Get(id string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(id)
}

// FindByExternalEntity returns the mapping for an external entity
// reference, or nil when none exists.
func (s *Store) FindByExternalEntity(externalEntity string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.findByEntityLocked(externalEntity)
	if !ok {
		return nil, nil
	}
	return s.getLocked(id)
}

// FindByEpic returns the first mapping linking the given epic, or nil.
// This scans the full record set: the index only covers external entity
// and status, and epic links are low-cardinality full-record fields.
func (s *Store) FindByEpic(repository, epicID string) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.index {
		m, err := s.getLocked(id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		for _, link := range m.LinkedEpics {
			if link.Repository == repository && link.EpicID == epicID {
				return m, nil
			}
		}
	}
	return nil, nil
}

// UpdateParams describes a partial mapping update. Nil fields are left
// untouched.
type UpdateParams struct {
	// Status transitions the mapping status.
	Status *Status

	// LinkedEpics replaces the epic links when non-nil.
	LinkedEpics []EpicLink

	// Metadata is merged shallowly into existing metadata.
	Metadata map[string]string

	// Conflict marks the mapping conflicted and forces status conflict.
	Conflict *ConflictRecord

	// ClearConflict removes the conflict record; combine with Status
	// to move back to active in the same call.
	ClearConflict bool

	// SyncHistoryEntry, when set, is prepended to the history (trimmed
	// to SyncHistoryCap) and refreshes LastSyncedAt/LastSyncDirection.
	SyncHistoryEntry *SyncHistoryEntry
}

// Update applies a partial update and persists the full record.
// Fails with types.ErrNotFound for unknown IDs. A mapping in conflict
// state rejects every update that does not clear the conflict; conflicts
// are never silently overwritten.
func (s *Store) Update(id string, params UpdateParams) (*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("mapping %s: %w", id, types.ErrNotFound)
	}

	if m.Status == StatusConflict && !params.ClearConflict {
		return nil, fmt.Errorf("mapping %s: %w", id, types.ErrMappingConflict)
	}

	s.applyLocked(m, params)

	if err := s.persistLocked(m); err != nil {
		return nil, err
	}
	return m, nil
}

// applyLocked mutates m according to params and bumps UpdatedAt.
func (s *Store) applyLocked(m *Mapping, params UpdateParams) {
	if params.ClearConflict {
		m.Conflict = nil
	}
	if params.Conflict != nil {
		m.Conflict = params.Conflict
		m.Status = StatusConflict
	}
	if params.Status != nil && params.Conflict == nil {
		m.Status = *params.Status
	}
	if params.LinkedEpics != nil {
		m.LinkedEpics = params.LinkedEpics
		m.RecomputeMetrics()
	}
	if len(params.Metadata) > 0 {
		if m.Metadata == nil {
			m.Metadata = make(map[string]string, len(params.Metadata))
		}
		for k, v := range params.Metadata {
			m.Metadata[k] = v
		}
	}
	if params.SyncHistoryEntry != nil {
		entry := *params.SyncHistoryEntry
		m.SyncHistory = append([]SyncHistoryEntry{entry}, m.SyncHistory...)
		if len(m.SyncHistory) > SyncHistoryCap {
			m.SyncHistory = m.SyncHistory[:SyncHistoryCap]
		}
		ts := entry.Timestamp
		m.LastSyncedAt = &ts
		m.LastSyncDirection = entry.Direction
	}
	m.UpdatedAt = s.now().UTC()
}

// Delete removes a mapping file and its index entry.
// Fails with types.ErrNotFound for unknown IDs. Deletion is always an
// explicit operation; syncs never delete mappings.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.index[id]
	if !ok {
		return fmt.Errorf("mapping %s: %w", id, types.ErrNotFound)
	}

	path := filepath.Join(s.dir, entry.FilePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove mapping file: %w", err)
	}

	delete(s.index, id)
	if err := saveIndex(s.dir, s.index); err != nil {
		return err
	}
	s.logger.Printf("deleted mapping %s (%s)", id, entry.ExternalEntity)
	return nil
}

// Query filters a List call. Zero value lists everything.
type Query struct {
	// Repository matches the github repository portion of the external
	// entity (e.g. "acme/app").
	Repository string

	// ExternalEntity matches the exact external entity reference.
	ExternalEntity string

	// Status matches the mapping status.
	Status Status

	// HasConflict, when non-nil, filters by conflict presence.
	HasConflict *bool

	// SyncedAfter keeps mappings last synced after this time.
	SyncedAfter *time.Time

	// EpicRepository and EpicID filter by a linked epic. These require
	// loading full records.
	EpicRepository string
	EpicID         string

	// Limit caps the result count. 0 means no limit.
	Limit int
}

// List returns mappings matching the query, ordered by external entity.
// Index-level filters are applied before loading files; full-record
// filters (epic links, conflict details) are applied after.
func (s *Store) List(query Query) ([]*Mapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ExternalEntity < entries[j].ExternalEntity
	})

	var out []*Mapping
	for _, e := range entries {
		if query.ExternalEntity != "" && e.ExternalEntity != query.ExternalEntity {
			continue
		}
		if query.Status != "" && e.Status != query.Status {
			continue
		}
		if query.SyncedAfter != nil {
			if e.LastSyncedAt == nil || !e.LastSyncedAt.After(*query.SyncedAfter) {
				continue
			}
		}
		if query.Repository != "" {
			ref, err := types.ParseExternalRef(e.ExternalEntity)
			if err != nil || ref.Repository() != query.Repository {
				continue
			}
		}

		m, err := s.getLocked(e.ID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue
		}
		if query.HasConflict != nil && (m.Conflict != nil) != *query.HasConflict {
			continue
		}
		if query.EpicRepository != "" || query.EpicID != "" {
			if !linksEpic(m, query.EpicRepository, query.EpicID) {
				continue
			}
		}

		out = append(out, m)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

func linksEpic(m *Mapping, repository, epicID string) bool {
	for _, link := range m.LinkedEpics {
		if repository != "" && link.Repository != repository {
			continue
		}
		if epicID != "" && link.EpicID != epicID {
			continue
		}
		return true
	}
	return false
}

// ResolveConflict clears a mapping's conflict via an explicit strategy.
// Fails with types.ErrNotInConflict unless the mapping is conflicted.
// The resolved fields are applied, the conflict record is cleared,
// status returns to active, and a synthetic history entry records the
// strategy used.
func (s *Store) ResolveConflict(id string, resolution Resolution, resolved UpdateParams) (*Mapping, error) {
	if !resolution.IsValid() {
		return nil, &types.ValidationError{
			Field:  "resolution",
			Reason: fmt.Sprintf("unknown strategy %q (use github_wins, beads_wins, or merged)", resolution),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.getLocked(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("mapping %s: %w", id, types.ErrNotFound)
	}
	if m.Status != StatusConflict {
		return nil, fmt.Errorf("mapping %s: %w", id, types.ErrNotInConflict)
	}

	resolved.Conflict = nil
	resolved.ClearConflict = true
	active := StatusActive
	resolved.Status = &active
	resolved.SyncHistoryEntry = &SyncHistoryEntry{
		Timestamp: s.now().UTC(),
		Direction: "resolution",
		Success:   true,
		Changes:   fmt.Sprintf("conflict resolved via %s", resolution),
	}
	s.applyLocked(m, resolved)

	if err := s.persistLocked(m); err != nil {
		return nil, err
	}
	s.logger.Printf("resolved conflict on mapping %s via %s", id, resolution)
	return m, nil
}

// RebuildIndex regenerates the index by scanning every mapping file.
// Use this to recover from a lost or corrupt index; the full files are
// the source of truth.
func (s *Store) RebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read mappings directory: %w", err)
	}

	index := make(map[string]IndexEntry)
	for _, entry := range entries {
		if entry.IsDir() || !isMappingFile(entry.Name()) {
			continue
		}
		m, err := readMappingFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Printf("WARNING: skipping unreadable mapping file %s: %v", entry.Name(), err)
			continue
		}
		index[m.ID] = indexEntryFor(m)
	}

	s.index = index
	return saveIndex(s.dir, s.index)
}

// ===================
// Internal helpers
// ===================

func (s *Store) findByEntityLocked(externalEntity string) (string, bool) {
	for id, e := range s.index {
		if e.ExternalEntity == externalEntity {
			return id, true
		}
	}
	return "", false
}

// getLocked loads the full record for an indexed mapping. An index
// entry whose file has gone missing yields nil, matching lookup
// semantics for absent mappings.
func (s *Store) getLocked(id string) (*Mapping, error) {
	entry, ok := s.index[id]
	if !ok {
		return nil, nil
	}

	m, err := readMappingFile(filepath.Join(s.dir, entry.FilePath))
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Printf("WARNING: index entry %s points at missing file %s", id, entry.FilePath)
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// persistLocked writes the full record atomically and refreshes the
// index entry.
func (s *Store) persistLocked(m *Mapping) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("cannot persist invalid mapping: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mapping %s: %w", m.ID, err)
	}

	path := filepath.Join(s.dir, FileName(m.ExternalEntity))
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write mapping temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename mapping temp file: %w", err)
	}

	s.index[m.ID] = indexEntryFor(m)
	return saveIndex(s.dir, s.index)
}

func readMappingFile(path string) (*Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse mapping file %s: %w", path, err)
	}
	return &m, nil
}

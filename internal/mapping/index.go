package mapping

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// indexFileName is the single index file under the mappings directory.
const indexFileName = "index.json"

// IndexEntry is the lightweight per-mapping row kept in the index for
// listing without loading every mapping file.
type IndexEntry struct {
	ID             string     `json:"id"`
	ExternalEntity string     `json:"external_entity"`
	Status         Status     `json:"status"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	FilePath       string     `json:"file_path"`
}

// indexFile is the on-disk index format.
type indexFile struct {
	Version int          `json:"version"`
	Entries []IndexEntry `json:"entries"`
}

// loadIndex reads the index file. A missing index is an empty index;
// the index is a derived cache, not the source of truth.
func loadIndex(dir string) (map[string]IndexEntry, error) {
	path := filepath.Join(dir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]IndexEntry), nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}

	entries := make(map[string]IndexEntry, len(idx.Entries))
	for _, e := range idx.Entries {
		entries[e.ID] = e
	}
	return entries, nil
}

// saveIndex writes the index atomically via temp file and rename.
// Entries are sorted by external entity for stable git diffs.
func saveIndex(dir string, entries map[string]IndexEntry) error {
	idx := indexFile{Version: 1, Entries: make([]IndexEntry, 0, len(entries))}
	for _, e := range entries {
		idx.Entries = append(idx.Entries, e)
	}
	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].ExternalEntity < idx.Entries[j].ExternalEntity
	})

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	path := filepath.Join(dir, indexFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write index temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename index temp file: %w", err)
	}
	return nil
}

// indexEntryFor derives the index row from a full mapping.
func indexEntryFor(m *Mapping) IndexEntry {
	return IndexEntry{
		ID:             m.ID,
		ExternalEntity: m.ExternalEntity,
		Status:         m.Status,
		LastSyncedAt:   m.LastSyncedAt,
		FilePath:       FileName(m.ExternalEntity),
	}
}

// isMappingFile reports whether a directory entry looks like a mapping
// file (excludes the index and temp files).
func isMappingFile(name string) bool {
	return strings.HasSuffix(name, ".json") && name != indexFileName
}

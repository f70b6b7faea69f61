package mapping

import (
	"sort"
	"time"
)

// Stats aggregates store-wide counters. Purely derived; computing stats
// has no side effects.
type Stats struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"by_status"`
	Conflicts    int            `json:"conflicts"`
	SyncedLast24 int            `json:"synced_last_24h"`

	// SyncSuccessRate is successful syncs over total syncs across all
	// history entries, in [0, 1]. With no history at all the rate is
	// 1.0: nothing has failed yet.
	SyncSuccessRate float64 `json:"sync_success_rate"`

	// Repositories are the distinct github repositories mapped, sorted.
	Repositories []string `json:"repositories"`
}

// GetStats computes aggregate statistics across all mappings.
func (s *Store) GetStats() (*Stats, error) {
	mappings, err := s.List(Query{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{ByStatus: make(map[Status]int)}
	cutoff := s.now().Add(-24 * time.Hour)
	repos := make(map[string]bool)

	var totalSyncs, successfulSyncs int
	for _, m := range mappings {
		stats.Total++
		stats.ByStatus[m.Status]++
		if m.Conflict != nil {
			stats.Conflicts++
		}
		if m.LastSyncedAt != nil && m.LastSyncedAt.After(cutoff) {
			stats.SyncedLast24++
		}
		for _, entry := range m.SyncHistory {
			totalSyncs++
			if entry.Success {
				successfulSyncs++
			}
		}
		for _, link := range m.LinkedEpics {
			if link.Repository != "" {
				repos[link.Repository] = true
			}
		}
	}

	if totalSyncs == 0 {
		stats.SyncSuccessRate = 1.0
	} else {
		stats.SyncSuccessRate = float64(successfulSyncs) / float64(totalSyncs)
	}

	for repo := range repos {
		stats.Repositories = append(stats.Repositories, repo)
	}
	sort.Strings(stats.Repositories)

	return stats, nil
}

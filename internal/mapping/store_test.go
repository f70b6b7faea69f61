package mapping

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "mappings")
	if err := Init(dir); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	store, err := Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func createTestMapping(t *testing.T, store *Store, entity string) *Mapping {
	t.Helper()

	m, err := store.Create(CreateParams{
		ExternalEntity:         entity,
		ExternalRepresentation: "Test epic",
		Epics: []EpicSeed{
			{Repository: "acme/app", EpicID: "epic-1"},
		},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return m
}

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent"), log.New(io.Discard, "", 0))
	if err == nil {
		t.Fatal("Open should fail for a missing mappings directory")
	}
}

func TestCreate(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	if m.ID == "" {
		t.Error("expected generated UUID")
	}
	if m.Status != StatusActive {
		t.Errorf("status = %s, want active", m.Status)
	}
	if len(m.LinkedEpics) != 1 {
		t.Fatalf("expected 1 epic link, got %d", len(m.LinkedEpics))
	}
	link := m.LinkedEpics[0]
	if link.Status != types.StatusOpen || link.CompletedIssues != 0 || link.TotalIssues != 0 {
		t.Errorf("epic link not initialized: %+v", link)
	}
	if m.CreatedAt.IsZero() || !m.CreatedAt.Equal(m.UpdatedAt) {
		t.Errorf("timestamps not stamped: created=%v updated=%v", m.CreatedAt, m.UpdatedAt)
	}

	// The mapping file and index must both exist on disk.
	if _, err := os.Stat(filepath.Join(store.dir, FileName("github:acme/app#5"))); err != nil {
		t.Errorf("mapping file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, indexFileName)); err != nil {
		t.Errorf("index file missing: %v", err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	store := setupStore(t)
	createTestMapping(t, store, "github:acme/app#5")

	_, err := store.Create(CreateParams{ExternalEntity: "github:acme/app#5"})
	if !errors.Is(err, types.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Exactly one mapping must remain for that entity.
	all, err := store.List(Query{ExternalEntity: "github:acme/app#5"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected exactly 1 mapping, got %d", len(all))
	}
}

func TestCreateInvalidEntity(t *testing.T) {
	store := setupStore(t)
	_, err := store.Create(CreateParams{ExternalEntity: "jira:PROJ-1"})
	if err == nil || !types.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetAndFind(t *testing.T) {
	store := setupStore(t)
	created := createTestMapping(t, store, "shortcut:42")

	got, err := store.Get(created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("Get returned %+v", got)
	}

	byEntity, err := store.FindByExternalEntity("shortcut:42")
	if err != nil {
		t.Fatalf("FindByExternalEntity failed: %v", err)
	}
	if byEntity == nil || byEntity.ID != created.ID {
		t.Errorf("FindByExternalEntity returned %+v", byEntity)
	}

	byEpic, err := store.FindByEpic("acme/app", "epic-1")
	if err != nil {
		t.Fatalf("FindByEpic failed: %v", err)
	}
	if byEpic == nil || byEpic.ID != created.ID {
		t.Errorf("FindByEpic returned %+v", byEpic)
	}

	// Absence is nil, not an error.
	missing, err := store.Get("no-such-id")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}
	missing, err = store.FindByExternalEntity("github:acme/app#99")
	if err != nil || missing != nil {
		t.Errorf("FindByExternalEntity(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestUpdateNotFound(t *testing.T) {
	store := setupStore(t)
	_, err := store.Update("nope", UpdateParams{})
	if !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateHistoryTrimming(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	for i := 0; i < SyncHistoryCap+10; i++ {
		entry := &SyncHistoryEntry{
			Timestamp: time.Now().UTC().Add(time.Duration(i) * time.Second),
			Direction: "push",
			Success:   true,
		}
		var err error
		m, err = store.Update(m.ID, UpdateParams{SyncHistoryEntry: entry})
		if err != nil {
			t.Fatalf("Update %d failed: %v", i, err)
		}
	}

	if len(m.SyncHistory) != SyncHistoryCap {
		t.Errorf("history length = %d, want %d", len(m.SyncHistory), SyncHistoryCap)
	}
	// Newest first.
	if !m.SyncHistory[0].Timestamp.After(m.SyncHistory[1].Timestamp) {
		t.Error("history is not newest-first")
	}
	if m.LastSyncedAt == nil || !m.LastSyncedAt.Equal(m.SyncHistory[0].Timestamp) {
		t.Error("LastSyncedAt not refreshed from newest entry")
	}
	if m.LastSyncDirection != "push" {
		t.Errorf("LastSyncDirection = %q", m.LastSyncDirection)
	}
}

func TestUpdateMetadataMerge(t *testing.T) {
	store := setupStore(t)
	m, err := store.Create(CreateParams{
		ExternalEntity: "github:acme/app#5",
		Metadata:       map[string]string{"a": "1", "b": "2"},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	m, err = store.Update(m.ID, UpdateParams{
		Metadata: map[string]string{"b": "20", "c": "3"},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := map[string]string{"a": "1", "b": "20", "c": "3"}
	for k, v := range want {
		if m.Metadata[k] != v {
			t.Errorf("metadata[%s] = %q, want %q", k, m.Metadata[k], v)
		}
	}
}

func TestConflictLifecycle(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	// Set conflict: status must become conflict.
	m, err := store.Update(m.ID, UpdateParams{
		Conflict: &ConflictRecord{
			DetectedAt:  time.Now().UTC(),
			Type:        "divergent_status",
			Description: "epic closed locally but issue reopened upstream",
		},
	})
	if err != nil {
		t.Fatalf("Update(set conflict) failed: %v", err)
	}
	if m.Status != StatusConflict {
		t.Errorf("status = %s, want conflict", m.Status)
	}

	// Any further plain update must be rejected.
	syncing := StatusSyncing
	if _, err := store.Update(m.ID, UpdateParams{Status: &syncing}); !errors.Is(err, types.ErrMappingConflict) {
		t.Fatalf("expected ErrMappingConflict, got %v", err)
	}

	historyBefore := len(m.SyncHistory)

	// Resolution clears the conflict, reactivates, and appends exactly
	// one history entry.
	m, err = store.ResolveConflict(m.ID, ResolutionBeadsWins, UpdateParams{})
	if err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}
	if m.Status != StatusActive {
		t.Errorf("status after resolution = %s, want active", m.Status)
	}
	if m.Conflict != nil {
		t.Error("conflict record not cleared")
	}
	if len(m.SyncHistory) != historyBefore+1 {
		t.Errorf("history grew by %d, want 1", len(m.SyncHistory)-historyBefore)
	}
	if m.SyncHistory[0].Changes != "conflict resolved via beads_wins" {
		t.Errorf("resolution entry = %+v", m.SyncHistory[0])
	}
}

func TestResolveConflictNotInConflict(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	_, err := store.ResolveConflict(m.ID, ResolutionMerged, UpdateParams{})
	if !errors.Is(err, types.ErrNotInConflict) {
		t.Fatalf("expected ErrNotInConflict, got %v", err)
	}
}

func TestResolveConflictUnknownStrategy(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	_, err := store.ResolveConflict(m.ID, Resolution("coin_flip"), UpdateParams{})
	if err == nil || !types.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	if err := store.Delete(m.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, err := store.Get(m.ID)
	if err != nil || got != nil {
		t.Errorf("Get after delete = %v, %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(store.dir, FileName("github:acme/app#5"))); !os.IsNotExist(err) {
		t.Error("mapping file not removed")
	}

	if err := store.Delete(m.ID); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	store := setupStore(t)
	createTestMapping(t, store, "github:acme/app#1")
	createTestMapping(t, store, "github:acme/app#2")
	m3, err := store.Create(CreateParams{
		ExternalEntity: "github:other/repo#9",
		Epics:          []EpicSeed{{Repository: "other/repo", EpicID: "epic-9"}},
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Create(CreateParams{ExternalEntity: "shortcut:77"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	all, err := store.List(Query{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List() returned %d, want 4", len(all))
	}

	byRepo, err := store.List(Query{Repository: "acme/app"})
	if err != nil {
		t.Fatalf("List by repo failed: %v", err)
	}
	if len(byRepo) != 2 {
		t.Errorf("List(repo=acme/app) = %d, want 2", len(byRepo))
	}

	byEpic, err := store.List(Query{EpicRepository: "other/repo", EpicID: "epic-9"})
	if err != nil {
		t.Fatalf("List by epic failed: %v", err)
	}
	if len(byEpic) != 1 || byEpic[0].ID != m3.ID {
		t.Errorf("List(epic) = %v", byEpic)
	}

	limited, err := store.List(Query{Limit: 2})
	if err != nil {
		t.Fatalf("List limited failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("List(limit=2) = %d", len(limited))
	}

	// Conflict filter.
	if _, err := store.Update(m3.ID, UpdateParams{
		Conflict: &ConflictRecord{DetectedAt: time.Now(), Type: "x", Description: "y"},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	hasConflict := true
	conflicted, err := store.List(Query{HasConflict: &hasConflict})
	if err != nil {
		t.Fatalf("List conflicted failed: %v", err)
	}
	if len(conflicted) != 1 || conflicted[0].ID != m3.ID {
		t.Errorf("List(hasConflict) = %v", conflicted)
	}
}

func TestListSyncedAfter(t *testing.T) {
	store := setupStore(t)
	m1 := createTestMapping(t, store, "github:acme/app#1")
	createTestMapping(t, store, "github:acme/app#2")

	if _, err := store.Update(m1.ID, UpdateParams{
		SyncHistoryEntry: &SyncHistoryEntry{
			Timestamp: time.Now().UTC(),
			Direction: "push",
			Success:   true,
		},
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	cutoff := time.Now().Add(-time.Hour)
	recent, err := store.List(Query{SyncedAfter: &cutoff})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != m1.ID {
		t.Errorf("List(syncedAfter) = %v", recent)
	}
}

func TestRebuildIndex(t *testing.T) {
	store := setupStore(t)
	m1 := createTestMapping(t, store, "github:acme/app#1")
	m2 := createTestMapping(t, store, "shortcut:9")

	// Simulate a lost index.
	if err := os.Remove(filepath.Join(store.dir, indexFileName)); err != nil {
		t.Fatalf("failed to remove index: %v", err)
	}
	reopened, err := Open(store.dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got, _ := reopened.Get(m1.ID); got != nil {
		t.Fatal("expected empty index after loss")
	}

	if err := reopened.RebuildIndex(); err != nil {
		t.Fatalf("RebuildIndex failed: %v", err)
	}
	for _, id := range []string{m1.ID, m2.ID} {
		got, err := reopened.Get(id)
		if err != nil || got == nil {
			t.Errorf("Get(%s) after rebuild = %v, %v", id, got, err)
		}
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	store := setupStore(t)
	m := createTestMapping(t, store, "github:acme/app#5")

	reopened, err := Open(store.dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	got, err := reopened.Get(m.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ExternalEntity != "github:acme/app#5" {
		t.Errorf("reopened mapping = %+v", got)
	}
}

func TestFileName(t *testing.T) {
	for _, entity := range []string{"github:acme/app#5", "shortcut:12345"} {
		got := FileName(entity)
		if got != FileName(entity) {
			t.Errorf("FileName(%q) is not deterministic", entity)
		}
		if !strings.HasSuffix(got, ".json") {
			t.Errorf("FileName(%q) = %q, want .json suffix", entity, got)
		}
		if strings.ContainsAny(got, ":/#") {
			t.Errorf("FileName(%q) = %q contains reference punctuation", entity, got)
		}
	}
	if !strings.HasPrefix(FileName("github:acme/app#5"), "github-acme-app-5-") {
		t.Errorf("FileName prefix = %q, want readable github-acme-app-5-", FileName("github:acme/app#5"))
	}
}

func TestFileNameDistinguishesDashedNames(t *testing.T) {
	// Dash collapsing alone would send both of these to the same file.
	a := FileName("github:acme-app/web#1")
	b := FileName("github:acme/app-web#1")
	if a == b {
		t.Fatalf("FileName collision: %q and %q both map to %q",
			"github:acme-app/web#1", "github:acme/app-web#1", a)
	}
}

func TestCreateDashedEntitiesKeepSeparateRecords(t *testing.T) {
	store := setupStore(t)

	first, err := store.Create(CreateParams{ExternalEntity: "github:acme-app/web#1"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	second, err := store.Create(CreateParams{ExternalEntity: "github:acme/app-web#1"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ExternalEntity != "github:acme-app/web#1" {
		t.Errorf("Get(%s) = %+v, want record for github:acme-app/web#1", first.ID, got)
	}
	got, err = store.Get(second.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.ExternalEntity != "github:acme/app-web#1" {
		t.Errorf("Get(%s) = %+v, want record for github:acme/app-web#1", second.ID, got)
	}

	for _, entity := range []string{"github:acme-app/web#1", "github:acme/app-web#1"} {
		if _, err := os.Stat(filepath.Join(store.dir, FileName(entity))); err != nil {
			t.Errorf("mapping file for %s missing: %v", entity, err)
		}
	}
}

package watch

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"write to record file", fsnotify.Event{Name: "/x/.beads/issues.jsonl", Op: fsnotify.Write}, true},
		{"create record file", fsnotify.Event{Name: "/x/.beads/issues.jsonl", Op: fsnotify.Create}, true},
		{"rename into place", fsnotify.Event{Name: "/x/.beads/issues.jsonl", Op: fsnotify.Rename}, true},
		{"chmod ignored", fsnotify.Event{Name: "/x/.beads/issues.jsonl", Op: fsnotify.Chmod}, false},
		{"other file ignored", fsnotify.Event{Name: "/x/.beads/config.yaml", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relevant(tt.event, "issues.jsonl"); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

func TestNewRequiresSyncFunc(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatal("expected error for nil sync function")
	}
}

func TestWatcherTriggersDebouncedSync(t *testing.T) {
	dir := t.TempDir()
	beadsDir := filepath.Join(dir, ".beads")
	if err := os.MkdirAll(beadsDir, 0755); err != nil {
		t.Fatal(err)
	}
	jsonl := filepath.Join(beadsDir, "issues.jsonl")
	if err := os.WriteFile(jsonl, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	synced := make(chan struct{}, 16)
	w, err := New(Config{
		RepoDir:          dir,
		DebounceInterval: 50 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[test] ", 0),
	}, func(ctx context.Context) error {
		synced <- struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watch a moment to attach before writing.
	time.Sleep(100 * time.Millisecond)

	// A burst of writes should collapse into one sync.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(jsonl, []byte("{\"id\":\"bd-1\"}\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-synced:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never triggered")
	}

	// Let the debounce window drain, then confirm the burst did not
	// produce a second sync.
	time.Sleep(200 * time.Millisecond)
	select {
	case <-synced:
		t.Error("burst of writes triggered more than one sync")
	default:
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

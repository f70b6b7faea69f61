// Package watch runs syncs automatically when the beads record file
// changes on disk.
//
// Rapid successive writes are debounced: the file is rewritten for
// every mutation, so a burst of bd commands collapses into one sync.
package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceInterval is how long to wait after the last write
// before triggering a sync.
const DefaultDebounceInterval = 500 * time.Millisecond

// SyncFunc is invoked after the record file settles.
type SyncFunc func(ctx context.Context) error

// Config holds configuration for the watcher.
type Config struct {
	// RepoDir is the git repository root. Empty means cwd.
	RepoDir string

	// JSONLPath is the record file path relative to RepoDir.
	// Empty means ".beads/issues.jsonl".
	JSONLPath string

	// DebounceInterval batches rapid updates together.
	// Zero means DefaultDebounceInterval.
	DebounceInterval time.Duration

	// Logger for watcher activity.
	Logger *log.Logger
}

// Watcher monitors the record file and triggers debounced syncs.
type Watcher struct {
	repoDir   string
	jsonlPath string
	debounce  time.Duration
	logger    *log.Logger

	watcher *fsnotify.Watcher
	syncFn  SyncFunc
}

// New creates a watcher. Run() starts it.
func New(cfg Config, syncFn SyncFunc) (*Watcher, error) {
	if syncFn == nil {
		return nil, fmt.Errorf("syncFn cannot be nil")
	}
	if cfg.JSONLPath == "" {
		cfg.JSONLPath = filepath.Join(".beads", "issues.jsonl")
	}
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		repoDir:   cfg.RepoDir,
		jsonlPath: cfg.JSONLPath,
		debounce:  cfg.DebounceInterval,
		logger:    cfg.Logger,
		watcher:   watcher,
		syncFn:    syncFn,
	}, nil
}

// Run watches the record file's directory and invokes the sync
// function after writes settle. Blocks until ctx is cancelled.
//
// The directory is watched rather than the file itself: editors and bd
// replace the file via rename, which would drop a file-level watch.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	dir := filepath.Dir(filepath.Join(w.repoDir, w.jsonlPath))
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.logger.Printf("watching %s", dir)

	target := filepath.Base(w.jsonlPath)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event, target) {
				continue
			}
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("watch error: %v", err)

		case <-timer.C:
			pending = false
			w.logger.Printf("record file settled, syncing")
			if err := w.syncFn(ctx); err != nil {
				w.logger.Printf("sync failed: %v", err)
			}
		}
	}
}

// relevant filters events down to mutations of the record file.
// Renames count: atomic replace shows up as a rename into place.
func relevant(event fsnotify.Event, target string) bool {
	if filepath.Base(event.Name) != target {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

// Package changes implements change-data-capture over the beads JSONL
// store by diffing two git snapshots of .beads/issues.jsonl.
//
// The JSONL file is append-only with one complete record per line; an
// update shows up in a diff as a removed old line plus an added new
// line. Scanning only the added lines therefore yields the authoritative
// post-change records.
package changes

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultDiffTimeout bounds the git diff subprocess.
const DefaultDiffTimeout = 30 * time.Second

// ChangeSet is the result of one change detection pass. It is produced
// fresh per invocation and never persisted.
type ChangeSet struct {
	// ChangedItemIDs are the IDs extracted from added diff lines,
	// deduplicated, in first-seen order.
	ChangedItemIDs []string

	// AffectedExternalRefs maps external reference strings to the
	// representative item ID that resolved to them. Populated by the
	// orchestrator after reference resolution, not by the detector.
	AffectedExternalRefs map[string]string

	// RawDiff is the diff text the IDs were extracted from.
	RawDiff string
}

// Empty returns true if no items changed.
func (cs *ChangeSet) Empty() bool {
	return len(cs.ChangedItemIDs) == 0
}

// Detector detects changed items by diffing the JSONL record file
// between a past git ref and the working copy. It holds no mutable
// state and never writes; detection is a pure read.
type Detector struct {
	// repoDir is the git repository root containing the beads store.
	repoDir string

	// jsonlPath is the record file path relative to repoDir.
	jsonlPath string

	timeout time.Duration
	logger  *log.Logger
}

// DetectorOptions configures a Detector.
type DetectorOptions struct {
	// RepoDir is the git repository root. Empty means cwd.
	RepoDir string

	// JSONLPath is the record file path relative to RepoDir.
	// Empty means ".beads/issues.jsonl".
	JSONLPath string

	// Timeout bounds the diff subprocess. Zero means DefaultDiffTimeout.
	Timeout time.Duration

	// Logger for scan diagnostics. Nil means stderr default.
	Logger *log.Logger
}

// NewDetector creates a change detector.
func NewDetector(opts DetectorOptions) *Detector {
	if opts.JSONLPath == "" {
		opts.JSONLPath = ".beads/issues.jsonl"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDiffTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[changes] ", log.LstdFlags)
	}
	return &Detector{
		repoDir:   opts.RepoDir,
		jsonlPath: opts.JSONLPath,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// DetectChanges diffs the record file between sinceRef and the working
// copy and returns the set of changed item IDs.
//
// A failing diff command (invalid ref, repository with no commits yet)
// yields an empty ChangeSet rather than an error: absence of history is
// not an error for this operation.
func (d *Detector) DetectChanges(ctx context.Context, sinceRef string) (*ChangeSet, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "diff", sinceRef, "--", d.jsonlPath)
	if d.repoDir != "" {
		cmd.Dir = d.repoDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Cancellation is the caller's signal, not absence of history.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// No history to diff against. Treat as "nothing changed".
		d.logger.Printf("git diff %s failed (%v): %s", sinceRef,
			err, strings.TrimSpace(stderr.String()))
		return &ChangeSet{AffectedExternalRefs: make(map[string]string)}, nil
	}

	diff := stdout.String()
	return &ChangeSet{
		ChangedItemIDs:       d.scanAddedLines(diff),
		AffectedExternalRefs: make(map[string]string),
		RawDiff:              diff,
	}, nil
}

// scanAddedLines extracts record IDs from the added lines of a unified
// diff. Lines that fail to parse as JSON are skipped without aborting
// the scan; diffs routinely contain truncated lines or binary noise.
func (d *Detector) scanAddedLines(diff string) []string {
	var ids []string
	seen := make(map[string]bool)
	skipped := 0

	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "+") || strings.HasPrefix(line, "+++") {
			continue
		}

		var record struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal([]byte(line[1:]), &record); err != nil {
			skipped++
			continue
		}
		if record.ID == "" || seen[record.ID] {
			continue
		}
		seen[record.ID] = true
		ids = append(ids, record.ID)
	}

	if skipped > 0 {
		d.logger.Printf("skipped %d unparseable added lines", skipped)
	}
	return ids
}

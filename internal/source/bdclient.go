package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// DefaultCommandTimeout bounds each bd invocation.
const DefaultCommandTimeout = 30 * time.Second

// BDClient implements Client by shelling out to the bd CLI.
type BDClient struct {
	// binary is the bd executable name or path.
	binary string

	// workDir is the directory bd runs in (the beads workspace root).
	workDir string

	// timeout bounds each subprocess call.
	timeout time.Duration

	logger *log.Logger
}

// BDClientOptions configures a BDClient.
type BDClientOptions struct {
	// Binary is the bd executable. Empty means "bd" from PATH.
	Binary string

	// WorkDir is the workspace root to run bd in. Empty means cwd.
	WorkDir string

	// Timeout bounds each subprocess call. Zero means DefaultCommandTimeout.
	Timeout time.Duration

	// Logger for subprocess activity. Nil means stderr default.
	Logger *log.Logger
}

// NewBDClient creates a bd-backed source client.
func NewBDClient(opts BDClientOptions) *BDClient {
	if opts.Binary == "" {
		opts.Binary = "bd"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCommandTimeout
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[source] ", log.LstdFlags)
	}
	return &BDClient{
		binary:  opts.Binary,
		workDir: opts.WorkDir,
		timeout: opts.Timeout,
		logger:  opts.Logger,
	}
}

// Show implements Client.Show via "bd show --json <id>".
func (c *BDClient) Show(ctx context.Context, id string) (*types.TrackedItem, error) {
	output, err := c.run(ctx, "show", "--json", id)
	if err != nil {
		if isNotFoundOutput(err) {
			return nil, fmt.Errorf("item %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}

	var item types.TrackedItem
	if err := json.Unmarshal(output, &item); err != nil {
		return nil, &types.SubprocessError{
			Cmd:    c.binary + " show",
			Stderr: "unparseable JSON output",
			Err:    err,
		}
	}
	return &item, nil
}

// List implements Client.List via "bd list --json".
func (c *BDClient) List(ctx context.Context, filter Filter) ([]*types.TrackedItem, error) {
	args := []string{"list", "--json"}
	if filter.IssueType != "" {
		args = append(args, "--type", filter.IssueType)
	}
	if filter.Status != "" {
		args = append(args, "--status", string(filter.Status))
	}
	if filter.Limit > 0 {
		args = append(args, "--limit", strconv.Itoa(filter.Limit))
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	var items []*types.TrackedItem
	if err := json.Unmarshal(output, &items); err != nil {
		return nil, &types.SubprocessError{
			Cmd:    c.binary + " list",
			Stderr: "unparseable JSON output",
			Err:    err,
		}
	}
	return items, nil
}

// DepTree implements Client.DepTree via "bd dep tree --json <id>".
func (c *BDClient) DepTree(ctx context.Context, rootID string, opts TreeOptions) (*TreeNode, error) {
	args := []string{"dep", "tree", "--json", rootID}
	if opts.MaxDepth > 0 {
		args = append(args, "--max-depth", strconv.Itoa(opts.MaxDepth))
	}

	output, err := c.run(ctx, args...)
	if err != nil {
		if isNotFoundOutput(err) {
			return nil, fmt.Errorf("item %s: %w", rootID, types.ErrNotFound)
		}
		return nil, err
	}

	var root treeRecord
	if err := json.Unmarshal(output, &root); err != nil {
		return nil, &types.SubprocessError{
			Cmd:    c.binary + " dep tree",
			Stderr: "unparseable JSON output",
			Err:    err,
		}
	}
	return root.toNode(), nil
}

// treeRecord is the wire format of bd dep tree --json.
type treeRecord struct {
	ID           string               `json:"id"`
	Title        string               `json:"title,omitempty"`
	Status       types.Status         `json:"status"`
	IssueType    string               `json:"issue_type,omitempty"`
	ExternalRef  string               `json:"external_ref,omitempty"`
	EdgeType     types.DependencyType `json:"edge_type,omitempty"`
	Dependencies []treeRecord         `json:"dependencies,omitempty"`
}

func (r *treeRecord) toNode() *TreeNode {
	node := &TreeNode{
		Item: &types.TrackedItem{
			ID:          r.ID,
			Title:       r.Title,
			Status:      r.Status,
			IssueType:   r.IssueType,
			ExternalRef: r.ExternalRef,
		},
		EdgeType: r.EdgeType,
	}
	for i := range r.Dependencies {
		node.Children = append(node.Children, r.Dependencies[i].toNode())
	}
	return node
}

// run executes a bd command with timeout, capturing stderr for error
// reporting.
func (c *BDClient) run(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	if c.workDir != "" {
		cmd.Dir = c.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &types.SubprocessError{
			Cmd:    c.binary + " " + strings.Join(args, " "),
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

// isNotFoundOutput reports whether a subprocess error indicates a
// missing item rather than a tooling failure.
func isNotFoundOutput(err error) bool {
	var spErr *types.SubprocessError
	if !errors.As(err, &spErr) {
		return false
	}
	return strings.Contains(strings.ToLower(spErr.Stderr), "not found")
}

package diagram

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/beads-bridge/internal/source"
	"github.com/steveyegge/beads-bridge/internal/types"
)

// Generator renders a dependency tree into a markdown block suitable
// for embedding in an entity body.
type Generator interface {
	Generate(ctx context.Context, root *source.TreeNode) (string, error)
}

// maxLabelLen truncates node labels so wide titles do not blow up the
// rendered diagram.
const maxLabelLen = 40

// Mermaid renders trees as fenced mermaid flowcharts.
type Mermaid struct {
	// Direction is the flowchart direction, "TD" by default.
	Direction string
}

// NewMermaid creates a top-down mermaid generator.
func NewMermaid() *Mermaid {
	return &Mermaid{Direction: "TD"}
}

// Generate implements Generator. Node IDs are sanitized for mermaid
// syntax; closed items get a distinct style so progress is visible at a
// glance. A shared node reached over multiple edges is declared once.
func (g *Mermaid) Generate(ctx context.Context, root *source.TreeNode) (string, error) {
	if root == nil || root.Item == nil {
		return "", fmt.Errorf("diagram: empty tree")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	direction := g.Direction
	if direction == "" {
		direction = "TD"
	}

	var b strings.Builder
	b.WriteString("```mermaid\nflowchart ")
	b.WriteString(direction)
	b.WriteString("\n")

	declared := make(map[string]bool)
	var closed []string
	var walk func(node *source.TreeNode)
	walk = func(node *source.TreeNode) {
		id := nodeID(node.Item.ID)
		if !declared[id] {
			declared[id] = true
			fmt.Fprintf(&b, "    %s[%q]\n", id, nodeLabel(node.Item))
			if node.Item.Status == types.StatusClosed {
				closed = append(closed, id)
			}
		}
		for _, child := range node.Children {
			walk(child)
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", id, child.EdgeType, nodeID(child.Item.ID))
		}
	}
	walk(root)

	if len(closed) > 0 {
		b.WriteString("    classDef done fill:#d4edda,stroke:#28a745\n")
		fmt.Fprintf(&b, "    class %s done\n", strings.Join(closed, ","))
	}
	b.WriteString("```")
	return b.String(), nil
}

// nodeID maps a tracked item ID to a mermaid-safe identifier.
func nodeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func nodeLabel(item *types.TrackedItem) string {
	title := item.Title
	// Truncate on rune boundaries so multibyte titles stay valid UTF-8.
	if runes := []rune(title); len(runes) > maxLabelLen {
		title = string(runes[:maxLabelLen-3]) + "..."
	}
	return item.ID + ": " + title
}

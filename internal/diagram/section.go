// Package diagram renders dependency diagrams for external tracker
// entities and places them idempotently into entity bodies.
//
// The placed section is delimited by fixed HTML-comment markers. The
// region between the markers is fully owned by the bridge: each sync
// replaces it in place, so hand edits inside the markers do not
// survive. FormatSection and ParseSection are a matched pair; drift
// between them would silently break the idempotence guarantee, which is
// why both are round-trip tested.
package diagram

import (
	"regexp"
	"strings"
	"time"
)

// Section markers. These exact strings delimit the auto-managed region
// of an entity body and must never change between releases, or existing
// bodies would accumulate duplicate sections.
const (
	SectionStart = "<!-- beads-bridge:diagram:start -->"
	SectionEnd   = "<!-- beads-bridge:diagram:end -->"
)

// sectionHeader is the human-readable heading inside the section.
const sectionHeader = "## Dependency Diagram"

// lastUpdatedPattern matches the timestamp/trigger line written by
// FormatSection.
var lastUpdatedPattern = regexp.MustCompile(`_last updated: (\S+) \(([^)]*)\)_`)

// SectionInfo is what ParseSection recovers from an entity body without
// re-fetching external state.
type SectionInfo struct {
	Exists      bool
	LastUpdated time.Time
	Trigger     string
}

// FormatSection renders the full marked section around the given
// diagram content.
func FormatSection(content string, updatedAt time.Time, trigger string) string {
	var b strings.Builder
	b.WriteString(SectionStart)
	b.WriteString("\n")
	b.WriteString(sectionHeader)
	b.WriteString("\n\n")
	b.WriteString(strings.TrimRight(content, "\n"))
	b.WriteString("\n\n_last updated: ")
	b.WriteString(updatedAt.UTC().Format(time.RFC3339))
	b.WriteString(" (")
	b.WriteString(trigger)
	b.WriteString(")_\n")
	b.WriteString(SectionEnd)
	return b.String()
}

// ParseSection inspects a body for a bridge-managed section.
// A body without markers yields a zero SectionInfo.
func ParseSection(body string) SectionInfo {
	start := strings.Index(body, SectionStart)
	end := strings.Index(body, SectionEnd)
	if start < 0 || end < start {
		return SectionInfo{}
	}

	info := SectionInfo{Exists: true}
	region := body[start:end]
	if m := lastUpdatedPattern.FindStringSubmatch(region); m != nil {
		if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
			info.LastUpdated = ts
		}
		info.Trigger = m[2]
	}
	return info
}

// UpsertSection places a formatted section into a body.
//
// If the body already contains the marker pair, the entire delimited
// region (markers inclusive) is replaced in place; otherwise the
// section is appended, separated by a blank line when the body is
// non-empty. Replacing twice with identical content yields byte-equal
// output, and the result always contains exactly one section.
func UpsertSection(body, section string) string {
	start := strings.Index(body, SectionStart)
	end := strings.Index(body, SectionEnd)
	if start >= 0 && end >= start {
		return body[:start] + section + body[end+len(SectionEnd):]
	}

	if strings.TrimSpace(body) == "" {
		return section
	}
	return strings.TrimRight(body, "\n") + "\n\n" + section
}

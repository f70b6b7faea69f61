package diagram

import (
	"strings"
	"testing"
	"time"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestFormatParseRoundTrip(t *testing.T) {
	section := FormatSection("```mermaid\nflowchart TD\n```", testTime, "sync")

	info := ParseSection(section)
	if !info.Exists {
		t.Fatal("expected section to be detected")
	}
	if !info.LastUpdated.Equal(testTime) {
		t.Errorf("LastUpdated = %v, want %v", info.LastUpdated, testTime)
	}
	if info.Trigger != "sync" {
		t.Errorf("Trigger = %q, want sync", info.Trigger)
	}
}

func TestParseSectionAbsent(t *testing.T) {
	info := ParseSection("Just a plain description.\n\nNo markers here.")
	if info.Exists {
		t.Error("expected no section")
	}
}

func TestUpsertSectionEmptyBody(t *testing.T) {
	section := FormatSection("diagram", testTime, "sync")
	if got := UpsertSection("", section); got != section {
		t.Errorf("empty body upsert = %q, want bare section", got)
	}
	if got := UpsertSection("  \n\n", section); got != section {
		t.Errorf("whitespace body upsert = %q, want bare section", got)
	}
}

func TestUpsertSectionAppends(t *testing.T) {
	section := FormatSection("diagram", testTime, "sync")
	body := "Original description."

	got := UpsertSection(body, section)
	if !strings.HasPrefix(got, "Original description.\n\n"+SectionStart) {
		t.Errorf("append result = %q", got)
	}
}

func TestUpsertSectionReplacesInPlace(t *testing.T) {
	first := FormatSection("old diagram", testTime, "sync")
	body := "Intro text.\n\n" + first + "\n\nTrailing text."

	second := FormatSection("new diagram", testTime.Add(time.Hour), "manual")
	got := UpsertSection(body, second)

	if strings.Contains(got, "old diagram") {
		t.Error("old content should be replaced")
	}
	if !strings.Contains(got, "new diagram") {
		t.Error("new content missing")
	}
	if !strings.HasPrefix(got, "Intro text.") || !strings.HasSuffix(got, "Trailing text.") {
		t.Errorf("surrounding text not preserved: %q", got)
	}
	if strings.Count(got, SectionStart) != 1 || strings.Count(got, SectionEnd) != 1 {
		t.Errorf("expected exactly one section, got %q", got)
	}
}

func TestUpsertSectionIdempotent(t *testing.T) {
	section := FormatSection("diagram", testTime, "sync")
	body := "Description."

	once := UpsertSection(body, section)
	twice := UpsertSection(once, section)
	if once != twice {
		t.Errorf("repeat upsert changed the body:\nonce:  %q\ntwice: %q", once, twice)
	}

	info := ParseSection(twice)
	if !info.Exists || info.Trigger != "sync" {
		t.Errorf("parse after upsert = %+v", info)
	}
}

package types

import (
	"errors"
	"strings"
	"testing"
)

func TestParseExternalRef(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ExternalRef
		wantErr bool
	}{
		{
			name:  "github issue",
			input: "github:acme/app#5",
			want:  ExternalRef{Backend: BackendGitHub, Locator: "acme/app#5"},
		},
		{
			name:  "shortcut story",
			input: "shortcut:12345",
			want:  ExternalRef{Backend: BackendShortcut, Locator: "12345"},
		},
		{
			name:  "whitespace trimmed",
			input: "  github:acme/app#5  ",
			want:  ExternalRef{Backend: BackendGitHub, Locator: "acme/app#5"},
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
		{
			name:    "no separator",
			input:   "github",
			wantErr: true,
		},
		{
			name:    "unknown backend",
			input:   "jira:PROJ-123",
			wantErr: true,
		},
		{
			name:    "github locator missing number",
			input:   "github:acme/app",
			wantErr: true,
		},
		{
			name:    "github locator missing repo",
			input:   "github:acme#5",
			wantErr: true,
		},
		{
			name:    "empty locator",
			input:   "shortcut:",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseExternalRef(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseExternalRef(%q) expected error, got %+v", tt.input, ref)
				}
				if !IsValidation(err) {
					t.Errorf("expected ValidationError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseExternalRef(%q) failed: %v", tt.input, err)
			}
			if *ref != tt.want {
				t.Errorf("ParseExternalRef(%q) = %+v, want %+v", tt.input, *ref, tt.want)
			}
		})
	}
}

func TestExternalRefRoundTrip(t *testing.T) {
	for _, s := range []string{"github:acme/app#5", "shortcut:9981"} {
		ref, err := ParseExternalRef(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := ref.String(); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}

func TestExternalRefRepository(t *testing.T) {
	ref := &ExternalRef{Backend: BackendGitHub, Locator: "acme/app#5"}
	if got := ref.Repository(); got != "acme/app" {
		t.Errorf("Repository() = %q, want acme/app", got)
	}

	story := &ExternalRef{Backend: BackendShortcut, Locator: "12345"}
	if got := story.Repository(); got != "" {
		t.Errorf("Repository() for shortcut = %q, want empty", got)
	}
}

func TestParentIDs(t *testing.T) {
	item := &TrackedItem{
		ID: "task-1",
		Dependencies: []Dependency{
			{ID: "epic-1", Type: DepParentChild},
			{ID: "task-2", Type: DepBlocks},
			{ID: "epic-2", Type: DepParentChild},
			{ID: "task-3", Type: DepRelated},
		},
	}

	parents := item.ParentIDs()
	if len(parents) != 2 || parents[0] != "epic-1" || parents[1] != "epic-2" {
		t.Errorf("ParentIDs() = %v, want [epic-1 epic-2]", parents)
	}

	leaf := &TrackedItem{ID: "task-9"}
	if got := leaf.ParentIDs(); got != nil {
		t.Errorf("ParentIDs() on leaf = %v, want nil", got)
	}
}

func TestStatusValidity(t *testing.T) {
	valid := []Status{StatusOpen, StatusInProgress, StatusBlocked, StatusClosed}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("status %q should be valid", s)
		}
	}
	if Status("done").IsValid() {
		t.Error("status done should be invalid")
	}
}

func TestSubprocessError(t *testing.T) {
	base := errors.New("exit status 128")
	err := &SubprocessError{Cmd: "git diff", Stderr: "fatal: bad revision", Err: base}

	if !errors.Is(err, base) {
		t.Error("SubprocessError should unwrap to underlying error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "git diff") || !strings.Contains(msg, "bad revision") {
		t.Errorf("error message missing context: %q", msg)
	}
}

package tracker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// BackendMemory is the registry name of the in-memory backend.
const BackendMemory types.Backend = "memory"

func init() {
	Register(BackendMemory, func(config map[string]string) (Backend, error) {
		return NewMemory(), nil
	})
}

// Memory is an in-memory Backend for tests and dry runs. Entities are
// keyed by locator. Failure injection fields let tests exercise the
// error paths without a network.
type Memory struct {
	mu       sync.Mutex
	entities map[string]*Entity
	comments map[string][]*Comment
	links    []MemoryLink
	nextID   int

	// FailGet, FailUpdate, and FailComment, when set, are returned by
	// the corresponding method for every locator.
	FailGet     error
	FailUpdate  error
	FailComment error
}

// MemoryLink records a LinkIssues call.
type MemoryLink struct {
	From, To, Relation string
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]*Entity),
		comments: make(map[string][]*Comment),
	}
}

// Name implements Backend.Name.
func (m *Memory) Name() types.Backend {
	return BackendMemory
}

// Put adds or replaces an entity.
func (m *Memory) Put(e *Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.URL == "" {
		e.URL = "memory://" + e.Locator
	}
	m.entities[e.Locator] = e
}

// GetIssue implements Backend.GetIssue.
func (m *Memory) GetIssue(ctx context.Context, locator string) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailGet != nil {
		return nil, m.FailGet
	}
	e, ok := m.entities[locator]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", locator, types.ErrNotFound)
	}
	copied := *e
	return &copied, nil
}

// UpdateIssue implements Backend.UpdateIssue.
func (m *Memory) UpdateIssue(ctx context.Context, locator string, update IssueUpdate) (*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailUpdate != nil {
		return nil, m.FailUpdate
	}
	e, ok := m.entities[locator]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", locator, types.ErrNotFound)
	}
	if update.Title != nil {
		e.Title = *update.Title
	}
	if update.Body != nil {
		e.Body = *update.Body
	}
	copied := *e
	return &copied, nil
}

// AddComment implements Backend.AddComment.
func (m *Memory) AddComment(ctx context.Context, locator string, body string) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailComment != nil {
		return nil, m.FailComment
	}
	if _, ok := m.entities[locator]; !ok {
		return nil, fmt.Errorf("entity %s: %w", locator, types.ErrNotFound)
	}

	m.nextID++
	comment := &Comment{
		ID:        strconv.Itoa(m.nextID),
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	m.comments[locator] = append(m.comments[locator], comment)
	copied := *comment
	return &copied, nil
}

// SearchIssues implements Backend.SearchIssues with substring matching
// over titles and bodies.
func (m *Memory) SearchIssues(ctx context.Context, query string) ([]*Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Entity
	for _, e := range m.entities {
		if strings.Contains(e.Title, query) || strings.Contains(e.Body, query) {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

// LinkIssues implements Backend.LinkIssues.
func (m *Memory) LinkIssues(ctx context.Context, fromLocator, toLocator, relation string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, loc := range []string{fromLocator, toLocator} {
		if _, ok := m.entities[loc]; !ok {
			return fmt.Errorf("entity %s: %w", loc, types.ErrNotFound)
		}
	}
	m.links = append(m.links, MemoryLink{From: fromLocator, To: toLocator, Relation: relation})
	return nil
}

// Comments returns the comments posted to a locator, oldest first.
func (m *Memory) Comments(locator string) []*Comment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Comment, len(m.comments[locator]))
	copy(out, m.comments[locator])
	return out
}

// Links returns all recorded issue links.
func (m *Memory) Links() []MemoryLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryLink, len(m.links))
	copy(out, m.links)
	return out
}

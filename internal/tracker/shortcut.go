package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

const shortcutDefaultBaseURL = "https://api.app.shortcut.com/api/v3"

func init() {
	Register(types.BackendShortcut, func(config map[string]string) (Backend, error) {
		token := config["token"]
		if token == "" {
			token = os.Getenv("SHORTCUT_API_TOKEN")
		}
		return NewShortcut(ShortcutConfig{
			Token:   token,
			BaseURL: config["base_url"],
		})
	})
}

// ShortcutConfig configures the Shortcut backend.
type ShortcutConfig struct {
	// Token is a Shortcut API token.
	Token string

	// BaseURL overrides the API root, for tests.
	BaseURL string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Shortcut talks to the Shortcut stories API. Locators are numeric
// story IDs.
type Shortcut struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewShortcut creates a Shortcut backend.
func NewShortcut(config ShortcutConfig) (*Shortcut, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("shortcut: no token configured (set SHORTCUT_API_TOKEN): %w", ErrAuthentication)
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = shortcutDefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Shortcut{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
	}, nil
}

// Name implements Backend.Name.
func (s *Shortcut) Name() types.Backend {
	return types.BackendShortcut
}

type shortcutStory struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	AppURL      string `json:"app_url"`
	Completed   bool   `json:"completed"`
	Archived    bool   `json:"archived"`
}

func (s *Shortcut) toEntity(story *shortcutStory) *Entity {
	state := "open"
	switch {
	case story.Archived:
		state = "archived"
	case story.Completed:
		state = "completed"
	}
	return &Entity{
		Locator: strconv.FormatInt(story.ID, 10),
		Title:   story.Name,
		Body:    story.Description,
		URL:     story.AppURL,
		State:   state,
	}
}

// GetIssue implements Backend.GetIssue.
func (s *Shortcut) GetIssue(ctx context.Context, locator string) (*Entity, error) {
	var story shortcutStory
	if err := s.do(ctx, http.MethodGet, "/stories/"+locator, nil, &story); err != nil {
		return nil, fmt.Errorf("fetching story %s: %w", locator, err)
	}
	return s.toEntity(&story), nil
}

// UpdateIssue implements Backend.UpdateIssue.
func (s *Shortcut) UpdateIssue(ctx context.Context, locator string, update IssueUpdate) (*Entity, error) {
	payload := make(map[string]string)
	if update.Title != nil {
		payload["name"] = *update.Title
	}
	if update.Body != nil {
		payload["description"] = *update.Body
	}

	var story shortcutStory
	if err := s.do(ctx, http.MethodPut, "/stories/"+locator, payload, &story); err != nil {
		return nil, fmt.Errorf("updating story %s: %w", locator, err)
	}
	return s.toEntity(&story), nil
}

// AddComment implements Backend.AddComment.
func (s *Shortcut) AddComment(ctx context.Context, locator string, body string) (*Comment, error) {
	var created struct {
		ID        int64     `json:"id"`
		Text      string    `json:"text"`
		CreatedAt time.Time `json:"created_at"`
	}
	payload := map[string]string{"text": body}
	if err := s.do(ctx, http.MethodPost, "/stories/"+locator+"/comments", payload, &created); err != nil {
		return nil, fmt.Errorf("commenting on story %s: %w", locator, err)
	}
	return &Comment{
		ID:        strconv.FormatInt(created.ID, 10),
		Body:      created.Text,
		CreatedAt: created.CreatedAt,
	}, nil
}

// SearchIssues implements Backend.SearchIssues via story search.
func (s *Shortcut) SearchIssues(ctx context.Context, query string) ([]*Entity, error) {
	var result struct {
		Data []shortcutStory `json:"data"`
	}
	path := "/search/stories?query=" + url.QueryEscape(query)
	if err := s.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("searching stories: %w", err)
	}

	entities := make([]*Entity, 0, len(result.Data))
	for i := range result.Data {
		entities = append(entities, s.toEntity(&result.Data[i]))
	}
	return entities, nil
}

// LinkIssues implements Backend.LinkIssues using first-class story
// links. The relation maps to a Shortcut verb; anything unrecognized
// becomes "relates to".
func (s *Shortcut) LinkIssues(ctx context.Context, fromLocator, toLocator, relation string) error {
	subject, err := strconv.ParseInt(fromLocator, 10, 64)
	if err != nil {
		return &types.ValidationError{Field: "locator", Reason: fmt.Sprintf("%q is not a story ID", fromLocator)}
	}
	object, err := strconv.ParseInt(toLocator, 10, 64)
	if err != nil {
		return &types.ValidationError{Field: "locator", Reason: fmt.Sprintf("%q is not a story ID", toLocator)}
	}

	verb := relation
	switch verb {
	case "blocks", "duplicates", "relates to":
	default:
		verb = "relates to"
	}

	payload := map[string]any{
		"subject_id": subject,
		"object_id":  object,
		"verb":       verb,
	}
	if err := s.do(ctx, http.MethodPost, "/story-links", payload, nil); err != nil {
		return fmt.Errorf("linking story %s to %s: %w", fromLocator, toLocator, err)
	}
	return nil
}

func (s *Shortcut) do(ctx context.Context, method, path string, requestBody any, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Shortcut-Token", s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &BackendError{Backend: "shortcut", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{Backend: "shortcut", Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		be := &BackendError{
			Backend: "shortcut",
			Code:    strconv.Itoa(resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			be.Err = ErrAuthentication
		case http.StatusNotFound:
			be.Err = types.ErrNotFound
		}
		return be
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return &BackendError{Backend: "shortcut", Message: "decoding response", Err: err}
		}
	}
	return nil
}

package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// githubAPIVersion pins the GitHub REST API version header so behavior
// stays consistent as GitHub evolves the API.
const githubAPIVersion = "2022-11-28"

const githubDefaultBaseURL = "https://api.github.com"

func init() {
	Register(types.BackendGitHub, func(config map[string]string) (Backend, error) {
		token := config["token"]
		if token == "" {
			token = os.Getenv("GITHUB_TOKEN")
		}
		return NewGitHub(GitHubConfig{
			Token:   token,
			BaseURL: config["base_url"],
		})
	})
}

// GitHubConfig configures the GitHub backend.
type GitHubConfig struct {
	// Token is a personal access or fine-grained token.
	Token string

	// BaseURL overrides the API root, for GitHub Enterprise and tests.
	// Defaults to the public API.
	BaseURL string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// GitHub talks to the GitHub REST issues API. Locators take the form
// "owner/repo#number".
type GitHub struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewGitHub creates a GitHub backend.
func NewGitHub(config GitHubConfig) (*GitHub, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("github: no token configured (set GITHUB_TOKEN): %w", ErrAuthentication)
	}
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = githubDefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GitHub{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      config.Token,
		httpClient: httpClient,
	}, nil
}

// Name implements Backend.Name.
func (g *GitHub) Name() types.Backend {
	return types.BackendGitHub
}

// githubIssue is the wire shape of the fields the bridge reads.
type githubIssue struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

func (g *GitHub) toEntity(locator string, issue *githubIssue) *Entity {
	return &Entity{
		Locator: locator,
		Title:   issue.Title,
		Body:    issue.Body,
		URL:     issue.HTMLURL,
		State:   issue.State,
	}
}

// issuePath converts a locator into the REST path for the issue.
func issuePath(locator string) (string, error) {
	repo, number, ok := strings.Cut(locator, "#")
	if !ok || number == "" || strings.Count(repo, "/") != 1 {
		return "", &types.ValidationError{
			Field:  "locator",
			Reason: fmt.Sprintf("%q is not owner/repo#number", locator),
		}
	}
	return "/repos/" + repo + "/issues/" + number, nil
}

// GetIssue implements Backend.GetIssue.
func (g *GitHub) GetIssue(ctx context.Context, locator string) (*Entity, error) {
	path, err := issuePath(locator)
	if err != nil {
		return nil, err
	}
	var issue githubIssue
	if err := g.do(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", locator, err)
	}
	return g.toEntity(locator, &issue), nil
}

// UpdateIssue implements Backend.UpdateIssue.
func (g *GitHub) UpdateIssue(ctx context.Context, locator string, update IssueUpdate) (*Entity, error) {
	path, err := issuePath(locator)
	if err != nil {
		return nil, err
	}

	payload := make(map[string]string)
	if update.Title != nil {
		payload["title"] = *update.Title
	}
	if update.Body != nil {
		payload["body"] = *update.Body
	}

	var issue githubIssue
	if err := g.do(ctx, http.MethodPatch, path, payload, &issue); err != nil {
		return nil, fmt.Errorf("updating %s: %w", locator, err)
	}
	return g.toEntity(locator, &issue), nil
}

// AddComment implements Backend.AddComment.
func (g *GitHub) AddComment(ctx context.Context, locator string, body string) (*Comment, error) {
	path, err := issuePath(locator)
	if err != nil {
		return nil, err
	}

	var created struct {
		ID        int64     `json:"id"`
		Body      string    `json:"body"`
		CreatedAt time.Time `json:"created_at"`
	}
	payload := map[string]string{"body": body}
	if err := g.do(ctx, http.MethodPost, path+"/comments", payload, &created); err != nil {
		return nil, fmt.Errorf("commenting on %s: %w", locator, err)
	}
	return &Comment{
		ID:        fmt.Sprintf("%d", created.ID),
		Body:      created.Body,
		CreatedAt: created.CreatedAt,
	}, nil
}

// SearchIssues implements Backend.SearchIssues via the search API.
func (g *GitHub) SearchIssues(ctx context.Context, query string) ([]*Entity, error) {
	var result struct {
		Items []struct {
			githubIssue
			RepositoryURL string `json:"repository_url"`
		} `json:"items"`
	}
	path := "/search/issues?q=" + strings.ReplaceAll(query, " ", "+")
	if err := g.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, fmt.Errorf("searching issues: %w", err)
	}

	entities := make([]*Entity, 0, len(result.Items))
	for _, item := range result.Items {
		// repository_url ends in /repos/{owner}/{repo}.
		repo := item.RepositoryURL
		if i := strings.Index(repo, "/repos/"); i >= 0 {
			repo = repo[i+len("/repos/"):]
		}
		locator := fmt.Sprintf("%s#%d", repo, item.Number)
		entities = append(entities, g.toEntity(locator, &item.githubIssue))
	}
	return entities, nil
}

// LinkIssues implements Backend.LinkIssues. GitHub has no first-class
// issue links outside projects, so the relation is recorded as a
// cross-referencing comment, which GitHub renders as a timeline link.
func (g *GitHub) LinkIssues(ctx context.Context, fromLocator, toLocator, relation string) error {
	toRepo, toNumber, ok := strings.Cut(toLocator, "#")
	if !ok {
		return &types.ValidationError{
			Field:  "locator",
			Reason: fmt.Sprintf("%q is not owner/repo#number", toLocator),
		}
	}
	body := fmt.Sprintf("%s https://github.com/%s/issues/%s", relation, toRepo, toNumber)
	_, err := g.AddComment(ctx, fromLocator, body)
	return err
}

// do executes one authenticated API request, decoding the JSON response
// into result when non-nil. Non-2xx responses map onto the backend
// error taxonomy: 401/403 wrap ErrAuthentication, 404 wraps
// types.ErrNotFound.
func (g *GitHub) do(ctx context.Context, method, path string, requestBody any, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &BackendError{Backend: "github", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{Backend: "github", Message: "reading response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return githubAPIError(resp.StatusCode, body)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return &BackendError{Backend: "github", Message: "decoding response", Err: err}
		}
	}
	return nil
}

// githubAPIError maps an API failure onto the error taxonomy.
func githubAPIError(statusCode int, body []byte) error {
	message := string(body)
	var wire struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wire) == nil && wire.Message != "" {
		message = wire.Message
	}

	be := &BackendError{
		Backend: "github",
		Code:    fmt.Sprintf("%d", statusCode),
		Message: message,
	}
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		be.Err = ErrAuthentication
	case http.StatusNotFound:
		be.Err = types.ErrNotFound
	}
	return be
}

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const (
	githubAPIBase = "https://api.github.com"
	githubTimeout = 15 * time.Second
)

// githubClient shares request plumbing between the GitHub tools.
type githubClient struct {
	settings *settings.Manager
	client   *http.Client
	baseURL  string
}

func newGitHubClient(st *settings.Manager) *githubClient {
	return &githubClient{
		settings: st,
		client:   &http.Client{Timeout: githubTimeout},
		baseURL:  githubAPIBase,
	}
}

func (g *githubClient) do(ctx context.Context, method, path string, body, out any) error {
	token := g.settings.Get().Integrations.GitHub.Token
	if token == "" {
		return fmt.Errorf("github is not configured (token required)")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("github API %d: %s", resp.StatusCode, clipChars(string(data), 500))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

// GitHubSearchTool searches issues and pull requests.
type GitHubSearchTool struct {
	gh *githubClient
}

func NewGitHubSearchTool(st *settings.Manager) *GitHubSearchTool {
	return &GitHubSearchTool{gh: newGitHubClient(st)}
}

func (t *GitHubSearchTool) Definition() Definition {
	return Definition{
		Name:        "github_search",
		Description: "Search GitHub issues and pull requests",
		Category:    settings.CategoryWeb,
		Parameters: objectSchema([]string{"query"}, map[string]any{
			"query": prop("string", `Search query (e.g. "repo:owner/name is:open label:bug")`),
			"limit": prop("number", "Maximum results (default 10)"),
		}),
	}
}

func (t *GitHubSearchTool) Execute(ctx context.Context, args map[string]any) *Result {
	query, _ := args["query"].(string)
	if query == "" {
		return ErrorResult("Error: query is required").WithError(guard.NewValidationError("query is required"))
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 && int(v) <= 50 {
		limit = int(v)
	}

	var resp struct {
		TotalCount int `json:"total_count"`
		Items      []struct {
			Number  int    `json:"number"`
			Title   string `json:"title"`
			State   string `json:"state"`
			HTMLURL string `json:"html_url"`
		} `json:"items"`
	}
	path := fmt.Sprintf("/search/issues?q=%s&per_page=%d", url.QueryEscape(query), limit)
	if err := t.gh.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	if len(resp.Items) == 0 {
		return SilentResult("No results.")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d results (showing %d):\n", resp.TotalCount, len(resp.Items))
	for _, item := range resp.Items {
		fmt.Fprintf(&b, "- #%d [%s] %s\n  %s\n", item.Number, item.State, item.Title, item.HTMLURL)
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

// GitHubCreateIssueTool opens an issue in a repository.
type GitHubCreateIssueTool struct {
	gh *githubClient
}

func NewGitHubCreateIssueTool(st *settings.Manager) *GitHubCreateIssueTool {
	return &GitHubCreateIssueTool{gh: newGitHubClient(st)}
}

func (t *GitHubCreateIssueTool) Definition() Definition {
	return Definition{
		Name:        "github_create_issue",
		Description: "Create a GitHub issue in a repository",
		Category:    settings.CategoryWeb,
		Parameters: objectSchema([]string{"repo", "title"}, map[string]any{
			"repo":  prop("string", `Repository as "owner/name"`),
			"title": prop("string", "Issue title"),
			"body":  prop("string", "Issue body (markdown)"),
		}),
	}
}

func (t *GitHubCreateIssueTool) Execute(ctx context.Context, args map[string]any) *Result {
	repo, _ := args["repo"].(string)
	title, _ := args["title"].(string)
	if repo == "" || title == "" {
		return ErrorResult("Error: repo and title are required").
			WithError(guard.NewValidationError("repo and title are required"))
	}
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return ErrorResult(`Error: repo must be "owner/name"`).
			WithError(guard.NewValidationError(`repo must be "owner/name"`))
	}
	body, _ := args["body"].(string)

	var resp struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	payload := map[string]string{"title": title}
	if body != "" {
		payload["body"] = body
	}
	path := fmt.Sprintf("/repos/%s/%s/issues", url.PathEscape(owner), url.PathEscape(name))
	if err := t.gh.do(ctx, http.MethodPost, path, payload, &resp); err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	return SilentResult(fmt.Sprintf("Issue #%d created: %s", resp.Number, resp.HTMLURL))
}

package tools

import (
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
	socialTimeout    = 15 * time.Second
	mastodonMaxChars = 500
	redditUserAgent  = "agentd/1.0"
)

// MastodonPostTool publishes a status to the configured instance.
type MastodonPostTool struct {
	settings *settings.Manager
	client   *http.Client
}

func NewMastodonPostTool(st *settings.Manager) *MastodonPostTool {
	return &MastodonPostTool{settings: st, client: &http.Client{Timeout: socialTimeout}}
}

func (t *MastodonPostTool) Definition() Definition {
	return Definition{
		Name:        "mastodon_post",
		Description: "Post a status to the configured Mastodon account",
		Category:    settings.CategorySocial,
		Parameters: objectSchema([]string{"status"}, map[string]any{
			"status": prop("string", "Status text (max 500 chars)"),
			"visibility": map[string]any{
				"type":        "string",
				"description": "Post visibility",
				"enum":        []string{"public", "unlisted", "private", "direct"},
			},
		}),
	}
}

func (t *MastodonPostTool) Execute(ctx context.Context, args map[string]any) *Result {
	status, _ := args["status"].(string)
	if strings.TrimSpace(status) == "" {
		return ErrorResult("Error: status is required").WithError(guard.NewValidationError("status is required"))
	}
	if len(status) > mastodonMaxChars {
		return ErrorResult(fmt.Sprintf("Error: status exceeds %d chars", mastodonMaxChars)).
			WithError(guard.NewValidationError("status too long"))
	}

	creds := t.settings.Get().Integrations.Mastodon
	if creds.InstanceURL == "" || creds.AccessToken == "" {
		return ErrorResult("Error: mastodon is not configured (instance_url, access_token required)")
	}

	form := url.Values{"status": {status}}
	if v, _ := args["visibility"].(string); v != "" {
		form.Set("visibility", v)
	}

	endpoint := strings.TrimRight(creds.InstanceURL, "/") + "/api/v1/statuses"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: post failed: %v", err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("Error: mastodon API %d: %s", resp.StatusCode, clipChars(string(data), 500)))
	}

	var posted struct {
		URL string `json:"url"`
	}
	_ = json.Unmarshal(data, &posted)
	if posted.URL != "" {
		return SilentResult("Posted: " + posted.URL)
	}
	return SilentResult("Posted to Mastodon.")
}

// MastodonTimelineTool reads the home timeline.
type MastodonTimelineTool struct {
	settings *settings.Manager
	client   *http.Client
}

func NewMastodonTimelineTool(st *settings.Manager) *MastodonTimelineTool {
	return &MastodonTimelineTool{settings: st, client: &http.Client{Timeout: socialTimeout}}
}

func (t *MastodonTimelineTool) Definition() Definition {
	return Definition{
		Name:        "mastodon_timeline",
		Description: "Read recent posts from the Mastodon home timeline",
		Category:    settings.CategorySocial,
		Parameters: objectSchema(nil, map[string]any{
			"limit": prop("number", "Maximum posts (default 10)"),
		}),
	}
}

func (t *MastodonTimelineTool) Execute(ctx context.Context, args map[string]any) *Result {
	creds := t.settings.Get().Integrations.Mastodon
	if creds.InstanceURL == "" || creds.AccessToken == "" {
		return ErrorResult("Error: mastodon is not configured (instance_url, access_token required)")
	}

	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 && int(v) <= 40 {
		limit = int(v)
	}

	endpoint := fmt.Sprintf("%s/api/v1/timelines/home?limit=%d", strings.TrimRight(creds.InstanceURL, "/"), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: timeline fetch failed: %v", err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("Error: mastodon API %d: %s", resp.StatusCode, clipChars(string(data), 500)))
	}

	var statuses []struct {
		Account struct {
			Acct string `json:"acct"`
		} `json:"account"`
		Content   string `json:"content"`
		CreatedAt string `json:"created_at"`
	}
	if err := json.Unmarshal(data, &statuses); err != nil {
		return ErrorResult(fmt.Sprintf("Error: bad timeline payload: %v", err))
	}
	if len(statuses) == 0 {
		return SilentResult("Timeline is empty.")
	}

	var b strings.Builder
	for _, s := range statuses {
		text := clipChars(htmlToText(s.Content), 280)
		fmt.Fprintf(&b, "@%s: %s\n", s.Account.Acct, text)
	}

	out := strings.TrimRight(b.String(), "\n")
	if t.settings.Get().Security.InjectionGuard {
		out = guard.WrapUntrusted("mastodon timeline", out)
	}
	return NewResult(out)
}

// RedditPostTool submits a text post using the OAuth password grant.
type RedditPostTool struct {
	settings *settings.Manager
	client   *http.Client
}

func NewRedditPostTool(st *settings.Manager) *RedditPostTool {
	return &RedditPostTool{settings: st, client: &http.Client{Timeout: socialTimeout}}
}

func (t *RedditPostTool) Definition() Definition {
	return Definition{
		Name:        "reddit_post",
		Description: "Submit a text post to a subreddit",
		Category:    settings.CategorySocial,
		Parameters: objectSchema([]string{"subreddit", "title", "text"}, map[string]any{
			"subreddit": prop("string", "Target subreddit, without the r/ prefix"),
			"title":     prop("string", "Post title"),
			"text":      prop("string", "Post body"),
		}),
	}
}

func (t *RedditPostTool) Execute(ctx context.Context, args map[string]any) *Result {
	subreddit, _ := args["subreddit"].(string)
	title, _ := args["title"].(string)
	text, _ := args["text"].(string)
	if subreddit == "" || title == "" {
		return ErrorResult("Error: subreddit and title are required").
			WithError(guard.NewValidationError("subreddit and title are required"))
	}

	creds := t.settings.Get().Integrations.Reddit
	if creds.ClientID == "" || creds.ClientSecret == "" || creds.Username == "" || creds.Password == "" {
		return ErrorResult("Error: reddit is not configured (client_id, client_secret, username, password required)")
	}

	token, err := t.accessToken(ctx, creds)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: reddit auth failed: %v", err))
	}

	form := url.Values{
		"sr":    {strings.TrimPrefix(subreddit, "r/")},
		"kind":  {"self"},
		"title": {title},
		"text":  {text},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://oauth.reddit.com/api/submit", strings.NewReader(form.Encode()))
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", redditUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: submit failed: %v", err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("Error: reddit API %d: %s", resp.StatusCode, clipChars(string(data), 500)))
	}
	return SilentResult(fmt.Sprintf("Posted to r/%s: %s", strings.TrimPrefix(subreddit, "r/"), title))
}

func (t *RedditPostTool) accessToken(ctx context.Context, creds settings.RedditIntegration) (string, error) {
	form := url.Values{
		"grant_type": {"password"},
		"username":   {creds.Username},
		"password":   {creds.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://www.reddit.com/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(creds.ClientID, creds.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", redditUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("token endpoint %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("no access token in response")
	}
	return tok.AccessToken, nil
}

// RedditBrowseTool reads a subreddit listing via the public JSON API.
// No credentials needed.
type RedditBrowseTool struct {
	settings *settings.Manager
	client   *http.Client
}

func NewRedditBrowseTool(st *settings.Manager) *RedditBrowseTool {
	return &RedditBrowseTool{settings: st, client: &http.Client{Timeout: socialTimeout}}
}

func (t *RedditBrowseTool) Definition() Definition {
	return Definition{
		Name:        "reddit_browse",
		Description: "Browse top posts of a subreddit",
		Category:    settings.CategorySocial,
		Parameters: objectSchema([]string{"subreddit"}, map[string]any{
			"subreddit": prop("string", "Subreddit to browse, without the r/ prefix"),
			"sort": map[string]any{
				"type":        "string",
				"description": "Listing sort",
				"enum":        []string{"hot", "new", "top"},
			},
			"limit": prop("number", "Maximum posts (default 10)"),
		}),
	}
}

func (t *RedditBrowseTool) Execute(ctx context.Context, args map[string]any) *Result {
	subreddit, _ := args["subreddit"].(string)
	if subreddit == "" {
		return ErrorResult("Error: subreddit is required").WithError(guard.NewValidationError("subreddit is required"))
	}
	subreddit = strings.TrimPrefix(subreddit, "r/")

	sortBy := "hot"
	if v, _ := args["sort"].(string); v == "new" || v == "top" {
		sortBy = v
	}
	limit := 10
	if v, ok := args["limit"].(float64); ok && int(v) > 0 && int(v) <= 25 {
		limit = int(v)
	}

	endpoint := fmt.Sprintf("https://www.reddit.com/r/%s/%s.json?limit=%d",
		url.PathEscape(subreddit), sortBy, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: %v", err))
	}
	req.Header.Set("User-Agent", redditUserAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: fetch failed: %v", err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 400 {
		return ErrorResult(fmt.Sprintf("Error: reddit API %d", resp.StatusCode))
	}

	var listing struct {
		Data struct {
			Children []struct {
				Data struct {
					Title     string  `json:"title"`
					Author    string  `json:"author"`
					Score     int     `json:"score"`
					Permalink string  `json:"permalink"`
					CreatedAt float64 `json:"created_utc"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &listing); err != nil {
		return ErrorResult(fmt.Sprintf("Error: bad listing payload: %v", err))
	}
	if len(listing.Data.Children) == 0 {
		return SilentResult("No posts found.")
	}

	var b strings.Builder
	for _, child := range listing.Data.Children {
		p := child.Data
		fmt.Fprintf(&b, "- [%d] %s (u/%s)\n  https://reddit.com%s\n", p.Score, p.Title, p.Author, p.Permalink)
	}

	out := strings.TrimRight(b.String(), "\n")
	if t.settings.Get().Security.InjectionGuard {
		out = guard.WrapUntrusted("reddit r/"+subreddit, out)
	}
	return NewResult(out)
}

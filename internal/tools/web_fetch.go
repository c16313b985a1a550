package tools

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const (
	fetchMaxChars    = 30000
	fetchMaxRedirect = 3
	fetchTimeout     = 15 * time.Second
	fetchUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// WebFetchTool fetches a URL and extracts its content. Every request,
// including redirect hops, goes through the SSRF validator and the
// domain filter.
type WebFetchTool struct {
	settings *settings.Manager
	cache    *FetchCache
	client   *http.Client
}

// NewWebFetchTool builds the tool. cache may be nil to disable caching.
func NewWebFetchTool(st *settings.Manager, cache *FetchCache) *WebFetchTool {
	t := &WebFetchTool{settings: st, cache: cache}
	t.client = &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirect {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirect)
			}
			return t.validate(req.Context(), req.URL.String())
		},
	}
	return t
}

func (t *WebFetchTool) Definition() Definition {
	return Definition{
		Name:        "web_fetch",
		Description: "Fetch a URL and extract its content. Supports HTML (converted to markdown or text), JSON, and plain text.",
		Category:    settings.CategoryWeb,
		Parameters: objectSchema([]string{"url"}, map[string]any{
			"url": prop("string", "HTTP or HTTPS URL to fetch"),
			"extract_mode": map[string]any{
				"type":        "string",
				"description": `Extraction mode ("markdown" or "text"). Default: "markdown".`,
				"enum":        []string{"markdown", "text"},
			},
			"cache": prop("boolean", "Set false to bypass the response cache"),
		}),
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("Error: url is required").WithError(guard.NewValidationError("url is required"))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: invalid URL: %v", err))
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		e := guard.NewValidationError("only http and https URLs are supported")
		return ErrorResult("Error: " + e.Error()).WithError(e)
	}

	if err := t.validate(ctx, rawURL); err != nil {
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	extractMode := "markdown"
	if em, ok := args["extract_mode"].(string); ok && (em == "markdown" || em == "text") {
		extractMode = em
	}

	useCache := t.cache != nil
	if v, ok := args["cache"].(bool); ok && !v {
		useCache = false
	}

	cacheKey := rawURL + "#" + extractMode
	if useCache {
		if body, ok := t.cache.Get(ctx, cacheKey); ok {
			slog.Debug("web_fetch.cache_hit", "url", rawURL)
			return NewResult(t.frame(rawURL, body))
		}
	}

	body, err := t.doFetch(ctx, rawURL, extractMode)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: fetch failed: %s", clipChars(err.Error(), 4000)))
	}

	if useCache {
		t.cache.Put(ctx, cacheKey, body)
	}
	return NewResult(t.frame(rawURL, body))
}

// validate runs the SSRF check plus the settings domain filter.
func (t *WebFetchTool) validate(ctx context.Context, rawURL string) error {
	cfg := t.settings.Get()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return guard.NewValidationError("invalid URL")
	}
	host := strings.ToLower(parsed.Hostname())

	if cfg.Security.SSRFProtection && !localhostPermitted(cfg, host) {
		if err := guard.ValidateURL(ctx, rawURL); err != nil {
			return err
		}
	}

	for _, blocked := range cfg.Domains.Blocklist {
		if hostMatches(host, blocked) {
			return guard.NewSecurityError(fmt.Sprintf("domain %s is blocklisted", host))
		}
	}
	if len(cfg.Domains.Allowlist) > 0 {
		allowed := false
		for _, a := range cfg.Domains.Allowlist {
			if hostMatches(host, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return guard.NewSecurityError(fmt.Sprintf("domain %s is not on the allowlist", host))
		}
	}
	return nil
}

// hostMatches reports whether host equals pattern or is a subdomain of
// it.
func hostMatches(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" {
		return false
	}
	return host == pattern || strings.HasSuffix(host, "."+pattern)
}

// localhostPermitted reports whether the allow_localhost switch excuses
// this host from the SSRF check.
func localhostPermitted(cfg settings.Settings, host string) bool {
	if !cfg.Security.AllowLocalhost {
		return false
	}
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func (t *WebFetchTool) doFetch(ctx context.Context, rawURL, extractMode string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	// Read extra to absorb HTML boilerplate before extraction.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(fetchMaxChars*4)))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	finalURL := resp.Request.URL.String()

	var text, extractor string
	switch {
	case strings.Contains(contentType, "application/json"):
		text, extractor = extractJSON(raw)
	case strings.Contains(contentType, "text/html"),
		strings.Contains(contentType, "application/xhtml"):
		if extractMode == "text" {
			text = htmlToText(string(raw))
			extractor = "html-to-text"
		} else {
			text = htmlToMarkdown(string(raw))
			extractor = "html-to-markdown"
		}
	default:
		text = string(raw)
		extractor = "raw"
	}

	truncated := false
	if len(text) > fetchMaxChars {
		text = text[:fetchMaxChars]
		truncated = true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "URL: %s\n", finalURL)
	fmt.Fprintf(&sb, "Status: %d\n", resp.StatusCode)
	fmt.Fprintf(&sb, "Extractor: %s\n", extractor)
	if truncated {
		fmt.Fprintf(&sb, "Truncated: true (limit: %d chars)\n", fetchMaxChars)
	}
	sb.WriteString("\n")
	sb.WriteString(text)
	return sb.String(), nil
}

// frame wraps the body in the injection boundary when the guard is on.
func (t *WebFetchTool) frame(rawURL, body string) string {
	if !t.settings.Get().Security.InjectionGuard {
		return body
	}
	return guard.WrapUntrusted("web_fetch "+rawURL, body)
}

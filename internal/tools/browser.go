package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const browserActionTimeout = 15 * time.Second

// BrowserTool drives a headless browser. A request-interception router
// runs every subresource URL through the SSRF validator, so a page
// cannot pull the agent into internal networks. Script evaluation is
// deliberately absent from the action set.
type BrowserTool struct {
	workspace string
	settings  *settings.Manager

	mu      sync.Mutex
	lc      *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func NewBrowserTool(workspace string, st *settings.Manager) *BrowserTool {
	return &BrowserTool{workspace: workspace, settings: st}
}

func (t *BrowserTool) Definition() Definition {
	return Definition{
		Name:        "browser_action",
		Description: "Control a headless browser: navigate, screenshot, click, type, get_text",
		Category:    settings.CategoryBrowser,
		Parameters: objectSchema([]string{"action"}, map[string]any{
			"action": map[string]any{
				"type":        "string",
				"description": "The browser action to perform",
				"enum":        []string{"navigate", "screenshot", "click", "type", "get_text"},
			},
			"url":      prop("string", "URL to navigate to (navigate)"),
			"selector": prop("string", "CSS selector (click, type)"),
			"text":     prop("string", "Text to type (type)"),
		}),
	}
}

func (t *BrowserTool) Execute(ctx context.Context, args map[string]any) *Result {
	action, _ := args["action"].(string)
	if action == "" {
		return ErrorResult("Error: action is required").WithError(guard.NewValidationError("action is required"))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	page, err := t.ensurePage()
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: browser unavailable: %v", err))
	}
	page = page.Context(ctx).Timeout(browserActionTimeout)

	switch action {
	case "navigate":
		return t.navigate(ctx, page, args)
	case "screenshot":
		return t.screenshot(page)
	case "click":
		return t.click(page, args)
	case "type":
		return t.typeText(page, args)
	case "get_text":
		return t.getText(page)
	default:
		return ErrorResult(fmt.Sprintf("Error: unknown action %q", action))
	}
}

func (t *BrowserTool) navigate(ctx context.Context, page *rod.Page, args map[string]any) *Result {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return ErrorResult("Error: url is required for navigate").WithError(guard.NewValidationError("url is required"))
	}
	if t.settings.Get().Security.SSRFProtection {
		if err := guard.ValidateURL(ctx, rawURL); err != nil {
			return ErrorResult("Error: " + err.Error()).WithError(err)
		}
	}
	if err := page.Navigate(rawURL); err != nil {
		return ErrorResult(fmt.Sprintf("Error: navigation failed: %v", err))
	}
	if err := page.WaitLoad(); err != nil {
		return ErrorResult(fmt.Sprintf("Error: page load failed: %v", err))
	}
	info, err := page.Info()
	if err != nil {
		return SilentResult("Navigated to " + rawURL)
	}
	return SilentResult(fmt.Sprintf("Navigated to %s (title: %s)", info.URL, info.Title))
}

func (t *BrowserTool) screenshot(page *rod.Page) *Result {
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: screenshot failed: %v", err))
	}

	dir := filepath.Join(t.workspace, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to create screenshots dir: %v", err))
	}
	name := fmt.Sprintf("screenshot-%s.png", time.Now().Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to save screenshot: %v", err))
	}
	return SilentResult("Screenshot saved to " + filepath.Join("screenshots", name))
}

func (t *BrowserTool) click(page *rod.Page, args map[string]any) *Result {
	selector, _ := args["selector"].(string)
	if selector == "" {
		return ErrorResult("Error: selector is required for click").WithError(guard.NewValidationError("selector is required"))
	}
	el, err := page.Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: element %q not found: %v", selector, err))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return ErrorResult(fmt.Sprintf("Error: click failed: %v", err))
	}
	return SilentResult("Clicked " + selector)
}

func (t *BrowserTool) typeText(page *rod.Page, args map[string]any) *Result {
	selector, _ := args["selector"].(string)
	text, _ := args["text"].(string)
	if selector == "" || text == "" {
		return ErrorResult("Error: selector and text are required for type").WithError(guard.NewValidationError("selector and text are required"))
	}
	el, err := page.Element(selector)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: element %q not found: %v", selector, err))
	}
	if err := el.Input(text); err != nil {
		return ErrorResult(fmt.Sprintf("Error: type failed: %v", err))
	}
	return SilentResult(fmt.Sprintf("Typed %d chars into %s", len(text), selector))
}

func (t *BrowserTool) getText(page *rod.Page) *Result {
	el, err := page.Element("body")
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: page has no body: %v", err))
	}
	text, err := el.Text()
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: text extraction failed: %v", err))
	}
	text = clipChars(text, fetchMaxChars)

	info, _ := page.Info()
	source := "browser"
	if info != nil {
		source = "browser " + info.URL
	}
	if t.settings.Get().Security.InjectionGuard {
		text = guard.WrapUntrusted(source, text)
	}
	return NewResult(text)
}

// ensurePage launches the browser on first use and installs the
// interception router.
func (t *BrowserTool) ensurePage() (*rod.Page, error) {
	if t.page != nil {
		return t.page, nil
	}

	lc := launcher.New().Headless(true)
	controlURL, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		lc.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	router := browser.HijackRequests()
	err = router.Add("*", "", func(h *rod.Hijack) {
		u := h.Request.URL().String()
		if t.settings.Get().Security.SSRFProtection {
			if err := guard.ValidateURL(context.Background(), u); err != nil {
				slog.Warn("browser.request_blocked", "url", u, "error", err)
				h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		browser.Close()
		lc.Cleanup()
		return nil, fmt.Errorf("install request router: %w", err)
	}
	go router.Run()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		browser.Close()
		lc.Cleanup()
		return nil, fmt.Errorf("open page: %w", err)
	}

	t.lc = lc
	t.browser = browser
	t.page = page
	return page, nil
}

// Close shuts the browser down. Safe to call when it never launched.
func (t *BrowserTool) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.browser != nil {
		_ = t.browser.Close()
		t.browser = nil
		t.page = nil
	}
	if t.lc != nil {
		t.lc.Cleanup()
		t.lc = nil
	}
}

package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const clipboardMaxChars = 100000

// SystemInfoTool reports host facts.
type SystemInfoTool struct {
	workspace string
	started   time.Time
}

func NewSystemInfoTool(workspace string) *SystemInfoTool {
	return &SystemInfoTool{workspace: workspace, started: time.Now()}
}

func (t *SystemInfoTool) Definition() Definition {
	return Definition{
		Name:        "system_info",
		Description: "Show host information: OS, architecture, hostname, workspace, uptime",
		Category:    settings.CategorySystem,
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (t *SystemInfoTool) Execute(ctx context.Context, args map[string]any) *Result {
	hostname, _ := os.Hostname()
	var b strings.Builder
	fmt.Fprintf(&b, "OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Hostname: %s\n", hostname)
	fmt.Fprintf(&b, "CPUs: %d\n", runtime.NumCPU())
	fmt.Fprintf(&b, "Workspace: %s\n", t.workspace)
	fmt.Fprintf(&b, "Agent uptime: %s\n", time.Since(t.started).Round(time.Second))
	fmt.Fprintf(&b, "Time: %s", time.Now().Format(time.RFC1123))
	return SilentResult(b.String())
}

// ClipboardReadTool reads the system clipboard.
type ClipboardReadTool struct{}

func NewClipboardReadTool() *ClipboardReadTool { return &ClipboardReadTool{} }

func (t *ClipboardReadTool) Definition() Definition {
	return Definition{
		Name:        "clipboard_read",
		Description: "Read the current system clipboard contents",
		Category:    settings.CategorySystem,
		Parameters:  objectSchema(nil, map[string]any{}),
	}
}

func (t *ClipboardReadTool) Execute(ctx context.Context, args map[string]any) *Result {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "pbpaste")
	case "linux":
		if _, err := exec.LookPath("xclip"); err == nil {
			cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard", "-o")
		} else if _, err := exec.LookPath("wl-paste"); err == nil {
			cmd = exec.CommandContext(ctx, "wl-paste")
		} else {
			return ErrorResult("Error: no clipboard utility found (xclip or wl-paste required)")
		}
	default:
		return ErrorResult(fmt.Sprintf("Error: clipboard not supported on %s", runtime.GOOS))
	}

	out, err := cmd.Output()
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: clipboard read failed: %v", err))
	}
	return SilentResult(clipChars(string(out), clipboardMaxChars))
}

// ClipboardWriteTool replaces the system clipboard contents.
type ClipboardWriteTool struct{}

func NewClipboardWriteTool() *ClipboardWriteTool { return &ClipboardWriteTool{} }

func (t *ClipboardWriteTool) Definition() Definition {
	return Definition{
		Name:        "clipboard_write",
		Description: "Write text to the system clipboard",
		Category:    settings.CategorySystem,
		Parameters: objectSchema([]string{"text"}, map[string]any{
			"text": prop("string", "Text to place on the clipboard"),
		}),
	}
}

func (t *ClipboardWriteTool) Execute(ctx context.Context, args map[string]any) *Result {
	text, _ := args["text"].(string)
	if text == "" {
		return ErrorResult("Error: text is required").WithError(guard.NewValidationError("text is required"))
	}
	if len(text) > clipboardMaxChars {
		return ErrorResult(fmt.Sprintf("Error: text exceeds %d chars", clipboardMaxChars)).
			WithError(guard.NewValidationError("text too long"))
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "pbcopy")
	case "linux":
		if _, err := exec.LookPath("xclip"); err == nil {
			cmd = exec.CommandContext(ctx, "xclip", "-selection", "clipboard")
		} else if _, err := exec.LookPath("wl-copy"); err == nil {
			cmd = exec.CommandContext(ctx, "wl-copy")
		} else {
			return ErrorResult("Error: no clipboard utility found (xclip or wl-copy required)")
		}
	default:
		return ErrorResult(fmt.Sprintf("Error: clipboard not supported on %s", runtime.GOOS))
	}

	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return ErrorResult(fmt.Sprintf("Error: clipboard write failed: %v", err))
	}
	return SilentResult(fmt.Sprintf("Copied %d chars to clipboard.", len(text)))
}

// OpenApplicationTool launches a named application. The name is passed
// as a single argv element, never through a shell.
type OpenApplicationTool struct{}

func NewOpenApplicationTool() *OpenApplicationTool { return &OpenApplicationTool{} }

func (t *OpenApplicationTool) Definition() Definition {
	return Definition{
		Name:        "open_application",
		Description: "Open an application by name on the host",
		Category:    settings.CategorySystem,
		Parameters: objectSchema([]string{"name"}, map[string]any{
			"name": prop("string", "Application name"),
		}),
	}
}

func (t *OpenApplicationTool) Execute(ctx context.Context, args map[string]any) *Result {
	name, _ := args["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrorResult("Error: name is required").WithError(guard.NewValidationError("name is required"))
	}
	if strings.ContainsAny(name, ";|&$`<>\\\"'\n\r") || strings.HasPrefix(name, "-") {
		e := guard.NewSecurityError("application name contains forbidden characters")
		return ErrorResult("Error: " + e.Error()).WithError(e)
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", "-a", name)
	case "linux":
		path, err := exec.LookPath(name)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error: application %q not found", name))
		}
		cmd = exec.CommandContext(ctx, path)
	default:
		return ErrorResult(fmt.Sprintf("Error: open_application not supported on %s", runtime.GOOS))
	}

	if err := cmd.Start(); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to open %q: %v", name, err))
	}
	// Detach; the application outlives the tool call.
	go cmd.Wait()
	return SilentResult("Opened " + name)
}

package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

const (
	// shellTimeoutCap bounds the configurable timeout.
	shellTimeoutCap = 120 * time.Second

	// shellBufferCap bounds how much child output is held in memory.
	shellBufferCap = 5 << 20

	shellStdoutChars = 10000
	shellStderrChars = 5000
)

// ShellTool runs commands inside the workspace with a filtered
// environment.
type ShellTool struct {
	workspace string
	settings  *settings.Manager
}

func NewShellTool(workspace string, st *settings.Manager) *ShellTool {
	return &ShellTool{workspace: workspace, settings: st}
}

func (t *ShellTool) Definition() Definition {
	return Definition{
		Name:        "run_shell",
		Description: "Execute a shell command in the agent workspace and return its output",
		Category:    settings.CategoryShell,
		Parameters: objectSchema([]string{"command"}, map[string]any{
			"command":     prop("string", "The shell command to execute"),
			"working_dir": prop("string", "Optional working directory, relative to the workspace"),
		}),
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("Error: command is required").WithError(guard.NewValidationError("command is required"))
	}

	if err := guard.ValidateShellCommand(command); err != nil {
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	cwd := t.workspace
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := guard.SafePath(t.workspace, wd)
		if err != nil {
			return ErrorResult("Error: " + err.Error()).WithError(err)
		}
		cwd = resolved
	}

	timeout := shellTimeoutCap
	if secs := t.settings.Get().Limits.ShellTimeoutSeconds; secs > 0 {
		timeout = time.Duration(secs) * time.Second
		if timeout > shellTimeoutCap {
			timeout = shellTimeoutCap
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	cmd.Env = filteredEnv(os.Environ())

	stdout := newCappedBuffer(shellBufferCap)
	stderr := newCappedBuffer(shellBufferCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()

	var out strings.Builder
	if s := stdout.String(); s != "" {
		out.WriteString(clipChars(s, shellStdoutChars))
	}
	if s := stderr.String(); s != "" {
		if out.Len() > 0 {
			out.WriteString("\n")
		}
		out.WriteString("STDERR:\n")
		out.WriteString(clipChars(s, shellStderrChars))
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("Error: command timed out after %s", timeout))
		}
		msg := out.String()
		if msg == "" {
			msg = err.Error()
		}
		return ErrorResult(msg)
	}

	if out.Len() == 0 {
		return SilentResult("(command completed with no output)")
	}
	return SilentResult(out.String())
}

// filteredEnv strips credential-bearing variables from the child
// environment.
func filteredEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(name)
		if strings.HasSuffix(upper, "_API_KEY") ||
			strings.HasSuffix(upper, "_TOKEN") ||
			strings.HasSuffix(upper, "_BOT_TOKEN") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func clipChars(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n...[truncated]"
}

// cappedBuffer accepts writes up to a cap and silently drops the rest,
// so a chatty child cannot exhaust memory.
type cappedBuffer struct {
	buf []byte
	cap int
}

func newCappedBuffer(capacity int) *cappedBuffer {
	return &cappedBuffer{cap: capacity}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.cap - len(b.buf)
	if room > 0 {
		if len(p) > room {
			b.buf = append(b.buf, p[:room]...)
		} else {
			b.buf = append(b.buf, p...)
		}
	}
	// Report full consumption so the child never blocks on a full pipe.
	return len(p), nil
}

func (b *cappedBuffer) String() string { return string(b.buf) }

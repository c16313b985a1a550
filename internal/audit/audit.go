// Package audit appends security-relevant actions to a daily JSONL file
// under <workspace>/logs/audit-YYYY-MM-DD.jsonl. Entries are append-only;
// rotation happens by date in the filename, never by truncation.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	maxInputChars  = 500
	maxResultChars = 500
)

// Entry is one audited action.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Action    string    `json:"action"`
	Tool      string    `json:"tool,omitempty"`
	Input     string    `json:"input,omitempty"`
	Result    string    `json:"result,omitempty"`
	Blocked   bool      `json:"blocked"`
	Reason    string    `json:"reason,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Channel   string    `json:"channel,omitempty"`
}

// Logger writes entries to the daily audit file.
type Logger struct {
	dir     string
	enabled bool

	mu       sync.Mutex
	file     *os.File
	fileDate string
}

// New creates a Logger writing under dir (the logs/ directory).
// When enabled is false every Log call is a no-op.
func New(dir string, enabled bool) (*Logger, error) {
	if enabled {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	return &Logger{dir: dir, enabled: enabled}, nil
}

// SetEnabled flips audit logging at runtime.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if enabled && !l.enabled {
		if err := os.MkdirAll(l.dir, 0o755); err != nil {
			slog.Error("audit.dir_create_failed", "dir", l.dir, "error", err)
			return
		}
	}
	l.enabled = enabled
}

// Log appends an entry. Input and result previews are truncated; blocked
// entries are additionally logged to the process log so operators see
// denials without tailing the audit file.
func (l *Logger) Log(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Input = truncate(e.Input, maxInputChars)
	e.Result = truncate(e.Result, maxResultChars)

	if e.Blocked {
		slog.Warn("audit.blocked",
			"action", e.Action, "tool", e.Tool, "reason", e.Reason,
			"user_id", e.UserID, "channel", e.Channel)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return
	}

	if err := l.ensureFile(e.Timestamp); err != nil {
		slog.Error("audit.open_failed", "error", err)
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("audit.marshal_failed", "error", err)
		return
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		slog.Error("audit.write_failed", "error", err)
	}
}

// ToolCall records a tool execution outcome.
func (l *Logger) ToolCall(tool, input, result string, blocked bool, reason, userID, channel string) {
	l.Log(Entry{
		Action:  "tool_call",
		Tool:    tool,
		Input:   input,
		Result:  result,
		Blocked: blocked,
		Reason:  reason,
		UserID:  userID,
		Channel: channel,
	})
}

// ensureFile opens (or rotates to) the file for the entry's date.
// Caller holds l.mu.
func (l *Logger) ensureFile(ts time.Time) error {
	date := ts.Format("2006-01-02")
	if l.file != nil && l.fileDate == date {
		return nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	path := filepath.Join(l.dir, "audit-"+date+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	l.file = f
	l.fileDate = date
	return nil
}

// Close flushes and closes the current file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileDate = ""
	return err
}

var (
	auditFileRe = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})\.jsonl$`)
	dateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ListDates returns the dates with audit files, newest first.
func (l *Logger) ListDates() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dates []string
	for _, e := range entries {
		if m := auditFileRe.FindStringSubmatch(e.Name()); m != nil {
			dates = append(dates, m[1])
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// ReadDate returns all entries for a date (YYYY-MM-DD). Missing files
// yield an empty slice. Malformed lines are skipped, not fatal.
func (l *Logger) ReadDate(date string) ([]Entry, error) {
	if !dateRe.MatchString(date) {
		return nil, fmt.Errorf("invalid date %q", date)
	}
	path := filepath.Join(l.dir, "audit-"+date+".jsonl")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			slog.Warn("audit.skip_malformed_line", "date", date)
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

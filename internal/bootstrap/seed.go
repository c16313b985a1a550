// Package bootstrap seeds a fresh workspace with its starter files.
// Seeding is idempotent: existing files are never touched, so user
// edits survive restarts and re-onboarding.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// HeartbeatFile is the proactive-work checklist consumed by the
// heartbeat ticker.
const HeartbeatFile = "HEARTBEAT.md"

// seedDirs are created empty so the first `remember` call or skill
// install has somewhere to land.
var seedDirs = []string{"memory", "skills", "tasks", "approvals", "logs", "threads"}

// Seed populates a workspace with the directory skeleton and every
// embedded template that does not exist yet. Returns the files it
// actually wrote.
func Seed(workspace string) ([]string, error) {
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, err
	}
	for _, dir := range seedDirs {
		if err := os.MkdirAll(filepath.Join(workspace, dir), 0o755); err != nil {
			return nil, err
		}
	}

	var written []string
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		ok, err := seedTemplate(workspace, entry.Name())
		if err != nil {
			slog.Warn("bootstrap.seed_failed", "file", entry.Name(), "error", err)
			continue
		}
		if ok {
			written = append(written, entry.Name())
		}
	}
	if len(written) > 0 {
		slog.Info("workspace.seeded", "files", written)
	}
	return written, nil
}

// seedTemplate writes one embedded template unless the destination
// already exists (O_EXCL keeps concurrent seeders from clobbering).
func seedTemplate(workspace, name string) (bool, error) {
	dst := filepath.Join(workspace, name)
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}

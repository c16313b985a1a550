package guard

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestSafePath_InsideWorkspace verifies that paths within the workspace
// resolve to absolute paths contained by it, whether given relative or
// absolute, existing or not.
func TestSafePath_InsideWorkspace(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "sub", "dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ws, "sub", "file.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
	}{
		{"relative existing file", "sub/file.txt"},
		{"relative existing dir", "sub/dir"},
		{"relative missing file", "sub/new.txt"},
		{"deeply missing path", "a/b/c/d.txt"},
		{"workspace root dot", "."},
		{"absolute inside", filepath.Join(ws, "sub", "file.txt")},
		{"dot-dot that stays inside", "sub/../sub/file.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafePath(ws, tt.path)
			if err != nil {
				t.Fatalf("SafePath(%q) error: %v", tt.path, err)
			}
			resolvedWS, _ := filepath.EvalSymlinks(ws)
			if got != resolvedWS && !strings.HasPrefix(got, resolvedWS+string(filepath.Separator)) {
				t.Errorf("SafePath(%q) = %q, not inside %q", tt.path, got, resolvedWS)
			}
		})
	}
}

// TestSafePath_Escapes verifies that traversal, absolute outside paths,
// and NUL bytes are rejected with a SecurityError.
func TestSafePath_Escapes(t *testing.T) {
	ws := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{"dot-dot traversal", "../../etc/passwd"},
		{"deep traversal", "sub/../../../etc/shadow"},
		{"absolute outside", "/etc/passwd"},
		{"nul byte", "file\x00.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SafePath(ws, tt.path)
			if err == nil {
				t.Fatalf("SafePath(%q) succeeded, want security error", tt.path)
			}
			if !IsSecurityError(err) {
				t.Errorf("SafePath(%q) error = %v, want SecurityError", tt.path, err)
			}
		})
	}
}

// TestSafePath_SymlinkEscape verifies that a symlink pointing outside
// the workspace is caught, including paths through the link that do not
// exist yet.
func TestSafePath_SymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(ws, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := SafePath(ws, "link"); !IsSecurityError(err) {
		t.Errorf("SafePath(link) error = %v, want SecurityError", err)
	}
	if _, err := SafePath(ws, "link/new-file.txt"); !IsSecurityError(err) {
		t.Errorf("SafePath(link/new-file.txt) error = %v, want SecurityError", err)
	}
}

// TestSafePath_BrokenSymlink verifies that a dangling symlink whose
// target would land outside the workspace is rejected, while one whose
// target stays inside is allowed.
func TestSafePath_BrokenSymlink(t *testing.T) {
	ws := t.TempDir()

	bad := filepath.Join(ws, "bad")
	if err := os.Symlink("/nonexistent-outside-target", bad); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := SafePath(ws, "bad"); !IsSecurityError(err) {
		t.Errorf("SafePath(bad) error = %v, want SecurityError", err)
	}

	ok := filepath.Join(ws, "ok")
	if err := os.Symlink(filepath.Join(ws, "not-yet-created.txt"), ok); err != nil {
		t.Fatal(err)
	}
	if _, err := SafePath(ws, "ok"); err != nil {
		t.Errorf("SafePath(ok) error = %v, want nil", err)
	}
}

// TestSafePath_EmptyPath verifies that the empty string is a validation
// error rather than a resolved path.
func TestSafePath_EmptyPath(t *testing.T) {
	ws := t.TempDir()
	if _, err := SafePath(ws, ""); !IsValidationError(err) {
		t.Errorf("SafePath(\"\") error = %v, want ValidationError", err)
	}
}

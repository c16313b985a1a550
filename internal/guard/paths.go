package guard

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// SafePath resolves a user-supplied path against the workspace root and
// returns its canonical absolute form. It rejects NUL bytes, escapes via
// `..`, and symlinks (including broken ones) whose targets land outside the
// workspace. Absolute inputs are accepted only when they satisfy the same
// containment check.
func SafePath(workspace, path string) (string, error) {
	if strings.ContainsRune(path, 0) {
		return "", NewSecurityError("path contains NUL byte")
	}
	if path == "" {
		return "", NewValidationError("path is empty")
	}

	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}

	// Canonicalize the workspace itself (it may live behind a symlink).
	absWorkspace, _ := filepath.Abs(workspace)
	wsReal, err := filepath.EvalSymlinks(absWorkspace)
	if err != nil {
		wsReal = absWorkspace // workspace not created yet
	}

	absResolved, _ := filepath.Abs(resolved)
	real, err := filepath.EvalSymlinks(absResolved)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("security.path_resolve_failed", "path", path, "error", err)
			return "", NewSecurityError("access denied: cannot resolve path")
		}
		real, err = resolveMissing(absResolved)
		if err != nil {
			return "", err
		}
	}

	if !isPathInside(real, wsReal) {
		slog.Warn("security.path_escape", "path", path, "resolved", real, "workspace", wsReal)
		return "", NewSecurityError("access denied: path outside workspace")
	}
	return real, nil
}

// resolveMissing canonicalizes a path that does not (fully) exist. Broken
// symlinks have their target chased through existing ancestors so a
// dangling link cannot smuggle a write outside the workspace; plain missing
// files are resolved through their deepest existing ancestor.
func resolveMissing(absResolved string) (string, error) {
	if linfo, lerr := os.Lstat(absResolved); lerr == nil && linfo.Mode()&os.ModeSymlink != 0 {
		target, readErr := os.Readlink(absResolved)
		if readErr != nil {
			return "", NewSecurityError("access denied: cannot resolve symlink")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(absResolved), target)
		}
		resolved, resolveErr := resolveThroughExistingAncestors(filepath.Clean(target))
		if resolveErr != nil {
			slog.Warn("security.broken_symlink_resolve_failed", "path", absResolved, "target", target)
			return "", NewSecurityError("access denied: cannot resolve broken symlink target")
		}
		return resolved, nil
	}

	return resolveThroughExistingAncestors(absResolved)
}

// isPathInside checks whether child is inside or equal to parent directory.
func isPathInside(child, parent string) bool {
	if child == parent {
		return true
	}
	return strings.HasPrefix(child, parent+string(filepath.Separator))
}

// resolveThroughExistingAncestors canonicalizes by finding the deepest
// existing ancestor, resolving its symlinks, then appending the remaining
// components. Catches chained symlinks whose intermediate targets escape.
func resolveThroughExistingAncestors(target string) (string, error) {
	if real, err := filepath.EvalSymlinks(target); err == nil {
		return real, nil
	}

	current := target
	var tail []string
	for {
		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent

		if realParent, err := filepath.EvalSymlinks(current); err == nil {
			result := realParent
			for _, component := range tail {
				result = filepath.Join(result, component)
			}
			return result, nil
		}
	}
	return filepath.Clean(target), nil
}

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nextlevelbuilder/agentd/internal/guard"
	"github.com/nextlevelbuilder/agentd/internal/settings"
)

// deniedWriteExtensions are executable formats write_file refuses to
// create.
var deniedWriteExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".msi": true, ".scr": true, ".ps1": true, ".vbs": true, ".wsf": true,
}

// ReadFileTool reads file contents from inside the workspace.
type ReadFileTool struct {
	workspace string
}

func NewReadFileTool(workspace string) *ReadFileTool {
	return &ReadFileTool{workspace: workspace}
}

func (t *ReadFileTool) Definition() Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read the contents of a file in the workspace",
		Category:    settings.CategoryFilesystem,
		Parameters: objectSchema([]string{"path"}, map[string]any{
			"path": prop("string", "Path to the file, relative to the workspace"),
		}),
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("Error: path is required").WithError(guard.NewValidationError("path is required"))
	}

	resolved, err := guard.SafePath(t.workspace, path)
	if err != nil {
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to read file: %v", err))
	}
	return SilentResult(string(data))
}

// WriteFileTool writes file contents inside the workspace. Parent
// directories are created as needed.
type WriteFileTool struct {
	workspace string
}

func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{workspace: workspace}
}

func (t *WriteFileTool) Definition() Definition {
	return Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace, creating parent directories as needed",
		Category:    settings.CategoryFilesystem,
		Parameters: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    prop("string", "Path to the file, relative to the workspace"),
			"content": prop("string", "Content to write"),
			"append":  prop("boolean", "Append to the file instead of overwriting"),
		}),
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("Error: path is required").WithError(guard.NewValidationError("path is required"))
	}
	content, _ := args["content"].(string)

	if ext := strings.ToLower(filepath.Ext(path)); deniedWriteExtensions[ext] {
		err := guard.NewSecurityError(fmt.Sprintf("writing %s files is not allowed", ext))
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	resolved, err := guard.SafePath(t.workspace, path)
	if err != nil {
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to create directory: %v", err))
	}

	appendMode, _ := args["append"].(bool)
	if appendMode {
		f, err := os.OpenFile(resolved, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return ErrorResult(fmt.Sprintf("Error: failed to open file: %v", err))
		}
		defer f.Close()
		if _, err := f.WriteString(content); err != nil {
			return ErrorResult(fmt.Sprintf("Error: failed to append: %v", err))
		}
		return SilentResult(fmt.Sprintf("Appended %d bytes to %s", len(content), path))
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
}

// ListDirectoryTool lists directory entries inside the workspace.
type ListDirectoryTool struct {
	workspace string
}

func NewListDirectoryTool(workspace string) *ListDirectoryTool {
	return &ListDirectoryTool{workspace: workspace}
}

func (t *ListDirectoryTool) Definition() Definition {
	return Definition{
		Name:        "list_directory",
		Description: "List the entries of a directory in the workspace",
		Category:    settings.CategoryFilesystem,
		Parameters: objectSchema(nil, map[string]any{
			"path": prop("string", "Directory path, relative to the workspace (defaults to the workspace root)"),
		}),
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]any) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}

	resolved, err := guard.SafePath(t.workspace, path)
	if err != nil {
		return ErrorResult("Error: " + err.Error()).WithError(err)
	}

	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("Error: failed to list directory: %v", err))
	}
	if len(entries) == 0 {
		return SilentResult("(empty directory)")
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "%s/\n", e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			fmt.Fprintf(&b, "%s\n", e.Name())
			continue
		}
		fmt.Fprintf(&b, "%s (%d bytes)\n", e.Name(), info.Size())
	}
	return SilentResult(strings.TrimRight(b.String(), "\n"))
}

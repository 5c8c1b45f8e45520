package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mama-os/mama/pkg/fileutil"
)

const maxReadBytes = 64 * 1024

// ValidatePath resolves path against the workspace and, when restrict is
// set, rejects anything that escapes it, following symlinks so a link
// inside the workspace cannot point back out.
func ValidatePath(path, workspace string, restrict bool) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("workspace is not defined")
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace path: %w", err)
	}

	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath, err = filepath.Abs(filepath.Join(absWorkspace, path))
		if err != nil {
			return "", fmt.Errorf("failed to resolve file path: %w", err)
		}
	}

	if !restrict {
		return absPath, nil
	}
	if !isWithin(absPath, absWorkspace) {
		return "", fmt.Errorf("access denied: path is outside the workspace")
	}

	workspaceReal := absWorkspace
	if resolved, err := filepath.EvalSymlinks(absWorkspace); err == nil {
		workspaceReal = resolved
	}
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		if !isWithin(resolved, workspaceReal) {
			return "", fmt.Errorf("access denied: symlink resolves outside workspace")
		}
	} else if os.IsNotExist(err) {
		if ancestor, err := resolveExistingAncestor(filepath.Dir(absPath)); err == nil {
			if !isWithin(ancestor, workspaceReal) {
				return "", fmt.Errorf("access denied: symlink resolves outside workspace")
			}
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	} else {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	return absPath, nil
}

func resolveExistingAncestor(path string) (string, error) {
	for current := filepath.Clean(path); ; current = filepath.Dir(current) {
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			return resolved, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
		if filepath.Dir(current) == current {
			return "", os.ErrNotExist
		}
	}
}

func isWithin(candidate, workspace string) bool {
	rel, err := filepath.Rel(filepath.Clean(workspace), filepath.Clean(candidate))
	return err == nil && filepath.IsLocal(rel)
}

// ReadFileTool reads a file within the workspace, truncating large files
// for the LLM.
type ReadFileTool struct {
	Workspace string
	Restrict  bool
}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace" }

func (t *ReadFileTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "fs",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "path", Type: "string", Required: true, Description: "File path, absolute or workspace-relative", Path: true},
		},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := ValidatePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err)).WithError(err)
	}
	content := string(data)
	if len(content) > maxReadBytes {
		content = content[:maxReadBytes] + fmt.Sprintf("\n... [truncated, %d bytes total]", len(data))
	}
	return NewToolResult(content)
}

// WriteFileTool writes a file atomically within the workspace.
type WriteFileTool struct {
	Workspace string
	Restrict  bool
}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the workspace" }

func (t *WriteFileTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "fs",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "path", Type: "string", Required: true, Description: "Destination path", Path: true},
			{Name: "content", Type: "string", Required: true, Description: "Full file content"},
		},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	resolved, err := ValidatePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	if err := fileutil.WriteFileAtomic(resolved, []byte(content), 0o600); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err)).WithError(err)
	}
	return NewToolResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// ListDirTool lists a directory within the workspace.
type ListDirTool struct {
	Workspace string
	Restrict  bool
}

func (t *ListDirTool) Name() string        { return "list_dir" }
func (t *ListDirTool) Description() string { return "List the entries of a workspace directory" }

func (t *ListDirTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "fs",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "path", Type: "string", Required: true, Description: "Directory path", Path: true},
		},
	}
}

func (t *ListDirTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := ValidatePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list directory: %v", err)).WithError(err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return NewToolResult("(empty directory)")
	}
	return NewToolResult(strings.Join(names, "\n"))
}

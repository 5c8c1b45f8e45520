package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathRestrict(t *testing.T) {
	workspace := t.TempDir()

	if _, err := ValidatePath("notes.md", workspace, true); err != nil {
		t.Errorf("relative path inside workspace rejected: %v", err)
	}
	if _, err := ValidatePath("../outside.txt", workspace, true); err == nil {
		t.Error("parent escape accepted")
	}
	if _, err := ValidatePath("/etc/passwd", workspace, true); err == nil {
		t.Error("absolute path outside workspace accepted")
	}
	if _, err := ValidatePath("/etc/passwd", workspace, false); err != nil {
		t.Errorf("unrestricted mode rejected absolute path: %v", err)
	}
}

func TestValidatePathSymlinkEscape(t *testing.T) {
	workspace := t.TempDir()
	outside := t.TempDir()

	link := filepath.Join(workspace, "escape")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if _, err := ValidatePath("escape/secret.txt", workspace, true); err == nil {
		t.Error("symlink escape accepted")
	}
}

func TestReadWriteListRoundTrip(t *testing.T) {
	workspace := t.TempDir()
	write := &WriteFileTool{Workspace: workspace, Restrict: true}
	read := &ReadFileTool{Workspace: workspace, Restrict: true}
	list := &ListDirTool{Workspace: workspace, Restrict: true}
	ctx := context.Background()

	result := write.Execute(ctx, map[string]any{"path": "sub/notes.md", "content": "hello mama"})
	if result.IsError {
		t.Fatalf("write failed: %s", result.ForLLM)
	}

	result = read.Execute(ctx, map[string]any{"path": "sub/notes.md"})
	if result.IsError || result.ForLLM != "hello mama" {
		t.Fatalf("read = %q (err=%v)", result.ForLLM, result.IsError)
	}

	result = list.Execute(ctx, map[string]any{"path": "sub"})
	if result.IsError || !strings.Contains(result.ForLLM, "notes.md") {
		t.Fatalf("list = %q (err=%v)", result.ForLLM, result.IsError)
	}
}

func TestReadFileTruncatesLargeFiles(t *testing.T) {
	workspace := t.TempDir()
	big := strings.Repeat("x", maxReadBytes+100)
	if err := os.WriteFile(filepath.Join(workspace, "big.txt"), []byte(big), 0o600); err != nil {
		t.Fatal(err)
	}

	read := &ReadFileTool{Workspace: workspace, Restrict: true}
	result := read.Execute(context.Background(), map[string]any{"path": "big.txt"})
	if result.IsError {
		t.Fatalf("read failed: %s", result.ForLLM)
	}
	if !strings.Contains(result.ForLLM, "[truncated") {
		t.Error("oversized read must carry a truncation marker")
	}
	if len(result.ForLLM) > maxReadBytes+100 {
		t.Errorf("truncated read still %d bytes", len(result.ForLLM))
	}
}

func TestShellToolRunsAndFails(t *testing.T) {
	sh := &ShellTool{Workspace: t.TempDir()}
	ctx := context.Background()

	result := sh.Execute(ctx, map[string]any{"command": "printf ok"})
	if result.IsError || result.ForLLM != "ok" {
		t.Fatalf("shell run = %q (err=%v)", result.ForLLM, result.IsError)
	}

	result = sh.Execute(ctx, map[string]any{"command": "exit 3"})
	if !result.IsError {
		t.Error("non-zero exit must be an error result")
	}

	result = sh.Execute(ctx, map[string]any{"command": "   "})
	if !result.IsError {
		t.Error("blank command must be rejected")
	}
}

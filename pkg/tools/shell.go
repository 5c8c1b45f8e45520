package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellOutput      = 16 * 1024
)

// ShellTool runs a shell command in the workspace. Only roles with
// system_control are given this tool in their allow-lists.
type ShellTool struct {
	Workspace string
	Timeout   time.Duration
}

func (t *ShellTool) Name() string        { return "shell" }
func (t *ShellTool) Description() string { return "Run a shell command in the workspace" }

func (t *ShellTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "system",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "command", Type: "string", Required: true, Description: "Command line to execute"},
		},
	}
}

func (t *ShellTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultShellTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = t.Workspace
	output, err := cmd.CombinedOutput()

	text := string(output)
	if len(text) > maxShellOutput {
		// Keep the tail; errors usually print last.
		text = "... [output truncated]\n" + text[len(text)-maxShellOutput:]
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, text)).WithError(runCtx.Err())
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, text)).WithError(err)
	}
	if strings.TrimSpace(text) == "" {
		return NewToolResult("(no output)")
	}
	return NewToolResult(text)
}

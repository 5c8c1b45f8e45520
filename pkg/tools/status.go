package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StatusFunc supplies a point-in-time runtime snapshot for mama_status.
type StatusFunc func() map[string]any

// StatusTool reports runtime health: uptime, session counts, queue depth.
type StatusTool struct {
	Status StatusFunc
}

func (t *StatusTool) Name() string        { return "mama_status" }
func (t *StatusTool) Description() string { return "Report runtime status" }

func (t *StatusTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "runtime",
		ReturnType:  "string",
		Params:      []ParamSpec{},
	}
}

func (t *StatusTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if t.Status == nil {
		return ErrorResult("status source not wired")
	}
	snapshot := t.Status()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		value, err := json.Marshal(snapshot[k])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", snapshot[k]))
		}
		fmt.Fprintf(&sb, "%s: %s\n", k, value)
	}
	return NewToolResult(sb.String())
}

// ShutdownTool requests a graceful daemon stop. Restricted to roles with
// system_control via the role tool lists.
type ShutdownTool struct {
	Shutdown func(reason string)
}

func (t *ShutdownTool) Name() string        { return "mama_shutdown" }
func (t *ShutdownTool) Description() string { return "Gracefully stop the runtime" }

func (t *ShutdownTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        t.Name(),
		Description: t.Description(),
		Category:    "runtime",
		ReturnType:  "string",
		Params: []ParamSpec{
			{Name: "reason", Type: "string", Required: false, Description: "Reason recorded in the log"},
		},
	}
}

func (t *ShutdownTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	if t.Shutdown == nil {
		return ErrorResult("shutdown hook not wired")
	}
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "requested via tool"
	}
	t.Shutdown(reason)
	return AsyncResult("shutdown initiated: " + reason)
}

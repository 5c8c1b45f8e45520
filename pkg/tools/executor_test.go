package tools

import (
	"context"
	"testing"

	"github.com/mama-os/mama/pkg/errkind"
	"github.com/mama-os/mama/pkg/roles"
)

type echoTool struct {
	name     string
	spec     ToolSpec
	lastArgs map[string]any
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echo" }
func (e *echoTool) Spec() ToolSpec {
	if e.spec.Name != "" {
		return e.spec
	}
	return ToolSpec{Name: e.name, Category: "test", ReturnType: "string"}
}
func (e *echoTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	e.lastArgs = args
	text, _ := args["text"].(string)
	return NewToolResult("echo: " + text)
}

func testRoleManager() *roles.Manager {
	return roles.NewManager(
		map[string]string{
			"viewer":  "os_agent",
			"discord": "chat_bot",
		},
		map[string]*roles.RoleConfig{
			"os_agent": {AllowedTools: []string{"*"}},
			"chat_bot": {
				AllowedTools: []string{"echo", "scoped_write"},
				BlockedTools: []string{"shell"},
				AllowedPaths: []string{"/workspace/**"},
			},
		},
	)
}

func TestExecuteUnknownTool(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)

	call := CallContext{AgentID: "mama", Role: rm.RoleFor("discord")}
	result := e.Execute(context.Background(), call, "nonexistent", nil)
	if !result.IsError {
		t.Fatal("unknown tool must produce an error result")
	}
	if result.ForLLM != string(errkind.UnknownTool) {
		t.Errorf("ForLLM = %q, want stable unknown_tool string", result.ForLLM)
	}
	if errkind.KindOf(result.Err) != errkind.UnknownTool {
		t.Errorf("err kind = %v, want unknown_tool", errkind.KindOf(result.Err))
	}
}

func TestExecutePermissionDenied(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)
	e.Register(&echoTool{name: "shell"})

	call := CallContext{AgentID: "mama", Role: rm.RoleFor("discord")}
	result := e.Execute(context.Background(), call, "shell", nil)
	if !result.IsError {
		t.Fatal("blocked tool must produce an error result")
	}
	if errkind.KindOf(result.Err) != errkind.PermissionDenied {
		t.Errorf("err kind = %v, want permission_denied", errkind.KindOf(result.Err))
	}
}

func TestExecuteAllowedTool(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)
	tool := &echoTool{name: "echo"}
	e.Register(tool)

	call := CallContext{AgentID: "mama", SessionID: "s1", Role: rm.RoleFor("discord")}
	result := e.Execute(context.Background(), call, "echo", map[string]any{"text": "hi"})
	if result.IsError {
		t.Fatalf("allowed tool errored: %s", result.ForLLM)
	}
	if result.ForLLM != "echo: hi" {
		t.Errorf("ForLLM = %q", result.ForLLM)
	}
}

func TestExecutePathEnforcement(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)
	e.Register(&echoTool{
		name: "scoped_write",
		spec: ToolSpec{
			Name:     "scoped_write",
			Category: "fs",
			Params:   []ParamSpec{{Name: "path", Type: "string", Required: true, Path: true}},
		},
	})

	call := CallContext{AgentID: "mama", Role: rm.RoleFor("discord")}

	result := e.Execute(context.Background(), call, "scoped_write", map[string]any{"path": "/workspace/notes.md"})
	if result.IsError {
		t.Fatalf("in-scope path rejected: %s", result.ForLLM)
	}

	result = e.Execute(context.Background(), call, "scoped_write", map[string]any{"path": "/etc/shadow"})
	if !result.IsError {
		t.Fatal("out-of-scope path accepted")
	}
	if errkind.KindOf(result.Err) != errkind.PermissionDenied {
		t.Errorf("err kind = %v, want permission_denied", errkind.KindOf(result.Err))
	}
}

func TestSpecsForRoleFilters(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)
	e.Register(&echoTool{name: "echo"})
	e.Register(&echoTool{name: "shell"})
	e.Register(&echoTool{name: "format_disk"})

	specs := e.SpecsForRole(rm.RoleFor("discord"))
	if len(specs) != 1 || specs[0].Name != "echo" {
		t.Errorf("SpecsForRole = %+v, want only echo", specs)
	}

	all := e.SpecsForRole(rm.RoleFor("viewer"))
	if len(all) != 3 {
		t.Errorf("star role sees %d tools, want 3", len(all))
	}
	// Sorted for stable declaration output.
	if all[0].Name != "echo" || all[1].Name != "format_disk" || all[2].Name != "shell" {
		t.Errorf("specs not sorted: %v", []string{all[0].Name, all[1].Name, all[2].Name})
	}
}

func TestStatsCounts(t *testing.T) {
	rm := testRoleManager()
	e := NewExecutor(rm)
	e.Register(&echoTool{name: "echo"})
	call := CallContext{Role: rm.RoleFor("discord")}

	e.Execute(context.Background(), call, "echo", map[string]any{"text": "a"})
	e.Execute(context.Background(), call, "echo", map[string]any{"text": "b"})
	e.Execute(context.Background(), call, "missing", nil)

	calls, errors := e.Stats()
	if calls["echo"] != 2 {
		t.Errorf("echo calls = %d, want 2", calls["echo"])
	}
	if errors["missing"] != 1 {
		t.Errorf("missing errors = %d, want 1", errors["missing"])
	}
}

func TestSchemaFromSpec(t *testing.T) {
	spec := ToolSpec{
		Name:        "read_file",
		Description: "Read a file",
		Params: []ParamSpec{
			{Name: "path", Type: "string", Required: true},
			{Name: "limit", Type: "number", Required: false},
		},
	}
	schema := spec.Schema()
	input := schema["input_schema"].(map[string]any)
	props := input["properties"].(map[string]any)
	if _, ok := props["path"]; !ok {
		t.Error("schema missing path property")
	}
	required := input["required"].([]string)
	if len(required) != 1 || required[0] != "path" {
		t.Errorf("required = %v, want [path]", required)
	}
}

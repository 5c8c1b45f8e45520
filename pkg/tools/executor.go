package tools

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mama-os/mama/pkg/errkind"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/roles"
)

// CallContext identifies who is making a tool call. Role comes from the
// role manager's resolution of the originating source.
type CallContext struct {
	AgentID   string
	SessionID string
	Source    string
	Role      *roles.RoleConfig
}

// Executor owns the tool registry and enforces role permissions on every
// call. All gateway and sandbox tool invocations flow through Execute.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]Tool
	roles *roles.Manager

	statsMu sync.Mutex
	calls   map[string]int64
	errors  map[string]int64
}

func NewExecutor(roleManager *roles.Manager) *Executor {
	return &Executor{
		tools:  make(map[string]Tool),
		roles:  roleManager,
		calls:  make(map[string]int64),
		errors: make(map[string]int64),
	}
}

func (e *Executor) Register(tool Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[tool.Name()] = tool
}

func (e *Executor) Get(name string) (Tool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tool, ok := e.tools[name]
	return tool, ok
}

// Specs returns the catalogue sorted by name. Deterministic ordering keeps
// generated declarations and LLM tool definitions stable across calls.
func (e *Executor) Specs() []ToolSpec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tools))
	for name := range e.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	specs := make([]ToolSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, e.tools[name].Spec())
	}
	return specs
}

// SpecsForRole returns only the catalogue entries the role may call.
func (e *Executor) SpecsForRole(role *roles.RoleConfig) []ToolSpec {
	all := e.Specs()
	allowed := make([]ToolSpec, 0, len(all))
	for _, spec := range all {
		if e.roles.IsToolAllowed(role, spec.Name) {
			allowed = append(allowed, spec)
		}
	}
	return allowed
}

// Execute runs one tool call under the caller's role. Unknown tools,
// blocked tools and out-of-bounds paths come back as error results with
// stable kinds; the error never aborts the calling agent loop.
func (e *Executor) Execute(ctx context.Context, call CallContext, name string, args map[string]any) *ToolResult {
	tool, ok := e.Get(name)
	if !ok {
		e.count(name, true)
		logger.WarnCF("tools", "Unknown tool requested", map[string]any{
			"tool":  name,
			"agent": call.AgentID,
		})
		return ErrorResult(string(errkind.UnknownTool)).
			WithError(errkind.New(errkind.UnknownTool, "no tool named %q", name))
	}

	if !e.roles.IsToolAllowed(call.Role, name) {
		e.count(name, true)
		logger.WarnCF("tools", "Tool blocked by role", map[string]any{
			"tool":   name,
			"agent":  call.AgentID,
			"role":   roleName(call.Role),
			"source": call.Source,
		})
		return ErrorResult(string(errkind.PermissionDenied)).
			WithError(errkind.New(errkind.PermissionDenied, "role %s may not call %s", roleName(call.Role), name))
	}

	if denied := e.checkPathArgs(call.Role, tool.Spec(), args); denied != "" {
		e.count(name, true)
		logger.WarnCF("tools", "Path blocked by role", map[string]any{
			"tool": name,
			"path": denied,
			"role": roleName(call.Role),
		})
		return ErrorResult(string(errkind.PermissionDenied)).
			WithError(errkind.New(errkind.PermissionDenied, "role %s may not access %s", roleName(call.Role), denied))
	}

	logger.DebugCF("tools", "Tool execution started", map[string]any{
		"tool":    name,
		"agent":   call.AgentID,
		"session": call.SessionID,
	})

	start := time.Now()
	result := tool.Execute(ctx, args)
	duration := time.Since(start)
	e.count(name, result.IsError)

	if result.IsError {
		logger.ErrorCF("tools", "Tool execution failed", map[string]any{
			"tool":        name,
			"duration_ms": duration.Milliseconds(),
			"error":       result.ForLLM,
		})
	} else {
		logger.InfoCF("tools", "Tool execution completed", map[string]any{
			"tool":          name,
			"duration_ms":   duration.Milliseconds(),
			"result_length": len(result.ForLLM),
		})
	}
	return result
}

// checkPathArgs runs the role path check on every path-bearing string
// argument. Returns the first denied path, or "" when all pass.
func (e *Executor) checkPathArgs(role *roles.RoleConfig, spec ToolSpec, args map[string]any) string {
	for _, param := range spec.Params {
		if !param.Path {
			continue
		}
		value, ok := args[param.Name].(string)
		if !ok || value == "" {
			continue
		}
		if !e.roles.IsPathAllowed(role, value) {
			return value
		}
	}
	return ""
}

// Stats returns per-tool call and error counts.
func (e *Executor) Stats() (calls, errors map[string]int64) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	calls = make(map[string]int64, len(e.calls))
	errors = make(map[string]int64, len(e.errors))
	for k, v := range e.calls {
		calls[k] = v
	}
	for k, v := range e.errors {
		errors[k] = v
	}
	return calls, errors
}

func (e *Executor) count(name string, isErr bool) {
	e.statsMu.Lock()
	e.calls[name]++
	if isErr {
		e.errors[name]++
	}
	e.statsMu.Unlock()
}

func roleName(role *roles.RoleConfig) string {
	if role == nil {
		return "none"
	}
	return role.Name
}

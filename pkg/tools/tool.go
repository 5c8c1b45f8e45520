// Package tools holds the gateway tool surface: the Tool interface, the
// spec metadata the host bridge renders into type declarations, and the
// role-enforcing executor that every tool call passes through.
package tools

import "context"

// Tool is the contract every gateway tool implements. Execute must honor
// ctx cancellation; long-running tools return partial output with an error
// result rather than hanging.
type Tool interface {
	Name() string
	Description() string
	Spec() ToolSpec
	Execute(ctx context.Context, args map[string]any) *ToolResult
}

// ParamSpec describes one tool parameter. Path marks parameters that carry
// filesystem paths so the executor can run role path checks on them.
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	Path        bool   `json:"-"`
}

// ToolSpec is the catalogue entry for a tool. The host bridge groups specs
// by Category when generating the sandbox .d.ts.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Category    string      `json:"category"`
	ReturnType  string      `json:"return_type"`
	Params      []ParamSpec `json:"params"`
}

// Schema renders the spec as a JSON-schema function definition for LLM
// tool calls.
func (s ToolSpec) Schema() map[string]any {
	properties := make(map[string]any, len(s.Params))
	required := make([]string, 0, len(s.Params))
	for _, p := range s.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"input_schema": map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// ToolResult carries both the LLM-facing and user-facing views of a tool
// outcome. ForUser is optional; empty means the LLM text is all there is.
type ToolResult struct {
	ForLLM  string
	ForUser string
	IsError bool
	Async   bool
	Err     error
}

func NewToolResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM}
}

// SilentResult is shown to the LLM but never surfaced to the user.
func SilentResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, ForUser: ""}
}

func AsyncResult(forLLM string) *ToolResult {
	return &ToolResult{ForLLM: forLLM, Async: true}
}

func ErrorResult(message string) *ToolResult {
	return &ToolResult{ForLLM: message, IsError: true}
}

func (r *ToolResult) WithError(err error) *ToolResult {
	r.Err = err
	r.IsError = true
	return r
}

package sandbox

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"

	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/tools"
)

// readOnlyTools is the fixed surface visible to tier 2 and tier 3 agents
// inside the sandbox. Tier 1 sees everything its role allows.
var readOnlyTools = map[string]bool{
	"read_file":   true,
	"list_dir":    true,
	"mama_status": true,
}

// HostBridge projects the gateway tool catalogue into the script global
// scope as plain functions. Every call is counted against the sandbox
// host-call ceiling and re-enters the executor's role checks.
type HostBridge struct {
	executor *tools.Executor
	call     tools.CallContext
	tier     int
}

func NewHostBridge(executor *tools.Executor, call tools.CallContext, tier int) *HostBridge {
	return &HostBridge{executor: executor, call: call, tier: tier}
}

// visibleSpecs applies the tier filter on top of the role filter.
func (b *HostBridge) visibleSpecs() []tools.ToolSpec {
	specs := b.executor.SpecsForRole(b.call.Role)
	if b.tier == 1 {
		return specs
	}
	filtered := make([]tools.ToolSpec, 0, len(specs))
	for _, spec := range specs {
		if readOnlyTools[spec.Name] {
			filtered = append(filtered, spec)
		}
	}
	return filtered
}

// Declarations renders the tier-filtered tool surface for prompt
// injection.
func (b *HostBridge) Declarations() string {
	return GenerateDeclarations(b.visibleSpecs())
}

func (b *HostBridge) install(vm *goja.Runtime, s *Sandbox) error {
	for _, spec := range b.visibleSpecs() {
		spec := spec
		fn := func(call goja.FunctionCall) goja.Value {
			if !s.countHostCall() {
				panic(vm.ToValue(fmt.Sprintf("host call limit exceeded (%d max)", s.cfg.MaxHostCalls)))
			}
			args, err := coerceArgs(spec, call.Arguments)
			if err != nil {
				panic(vm.ToValue(err.Error()))
			}
			result := b.executor.Execute(s.callContext(), b.call, spec.Name, args)
			if result.IsError {
				panic(vm.ToValue(result.ForLLM))
			}
			return vm.ToValue(result.ForLLM)
		}
		if err := vm.Set(spec.Name, fn); err != nil {
			return err
		}
	}
	logger.DebugCF("sandbox", "Host bridge installed", map[string]any{
		"tier":  b.tier,
		"tools": len(b.visibleSpecs()),
	})
	return nil
}

// coerceArgs accepts both calling conventions: positional arguments in
// parameter order, or a single object keyed by parameter name. Missing
// required parameters throw the usage string.
func coerceArgs(spec tools.ToolSpec, raw []goja.Value) (map[string]any, error) {
	args := make(map[string]any, len(spec.Params))

	if len(raw) == 1 {
		if obj, ok := raw[0].(*goja.Object); ok && obj.ClassName() == "Object" {
			exported := Marshal(raw[0])
			if named, ok := exported.(map[string]any); ok {
				for _, param := range spec.Params {
					if value, ok := named[param.Name]; ok {
						args[param.Name] = value
					}
				}
				return args, checkRequired(spec, args)
			}
		}
	}

	for i, param := range spec.Params {
		if i >= len(raw) {
			break
		}
		if value := Marshal(raw[i]); value != nil {
			args[param.Name] = value
		}
	}
	return args, checkRequired(spec, args)
}

func checkRequired(spec tools.ToolSpec, args map[string]any) error {
	for _, param := range spec.Params {
		if param.Required {
			if _, ok := args[param.Name]; !ok {
				return fmt.Errorf("missing required parameter %q; usage: %s", param.Name, Usage(spec))
			}
		}
	}
	return nil
}

// Usage renders the call signature of one tool, e.g.
// read_file(path: string): string.
func Usage(spec tools.ToolSpec) string {
	params := make([]string, 0, len(spec.Params))
	for _, p := range spec.Params {
		name := p.Name
		if !p.Required {
			name += "?"
		}
		params = append(params, fmt.Sprintf("%s: %s", name, dtsType(p.Type)))
	}
	ret := dtsType(spec.ReturnType)
	if ret == "" {
		ret = "void"
	}
	return fmt.Sprintf("%s(%s): %s", spec.Name, strings.Join(params, ", "), ret)
}

func dtsType(t string) string {
	switch t {
	case "string", "number", "boolean":
		return t
	case "integer":
		return "number"
	case "":
		return ""
	default:
		return "any"
	}
}

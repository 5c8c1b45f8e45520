package sandbox

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mama-os/mama/pkg/tools"
)

// codeActPreamble is prepended to the generated declarations and tells
// the model how the Code-Act loop works.
const codeActPreamble = `// MAMA Code-Act environment.
//
// To act, emit one JavaScript block. The value of the last expression is
// returned to you, console.log output is captured, and thrown errors come
// back as error results. Each run is limited to 10 seconds and 50 host
// calls. State does not persist between runs.`

// GenerateDeclarations renders the visible tool catalogue as TypeScript
// declarations grouped by category, preceded by the Code-Act preamble.
// Ordering is deterministic so the prompt stays cache-stable.
func GenerateDeclarations(specs []tools.ToolSpec) string {
	byCategory := make(map[string][]tools.ToolSpec)
	for _, spec := range specs {
		category := spec.Category
		if category == "" {
			category = "misc"
		}
		byCategory[category] = append(byCategory[category], spec)
	}

	categories := make([]string, 0, len(byCategory))
	for category := range byCategory {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString(codeActPreamble)
	sb.WriteString("\n")

	for _, category := range categories {
		group := byCategory[category]
		sort.Slice(group, func(i, j int) bool { return group[i].Name < group[j].Name })

		fmt.Fprintf(&sb, "\n// --- %s ---\n", category)
		for _, spec := range group {
			if spec.Description != "" {
				fmt.Fprintf(&sb, "/** %s */\n", spec.Description)
			}
			fmt.Fprintf(&sb, "declare function %s;\n", Usage(spec))
		}
	}
	return sb.String()
}

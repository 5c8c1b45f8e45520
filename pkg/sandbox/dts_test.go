package sandbox

import (
	"strings"
	"testing"

	"github.com/mama-os/mama/pkg/tools"
)

func TestGenerateDeclarations(t *testing.T) {
	specs := []tools.ToolSpec{
		{
			Name:        "shell",
			Description: "Run a shell command",
			Category:    "system",
			ReturnType:  "string",
			Params:      []tools.ParamSpec{{Name: "command", Type: "string", Required: true}},
		},
		{
			Name:        "read_file",
			Description: "Read a file",
			Category:    "fs",
			ReturnType:  "string",
			Params: []tools.ParamSpec{
				{Name: "path", Type: "string", Required: true},
				{Name: "limit", Type: "integer", Required: false},
			},
		},
	}

	out := GenerateDeclarations(specs)

	if !strings.Contains(out, "MAMA Code-Act environment") {
		t.Error("missing preamble")
	}
	if !strings.Contains(out, "declare function read_file(path: string, limit?: number): string;") {
		t.Errorf("missing read_file declaration:\n%s", out)
	}
	if !strings.Contains(out, "/** Run a shell command */") {
		t.Error("missing doc comment")
	}
	// Categories are emitted in sorted order for prompt stability.
	fs := strings.Index(out, "--- fs ---")
	system := strings.Index(out, "--- system ---")
	if fs == -1 || system == -1 || fs > system {
		t.Errorf("category ordering wrong (fs=%d system=%d)", fs, system)
	}
}

func TestGenerateDeclarationsDeterministic(t *testing.T) {
	specs := []tools.ToolSpec{
		{Name: "b", Category: "x", ReturnType: "string"},
		{Name: "a", Category: "x", ReturnType: "string"},
	}
	first := GenerateDeclarations(specs)
	for i := 0; i < 3; i++ {
		if GenerateDeclarations(specs) != first {
			t.Fatal("output not deterministic")
		}
	}
	if strings.Index(first, "function a(") > strings.Index(first, "function b(") {
		t.Error("tools not sorted within category")
	}
}

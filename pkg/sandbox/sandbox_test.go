package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func run(t *testing.T, code string) *Result {
	t.Helper()
	s := New(DefaultConfig(), nil)
	return s.Execute(context.Background(), code)
}

func TestExecuteReturnsLastExpression(t *testing.T) {
	result := run(t, `1 + 2`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	if result.Value != int64(3) {
		t.Errorf("Value = %v (%T), want 3", result.Value, result.Value)
	}
}

func TestConsoleCapture(t *testing.T) {
	result := run(t, `console.log("step", 1); console.log("done"); "ok"`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	if len(result.Console) != 2 || result.Console[0] != "step 1" || result.Console[1] != "done" {
		t.Errorf("Console = %v", result.Console)
	}
}

func TestScriptErrorSurfaces(t *testing.T) {
	result := run(t, `throw new Error("boom")`)
	if result.Err == nil || !strings.Contains(result.Err.Error(), "boom") {
		t.Errorf("Err = %v, want script error containing boom", result.Err)
	}
}

func TestTimeoutInterruptsBusyLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	s := New(cfg, nil)

	start := time.Now()
	result := s.Execute(context.Background(), `for (;;) {}`)
	elapsed := time.Since(start)

	if result.Err == nil || !strings.Contains(result.Err.Error(), "timed out") {
		t.Fatalf("Err = %v, want timeout", result.Err)
	}
	if elapsed > 5*time.Second {
		t.Errorf("interrupt took %s", elapsed)
	}
}

func TestCancellationInterrupts(t *testing.T) {
	s := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result := s.Execute(ctx, `for (;;) {}`)
	if result.Err == nil || !strings.Contains(result.Err.Error(), "cancelled") {
		t.Errorf("Err = %v, want cancellation", result.Err)
	}
}

func TestSandboxIsSingleUse(t *testing.T) {
	s := New(DefaultConfig(), nil)
	if result := s.Execute(context.Background(), `1`); result.Err != nil {
		t.Fatalf("first run: %v", result.Err)
	}
	if result := s.Execute(context.Background(), `2`); result.Err == nil {
		t.Error("second run on a disposed sandbox must fail")
	}
}

func TestMarshalObjectAndArray(t *testing.T) {
	result := run(t, `({name: "mama", tags: ["os", "agent"], n: 2})`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	obj, ok := result.Value.(map[string]any)
	if !ok {
		t.Fatalf("Value = %T, want map", result.Value)
	}
	if obj["name"] != "mama" {
		t.Errorf("name = %v", obj["name"])
	}
	tags, ok := obj["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "os" {
		t.Errorf("tags = %v", obj["tags"])
	}
}

func TestMarshalCircularReference(t *testing.T) {
	result := run(t, `const a = {}; a.self = a; a`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	obj := result.Value.(map[string]any)
	if obj["self"] != "[circular reference]" {
		t.Errorf("self = %v, want circular marker", obj["self"])
	}
}

func TestMarshalDepthLimit(t *testing.T) {
	result := run(t, `
		const root = {};
		let cur = root;
		for (let i = 0; i < 40; i++) { cur.n = {}; cur = cur.n; }
		root
	`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}

	value := result.Value
	for i := 0; i < maxMarshalDepth+2; i++ {
		if value == "[max depth exceeded]" {
			return
		}
		obj, ok := value.(map[string]any)
		if !ok {
			break
		}
		value = obj["n"]
	}
	t.Error("deep nesting never hit the depth marker")
}

func TestMarshalFunctionsAndPromises(t *testing.T) {
	result := run(t, `({fn: function () {}, p: Promise.resolve(42)})`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	obj := result.Value.(map[string]any)
	if obj["fn"] != "[function]" {
		t.Errorf("fn = %v", obj["fn"])
	}
	promise, ok := obj["p"].(map[string]any)
	if !ok || promise["type"] != "fulfilled" || promise["value"] != int64(42) {
		t.Errorf("p = %v", obj["p"])
	}
}

func TestAsyncResultUnwrapsToValue(t *testing.T) {
	result := run(t, `(async () => 42)()`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	if result.Value != int64(42) {
		t.Errorf("Value = %v (%T), want 42", result.Value, result.Value)
	}
}

func TestAsyncRejectionSurfacesError(t *testing.T) {
	result := run(t, `(async () => { throw new Error("boom"); })()`)
	if result.Err == nil || !strings.Contains(result.Err.Error(), "boom") {
		t.Fatalf("Err = %v, want script error containing boom", result.Err)
	}
	if result.Value != nil {
		t.Errorf("Value = %v, want nil on rejection", result.Value)
	}
}

func TestTopLevelRejectionWithPlainReason(t *testing.T) {
	result := run(t, `Promise.reject("nope")`)
	if result.Err == nil || !strings.Contains(result.Err.Error(), "nope") {
		t.Errorf("Err = %v, want rejection reason", result.Err)
	}
}

func TestNestedRejectedPromiseKeepsErrorMessage(t *testing.T) {
	result := run(t, `({p: Promise.reject(new Error("nope"))})`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	obj := result.Value.(map[string]any)
	promise, ok := obj["p"].(map[string]any)
	if !ok || promise["type"] != "rejected" || !strings.Contains(promise["reason"].(string), "nope") {
		t.Errorf("p = %v", obj["p"])
	}
}

func TestConsoleIsBounded(t *testing.T) {
	result := run(t, `for (let i = 0; i < 1000; i++) console.log("line", i); "ok"`)
	if result.Err != nil {
		t.Fatalf("Execute: %v", result.Err)
	}
	if len(result.Console) > maxConsoleLines {
		t.Errorf("console kept %d lines, cap is %d", len(result.Console), maxConsoleLines)
	}
}

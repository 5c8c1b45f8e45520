package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "backend.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSubprocessParsesResponse(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
printf '{"text":"hello from backend","stop_reason":"end_turn","usage":{"input_tokens":12,"output_tokens":7}}'`)
	s := NewSubprocess(SubprocessConfig{Command: []string{"sh", script}})

	resp, err := s.Run(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "hello from backend" || resp.StopReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.TotalTokens() != 19 {
		t.Errorf("TotalTokens = %d, want 19", resp.TotalTokens())
	}
}

func TestSubprocessAcceptsResultField(t *testing.T) {
	// The claude CLI names its text field "result".
	script := writeScript(t, `cat > /dev/null
printf '{"result":"cli style","session_id":"abc"}'`)
	s := NewSubprocess(SubprocessConfig{Command: []string{"sh", script}})

	resp, err := s.Run(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "cli style" {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.SessionID != "abc" {
		t.Errorf("SessionID = %q, want abc", resp.SessionID)
	}
}

func TestSubprocessParseError(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
printf 'this is not json'`)
	s := NewSubprocess(SubprocessConfig{Command: []string{"sh", script}})

	_, err := s.Run(context.Background(), Request{})
	if KindOf(err) != KindParse {
		t.Errorf("kind = %v, want parse_error (err: %v)", KindOf(err), err)
	}
}

func TestSubprocessExitNonZero(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo "backend blew up" >&2
exit 3`)
	s := NewSubprocess(SubprocessConfig{Command: []string{"sh", script}})

	_, err := s.Run(context.Background(), Request{})
	if KindOf(err) != KindExitNonZero {
		t.Fatalf("kind = %v, want exit_nonzero (err: %v)", KindOf(err), err)
	}
	if !strings.Contains(err.Error(), "backend blew up") {
		t.Errorf("stderr tail missing: %v", err)
	}
}

func TestSubprocessTimeout(t *testing.T) {
	script := writeScript(t, `sleep 10`)
	s := NewSubprocess(SubprocessConfig{
		Command: []string{"sh", script},
		Timeout: 200 * time.Millisecond,
	})

	start := time.Now()
	_, err := s.Run(context.Background(), Request{})
	if KindOf(err) != KindTimeout {
		t.Errorf("kind = %v, want timeout (err: %v)", KindOf(err), err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout did not cut the subprocess off")
	}
}

func TestSubprocessRateLimitFromStderr(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo "API rate limit reached" >&2
exit 1`)
	s := NewSubprocess(SubprocessConfig{Command: []string{"sh", script}})

	_, err := s.Run(context.Background(), Request{})
	if KindOf(err) != KindRateLimited {
		t.Errorf("kind = %v, want rate_limited (err: %v)", KindOf(err), err)
	}
}

func TestSubprocessMissingCommand(t *testing.T) {
	s := NewSubprocess(SubprocessConfig{Command: []string{"/nonexistent/binary-xyz"}})
	_, err := s.Run(context.Background(), Request{})
	if KindOf(err) != KindNetwork {
		t.Errorf("kind = %v, want network (err: %v)", KindOf(err), err)
	}
}

package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/mama-os/mama/pkg/logger"
)

const (
	defaultSubprocessTimeout = 5 * time.Minute
	stderrTailBytes          = 512
)

// SubprocessConfig points at an agent CLI that reads a request as JSON on
// stdin and writes a single JSON response on stdout.
type SubprocessConfig struct {
	// Command is the full argv, e.g. ["claude", "-p", "--output-format", "json"].
	Command []string
	Timeout time.Duration
	Dir     string
}

type Subprocess struct {
	cfg SubprocessConfig
}

func NewSubprocess(cfg SubprocessConfig) *Subprocess {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSubprocessTimeout
	}
	return &Subprocess{cfg: cfg}
}

func (s *Subprocess) Name() string { return "subprocess" }

// subprocessOutput is the child's stdout contract.
type subprocessOutput struct {
	Text       string `json:"text"`
	Result     string `json:"result"` // claude CLI field name
	IsError    bool   `json:"is_error"`
	StopReason string `json:"stop_reason"`
	SessionID  string `json:"session_id"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (s *Subprocess) Run(ctx context.Context, req Request) (*Response, error) {
	if len(s.cfg.Command) == 0 {
		return nil, newError(s.Name(), KindNetwork, nil, "no command configured")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, newError(s.Name(), KindParse, err, "encoding request")
	}

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Dir
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	logger.DebugCF("runner", "Subprocess finished", map[string]any{
		"command":     s.cfg.Command[0],
		"duration_ms": time.Since(start).Milliseconds(),
		"exit_ok":     runErr == nil,
	})

	if runErr != nil {
		return nil, s.classify(runCtx, runErr, stderr.Bytes())
	}

	var out subprocessOutput
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, newError(s.Name(), KindParse, err,
			"invalid JSON from backend: %s", truncateTail(stdout.Bytes()))
	}

	text := out.Text
	if text == "" {
		text = out.Result
	}
	if out.IsError {
		return nil, newError(s.Name(), KindExitNonZero, nil, "backend reported error: %s", text)
	}
	return &Response{
		Text:         text,
		SessionID:    out.SessionID,
		StopReason:   out.StopReason,
		InputTokens:  out.Usage.InputTokens,
		OutputTokens: out.Usage.OutputTokens,
	}, nil
}

func (s *Subprocess) classify(runCtx context.Context, runErr error, stderr []byte) error {
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return newError(s.Name(), KindTimeout, runErr, "after %s", s.cfg.Timeout)
	}
	tail := truncateTail(stderr)
	if strings.Contains(strings.ToLower(tail), "rate limit") {
		return newError(s.Name(), KindRateLimited, runErr, "%s", tail)
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return newError(s.Name(), KindExitNonZero, runErr, "exit %d: %s", exitErr.ExitCode(), tail)
	}
	return newError(s.Name(), KindNetwork, runErr, "starting backend: %v", runErr)
}

func truncateTail(b []byte) string {
	t := strings.TrimSpace(string(b))
	if len(t) > stderrTailBytes {
		t = "..." + t[len(t)-stderrTailBytes:]
	}
	return t
}

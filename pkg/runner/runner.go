// Package runner abstracts the LLM backends. A Runner takes one prepared
// conversation turn and returns the model's text plus usage; everything
// above it (prompt assembly, rate limiting, retries) lives in the
// orchestrator.
package runner

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one completion call. Temperature zero means backend default.
type Request struct {
	SessionID   string    `json:"session_id,omitempty"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Response carries the model's text plus usage. SessionID echoes the
// backend's conversation ID when it reports one, so callers can resume.
type Response struct {
	Text         string `json:"text"`
	SessionID    string `json:"session_id,omitempty"`
	Model        string `json:"model,omitempty"`
	StopReason   string `json:"stop_reason,omitempty"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
}

// TotalTokens is the spend counted against the session watermark.
func (r *Response) TotalTokens() int64 {
	return r.InputTokens + r.OutputTokens
}

type Runner interface {
	Name() string
	Run(ctx context.Context, req Request) (*Response, error)
}

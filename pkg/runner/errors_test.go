package runner

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorStringIsStable(t *testing.T) {
	err := newError("anthropic", KindRateLimited, nil, "status 429")
	if !strings.HasPrefix(err.Error(), "runner_error: ") {
		t.Errorf("missing stable prefix: %s", err.Error())
	}
	// The rate limiter detects this by the rate_limited substring.
	if !strings.Contains(err.Error(), "rate_limited") {
		t.Errorf("missing kind: %s", err.Error())
	}
}

func TestKindOfUnwraps(t *testing.T) {
	inner := newError("subprocess", KindTimeout, nil, "after 5m")
	wrapped := fmt.Errorf("turn failed: %w", inner)
	if KindOf(wrapped) != KindTimeout {
		t.Errorf("KindOf(wrapped) = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("foreign error must yield empty kind")
	}
}

package heartbeat

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mama-os/mama/pkg/bus"
)

func testService(t *testing.T, cfg Config) (*Service, *bus.MessageBus, *time.Time) {
	t.Helper()
	mb := bus.NewMessageBus()
	t.Cleanup(mb.Close)

	s := NewService(cfg, t.TempDir(), mb)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, mb, &now
}

func receive(t *testing.T, mb *bus.MessageBus) (bus.InboundMessage, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	return mb.ConsumeInbound(ctx)
}

func TestBeatPublishesSyntheticMessage(t *testing.T) {
	s, mb, _ := testService(t, Config{Enabled: true, Prompt: "check your tasks"})

	s.beat()
	msg, ok := receive(t, mb)
	if !ok {
		t.Fatal("no message published")
	}
	if msg.Source != "system" || msg.ChannelID != "heartbeat" {
		t.Errorf("defaults not applied: %+v", msg)
	}
	if msg.Content != "check your tasks" {
		t.Errorf("content = %q", msg.Content)
	}
	if msg.Metadata["heartbeat"] != "true" {
		t.Errorf("metadata = %v", msg.Metadata)
	}
}

func TestBeatSeedsHeartbeatFile(t *testing.T) {
	s, mb, _ := testService(t, Config{Enabled: true})

	s.beat()
	if _, ok := receive(t, mb); !ok {
		t.Fatal("no message from seeded template")
	}
	if _, err := os.Stat(filepath.Join(s.workspace, "HEARTBEAT.md")); err != nil {
		t.Errorf("HEARTBEAT.md not seeded: %v", err)
	}
}

func TestBeatReadsHeartbeatFile(t *testing.T) {
	s, mb, _ := testService(t, Config{Enabled: true})
	if err := os.WriteFile(filepath.Join(s.workspace, "HEARTBEAT.md"), []byte("deploy the fix\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s.beat()
	msg, ok := receive(t, mb)
	if !ok {
		t.Fatal("no message published")
	}
	if msg.Content != "deploy the fix" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestQuietHoursSuppress(t *testing.T) {
	s, mb, now := testService(t, Config{
		Enabled: true, Prompt: "x", QuietStart: "23:00", QuietEnd: "08:00",
	})

	// 02:30 falls inside the midnight-crossing window.
	*now = time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	s.beat()
	if _, ok := receive(t, mb); ok {
		t.Fatal("fired during quiet hours")
	}

	*now = time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	s.beat()
	if _, ok := receive(t, mb); ok {
		t.Fatal("fired at 23:30 inside quiet hours")
	}

	*now = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.beat()
	if _, ok := receive(t, mb); !ok {
		t.Error("quiet window end is exclusive, 08:00 should fire")
	}
}

func TestQuietHoursSameDayWindow(t *testing.T) {
	s, mb, now := testService(t, Config{
		Enabled: true, Prompt: "x", QuietStart: "12:00", QuietEnd: "14:00",
	})

	*now = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	s.beat()
	if _, ok := receive(t, mb); ok {
		t.Fatal("fired inside same-day quiet window")
	}

	*now = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s.beat()
	if _, ok := receive(t, mb); !ok {
		t.Error("did not fire outside quiet window")
	}
}

func TestDisabledStartIsNoop(t *testing.T) {
	s, _, _ := testService(t, Config{Enabled: false})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Stop on a never-started service must not block or panic.
	s.Stop()
}

func TestStartRejectsBadQuietClock(t *testing.T) {
	s, _, _ := testService(t, Config{Enabled: true, QuietStart: "25:99", QuietEnd: "08:00"})
	if err := s.Start(context.Background()); err == nil {
		t.Error("invalid quiet clock accepted")
		s.Stop()
	}
}

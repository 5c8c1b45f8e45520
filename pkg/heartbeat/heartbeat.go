// Package heartbeat wakes the default agent on a fixed interval so
// long-running background work keeps moving without a human prompt.
// The prompt comes from HEARTBEAT.md in the workspace; quiet hours
// suppress firings overnight.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/logger"
)

const defaultTemplate = `# Heartbeat

Review your open tasks and continue the most important one. If nothing
needs attention, reply HEARTBEAT_OK and stop.
`

type Config struct {
	Enabled         bool
	IntervalMinutes int
	QuietStart      string // "23:00"
	QuietEnd        string // "08:00"
	Prompt          string // overrides HEARTBEAT.md when set
	Source          string // defaults to "system"
	ChannelID       string // defaults to "heartbeat"
}

type Service struct {
	cfg       Config
	workspace string
	bus       *bus.MessageBus
	now       func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewService(cfg Config, workspace string, mb *bus.MessageBus) *Service {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 30
	}
	if cfg.Source == "" {
		cfg.Source = "system"
	}
	if cfg.ChannelID == "" {
		cfg.ChannelID = "heartbeat"
	}
	return &Service{cfg: cfg, workspace: workspace, bus: mb, now: time.Now}
}

func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		logger.InfoC("heartbeat", "Heartbeat disabled")
		return nil
	}
	if _, _, err := parseClock(s.cfg.QuietStart); s.cfg.QuietStart != "" && err != nil {
		return fmt.Errorf("quiet_hours.start: %w", err)
	}
	if _, _, err := parseClock(s.cfg.QuietEnd); s.cfg.QuietEnd != "" && err != nil {
		return fmt.Errorf("quiet_hours.end: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	interval := time.Duration(s.cfg.IntervalMinutes) * time.Minute
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.beat()
			}
		}
	}()
	logger.InfoCF("heartbeat", "Heartbeat started", map[string]any{
		"interval": interval.String(),
	})
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Service) beat() {
	now := s.now()
	if s.inQuietHours(now) {
		logger.DebugC("heartbeat", "Skipped during quiet hours")
		return
	}
	prompt := s.buildPrompt()
	if prompt == "" {
		return
	}
	s.bus.PublishInbound(bus.InboundMessage{
		Source:    s.cfg.Source,
		ChannelID: s.cfg.ChannelID,
		UserID:    "heartbeat",
		Content:   prompt,
		Timestamp: now,
		Metadata:  map[string]string{"heartbeat": "true"},
	})
	logger.InfoC("heartbeat", "Heartbeat fired")
}

// buildPrompt prefers the configured prompt, then HEARTBEAT.md in the
// workspace. A missing file is seeded with the default template so the
// operator has something to edit.
func (s *Service) buildPrompt() string {
	if s.cfg.Prompt != "" {
		return s.cfg.Prompt
	}
	path := filepath.Join(s.workspace, "HEARTBEAT.md")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := os.WriteFile(path, []byte(defaultTemplate), 0o644); writeErr != nil {
			logger.WarnCF("heartbeat", "Seeding HEARTBEAT.md failed", map[string]any{
				"error": writeErr.Error(),
			})
		}
		return defaultTemplate
	}
	if err != nil {
		logger.WarnCF("heartbeat", "Reading HEARTBEAT.md failed", map[string]any{
			"error": err.Error(),
		})
		return ""
	}
	return strings.TrimSpace(string(data))
}

// inQuietHours handles windows that cross midnight, like 23:00 to 08:00.
func (s *Service) inQuietHours(now time.Time) bool {
	if s.cfg.QuietStart == "" || s.cfg.QuietEnd == "" {
		return false
	}
	startH, startM, err := parseClock(s.cfg.QuietStart)
	if err != nil {
		return false
	}
	endH, endM, err := parseClock(s.cfg.QuietEnd)
	if err != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	start := startH*60 + startM
	end := endH*60 + endM
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseClock(s string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(s, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	return hour, minute, nil
}

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/fileutil"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/routing"
)

const (
	defaultUltraWorkMaxSteps = 20
	defaultUltraWorkDuration = 30 * time.Minute

	// Phase markers the lead agent must emit in its retrospective.
	retroComplete   = "RETRO_COMPLETE"
	retroIncomplete = "RETRO_INCOMPLETE"
)

type UltraWorkConfig struct {
	Enabled     bool
	MaxSteps    int
	MaxDuration time.Duration
}

var ultraWorkTriggers = []string{
	"ultrawork",
	"deep work",
	"autonomous",
	"울트라워크",
	"딥워크",
	"자율 작업",
}

func isUltraWorkTrigger(text string) bool {
	lower := strings.ToLower(text)
	for _, trigger := range ultraWorkTriggers {
		if strings.Contains(lower, trigger) {
			return true
		}
	}
	return false
}

const (
	phasePlanning      = "planning"
	phaseBuilding      = "building"
	phaseRetrospective = "retrospective"
	phaseComplete      = "complete"
	phaseIncomplete    = "incomplete"
)

type ultraWorkStep struct {
	Index       int       `json:"index"`
	Description string    `json:"description"`
	Result      string    `json:"result,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// ultraWorkProgress is persisted after every state change so a daemon
// restart resumes from the last completed step.
type ultraWorkProgress struct {
	SessionID string          `json:"session_id"`
	Task      string          `json:"task"`
	Phase     string          `json:"phase"`
	Steps     []ultraWorkStep `json:"steps"`
	Attempt   int             `json:"attempt"`
	StartedAt time.Time       `json:"started_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

var planStepRe = regexp.MustCompile(`(?m)^\s*(?:\d+[.)]|[-*])\s+(.+)$`)

// runUltraWork drives the planning, building and retrospective phases
// for one autonomous work session.
func (o *Orchestrator) runUltraWork(ctx context.Context, lead Agent, msg bus.InboundMessage) {
	channelKey := routing.ChannelKey(msg.Source, msg.ChannelID)
	sessionID, _ := o.deps.Pool.GetOrCreate(ctx, channelKey)

	dir := filepath.Join(o.cfg.Workspace, "ultrawork", sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.ErrorCF("orchestrator", "UltraWork directory creation failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	maxSteps := o.cfg.UltraWork.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultUltraWorkMaxSteps
	}
	maxDuration := o.cfg.UltraWork.MaxDuration
	if maxDuration <= 0 {
		maxDuration = defaultUltraWorkDuration
	}
	ctx, cancel := context.WithTimeout(ctx, maxDuration)
	defer cancel()

	progress := loadProgress(dir)
	if progress == nil {
		progress = &ultraWorkProgress{
			SessionID: sessionID,
			Task:      msg.Content,
			Phase:     phasePlanning,
			StartedAt: time.Now(),
		}
	} else {
		logger.InfoCF("orchestrator", "Resuming UltraWork session", map[string]any{
			"session": sessionID,
			"phase":   progress.Phase,
			"steps":   len(progress.Steps),
		})
	}

	opts := turnOptions{
		source:    msg.Source,
		role:      o.deps.Roles.RoleFor(msg.Source),
		ancestors: []string{lead.ID},
	}

	if progress.Phase == phasePlanning {
		if err := o.ultraWorkPlan(ctx, lead, channelKey, dir, progress, opts); err != nil {
			o.finishUltraWork(ctx, msg, lead, progress,
				fmt.Sprintf("UltraWork planning failed: %s", err))
			return
		}
	}

	for progress.Phase == phaseBuilding || progress.Phase == phaseRetrospective {
		if ctx.Err() != nil {
			progress.Phase = phaseIncomplete
			saveProgress(dir, progress)
			o.finishUltraWork(ctx, msg, lead, progress, "UltraWork stopped: time budget exhausted.")
			return
		}
		switch progress.Phase {
		case phaseBuilding:
			if err := o.ultraWorkBuild(ctx, lead, channelKey, dir, progress, maxSteps, opts); err != nil {
				progress.Phase = phaseIncomplete
				saveProgress(dir, progress)
				o.finishUltraWork(ctx, msg, lead, progress,
					fmt.Sprintf("UltraWork stopped during building: %s", err))
				return
			}
		case phaseRetrospective:
			o.ultraWorkRetro(ctx, lead, channelKey, dir, progress, maxSteps, opts)
		}
	}

	summary := fmt.Sprintf("UltraWork finished (%s): %d steps over %d attempt(s).",
		progress.Phase, completedSteps(progress), progress.Attempt+1)
	o.finishUltraWork(ctx, msg, lead, progress, summary)
}

func (o *Orchestrator) ultraWorkPlan(ctx context.Context, lead Agent, channelKey, dir string, progress *ultraWorkProgress, opts turnOptions) error {
	prompt := fmt.Sprintf(
		"Plan the following task as a numbered list of concrete steps. "+
			"Output only the plan.\n\nTask: %s", progress.Task)
	plan, err := o.converse(ctx, lead, channelKey, prompt, opts)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, "plan.md"), []byte(plan+"\n"), 0o644); err != nil {
		return err
	}

	steps := planStepRe.FindAllStringSubmatch(plan, -1)
	if len(steps) == 0 {
		return fmt.Errorf("plan contains no steps")
	}
	for i, m := range steps {
		progress.Steps = append(progress.Steps, ultraWorkStep{
			Index:       i + 1,
			Description: strings.TrimSpace(m[1]),
		})
	}
	progress.Phase = phaseBuilding
	saveProgress(dir, progress)
	logger.InfoCF("orchestrator", "UltraWork plan written", map[string]any{
		"session": progress.SessionID,
		"steps":   len(progress.Steps),
	})
	return nil
}

func (o *Orchestrator) ultraWorkBuild(ctx context.Context, lead Agent, channelKey, dir string, progress *ultraWorkProgress, maxSteps int, opts turnOptions) error {
	for i := range progress.Steps {
		step := &progress.Steps[i]
		if step.Result != "" {
			continue
		}
		if completedSteps(progress) >= maxSteps {
			return fmt.Errorf("step budget %d exhausted", maxSteps)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		prompt := fmt.Sprintf(
			"Execute step %d of the plan: %s\n\nDelegate when appropriate. "+
				"Report what was done.", step.Index, step.Description)
		result, err := o.converse(ctx, lead, channelKey, prompt, opts)
		if err != nil {
			return err
		}
		step.Result = result
		step.CompletedAt = time.Now()
		saveProgress(dir, progress)
	}
	progress.Phase = phaseRetrospective
	saveProgress(dir, progress)
	return nil
}

func (o *Orchestrator) ultraWorkRetro(ctx context.Context, lead Agent, channelKey, dir string, progress *ultraWorkProgress, maxSteps int, opts turnOptions) {
	var sb strings.Builder
	sb.WriteString("Review the completed work against the original task.\n")
	fmt.Fprintf(&sb, "Task: %s\n\nCompleted steps:\n", progress.Task)
	for _, step := range progress.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", step.Index, step.Description)
	}
	sb.WriteString("\nIf the task is fully done, end with " + retroComplete + ". ")
	sb.WriteString("If work remains, list the remaining steps as a numbered list and end with " + retroIncomplete + ".")

	review, err := o.converse(ctx, lead, channelKey, sb.String(), opts)
	if err != nil {
		logger.ErrorCF("orchestrator", "UltraWork retrospective failed", map[string]any{
			"error": err.Error(),
		})
		progress.Phase = phaseIncomplete
		saveProgress(dir, progress)
		return
	}

	switch {
	case strings.Contains(review, retroComplete):
		progress.Phase = phaseComplete
	case strings.Contains(review, retroIncomplete):
		progress.Attempt++
		added := 0
		for _, m := range planStepRe.FindAllStringSubmatch(review, -1) {
			if completedSteps(progress)+pendingSteps(progress) >= maxSteps {
				break
			}
			progress.Steps = append(progress.Steps, ultraWorkStep{
				Index:       len(progress.Steps) + 1,
				Description: strings.TrimSpace(m[1]),
			})
			added++
		}
		if added == 0 {
			// An incomplete verdict without follow-up steps would loop
			// forever; stop here.
			progress.Phase = phaseIncomplete
		} else {
			progress.Phase = phaseBuilding
		}
	default:
		progress.Phase = phaseComplete
	}
	saveProgress(dir, progress)
}

func (o *Orchestrator) finishUltraWork(ctx context.Context, msg bus.InboundMessage, lead Agent, progress *ultraWorkProgress, summary string) {
	logger.InfoCF("orchestrator", "UltraWork session ended", map[string]any{
		"session": progress.SessionID,
		"phase":   progress.Phase,
	})
	o.send(ctx, msg, lead.ID, summary)
}

func completedSteps(p *ultraWorkProgress) int {
	n := 0
	for _, s := range p.Steps {
		if s.Result != "" {
			n++
		}
	}
	return n
}

func pendingSteps(p *ultraWorkProgress) int {
	n := 0
	for _, s := range p.Steps {
		if s.Result == "" {
			n++
		}
	}
	return n
}

func loadProgress(dir string) *ultraWorkProgress {
	data, err := os.ReadFile(filepath.Join(dir, "progress.json"))
	if err != nil {
		return nil
	}
	var p ultraWorkProgress
	if err := json.Unmarshal(data, &p); err != nil {
		logger.WarnCF("orchestrator", "Corrupt UltraWork progress ignored", map[string]any{
			"error": err.Error(),
		})
		return nil
	}
	return &p
}

func saveProgress(dir string, p *ultraWorkProgress) {
	p.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(dir, "progress.json"), data, 0o644); err != nil {
		logger.ErrorCF("orchestrator", "Persisting UltraWork progress failed", map[string]any{
			"error": err.Error(),
		})
	}
}

package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mama-os/mama/pkg/enforce"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/store"
)

var delegationRe = regexp.MustCompile(`(?m)^DELEGATE(_BG)?::(\w+)::(.+)$`)

type delegation struct {
	ToID       string
	Task       string
	Background bool
}

func parseDelegations(text string) []delegation {
	var out []delegation
	for _, m := range delegationRe.FindAllStringSubmatch(text, -1) {
		out = append(out, delegation{
			Background: m[1] == "_BG",
			ToID:       m[2],
			Task:       strings.TrimSpace(m[3]),
		})
	}
	return out
}

func stripDelegationLines(text string) string {
	return strings.TrimSpace(delegationRe.ReplaceAllString(text, ""))
}

// processDelegations dispatches every delegation command in a response.
// Each returned note is fed back to the calling model: results for
// blocking delegations, acknowledgements for background ones, and
// diagnostics for guard violations.
func (o *Orchestrator) processDelegations(ctx context.Context, from Agent, channelKey, text string, opts turnOptions) []string {
	commands := parseDelegations(text)
	if len(commands) == 0 {
		return nil
	}

	var notes []string
	for _, cmd := range commands {
		target, ok := o.cfg.Agents[cmd.ToID]
		if !ok {
			notes = append(notes, fmt.Sprintf("Delegation to %q ignored: unknown agent.", cmd.ToID))
			continue
		}

		wave, err := o.chains.admit(channelKey, from, cmd.ToID, opts.depth, opts.ancestors)
		if err != nil {
			logger.WarnCF("orchestrator", "Delegation blocked", map[string]any{
				"from":  from.ID,
				"to":    cmd.ToID,
				"error": err.Error(),
			})
			notes = append(notes, fmt.Sprintf("Delegation to %q blocked: %s.", cmd.ToID, err))
			continue
		}

		o.recordEdge(ctx, store.DecisionEdge{
			ID:         uuid.NewString(),
			Wave:       wave,
			FromAgent:  from.ID,
			ToAgent:    cmd.ToID,
			ChannelKey: channelKey,
			Task:       cmd.Task,
			Background: cmd.Background,
			CreatedAt:  time.Now(),
		})

		if cmd.Background {
			o.bg.Add(1)
			go func(cmd delegation, target Agent) {
				defer o.bg.Done()
				dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DelegateTimeout)
				defer cancel()
				if _, err := o.runDelegate(dctx, from, target, channelKey, cmd.Task, opts); err != nil {
					logger.ErrorCF("orchestrator", "Background delegation failed", map[string]any{
						"to":    target.ID,
						"error": err.Error(),
					})
				}
			}(cmd, target)
			notes = append(notes, fmt.Sprintf("Delegation to %s started in the background.", cmd.ToID))
			continue
		}

		dctx, cancel := context.WithTimeout(ctx, o.cfg.DelegateTimeout)
		result, err := o.runDelegate(dctx, from, target, channelKey, cmd.Task, opts)
		cancel()
		if err != nil {
			notes = append(notes, fmt.Sprintf("Delegation to %s failed: %s.", cmd.ToID, err))
			continue
		}
		notes = append(notes, fmt.Sprintf("Result from %s:\n%s", cmd.ToID, result))
	}
	return notes
}

// runDelegate executes the target agent's turn on its own lane and runs
// the scope guard over the files it touched.
func (o *Orchestrator) runDelegate(ctx context.Context, from, target Agent, channelKey, task string, opts turnOptions) (string, error) {
	lane := o.lane(channelKey + "|" + target.ID)
	lane.Lock()
	defer lane.Unlock()

	before := o.deps.Diff(ctx)
	result, err := o.converse(ctx, target, channelKey, task, turnOptions{
		source:    opts.source,
		role:      opts.role,
		strict:    true,
		depth:     opts.depth + 1,
		ancestors: append(append([]string(nil), opts.ancestors...), target.ID),
	})
	if err != nil {
		return "", err
	}

	if o.deps.ScopeGuard != nil {
		modified := diffDelta(before, o.deps.Diff(ctx))
		check := o.deps.ScopeGuard.Check(enforce.ExtractExpectedFiles(task), modified)
		if !check.InScope {
			logger.WarnCF("orchestrator", "Delegate modified files out of scope", map[string]any{
				"to":         target.ID,
				"unexpected": check.UnexpectedFiles,
			})
			if o.deps.ScopeGuard.Mode() == enforce.ModeBlock {
				return "", fmt.Errorf("scope violation: unexpected files %v", check.UnexpectedFiles)
			}
		}
	}
	return result, nil
}

func (o *Orchestrator) recordEdge(ctx context.Context, edge store.DecisionEdge) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.AddDecisionEdge(ctx, edge); err != nil {
		logger.ErrorCF("orchestrator", "Recording decision edge failed", map[string]any{
			"error": err.Error(),
		})
	}
}

// diffDelta returns entries in after that were not already dirty before
// the delegate ran.
func diffDelta(before, after []string) []string {
	seen := make(map[string]bool, len(before))
	for _, f := range before {
		seen[f] = true
	}
	var delta []string
	for _, f := range after {
		if !seen[f] {
			delta = append(delta, f)
		}
	}
	return delta
}

// GitDiff reports dirty paths from git status. A non-repo workspace
// yields no paths, which disables scope checking in practice.
func GitDiff(workspace string) DiffFunc {
	return func(ctx context.Context) []string {
		cmd := exec.CommandContext(ctx, "git", "-C", workspace, "status", "--porcelain")
		out, err := cmd.Output()
		if err != nil {
			return nil
		}
		var files []string
		for _, line := range strings.Split(string(out), "\n") {
			if len(line) > 3 {
				files = append(files, strings.TrimSpace(line[3:]))
			}
		}
		return files
	}
}

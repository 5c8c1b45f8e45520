package orchestrator

import (
	"slices"
	"sync"
	"time"

	"github.com/mama-os/mama/pkg/errkind"
)

const (
	defaultMaxChainLength     = 10
	defaultGlobalCooldown     = 2 * time.Second
	defaultMaxDelegationDepth = 1
)

// chainState tracks the active delegation chain for one channel. A fresh
// user message resets it; delegations within the resulting turn share it.
type chainState struct {
	length        int
	wave          int
	cooldownUntil time.Time
}

type chainTracker struct {
	maxLength int
	cooldown  time.Duration
	maxDepth  int
	now       func() time.Time

	mu     sync.Mutex
	chains map[string]*chainState
}

func newChainTracker(maxLength int, cooldown time.Duration, maxDepth int) *chainTracker {
	if maxLength <= 0 {
		maxLength = defaultMaxChainLength
	}
	if cooldown <= 0 {
		cooldown = defaultGlobalCooldown
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDelegationDepth
	}
	return &chainTracker{
		maxLength: maxLength,
		cooldown:  cooldown,
		maxDepth:  maxDepth,
		now:       time.Now,
		chains:    make(map[string]*chainState),
	}
}

func (t *chainTracker) stateLocked(channelKey string) *chainState {
	st, ok := t.chains[channelKey]
	if !ok {
		st = &chainState{}
		t.chains[channelKey] = st
	}
	return st
}

// reset clears the chain when a new external message opens a turn.
func (t *chainTracker) reset(channelKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chains, channelKey)
}

// admit checks every delegation guard and, on success, claims a wave
// number and arms the cooldown. Callers pass the ancestor agent IDs of
// the active chain so cycles are caught before dispatch.
func (t *chainTracker) admit(channelKey string, from Agent, toID string, depth int, ancestors []string) (wave int, err error) {
	if !from.CanDelegate || from.Tier != 1 {
		return 0, errkind.New(errkind.PermissionDenied,
			"agent %s (tier %d) may not delegate", from.ID, from.Tier)
	}
	if depth+1 > t.maxDepth {
		return 0, errkind.New(errkind.DelegationBlockedDepth,
			"delegation depth %d exceeds limit %d", depth+1, t.maxDepth)
	}
	if slices.Contains(ancestors, toID) {
		return 0, errkind.New(errkind.DelegationBlockedCycle,
			"agent %s is already in chain %v", toID, ancestors)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.stateLocked(channelKey)

	if st.length >= t.maxLength {
		return 0, errkind.New(errkind.DelegationBlockedChainLimit,
			"chain length %d reached limit %d", st.length, t.maxLength)
	}
	if now := t.now(); now.Before(st.cooldownUntil) {
		return 0, errkind.New(errkind.DelegationBlockedCooldown,
			"cooldown active for %s", st.cooldownUntil.Sub(now).Round(time.Millisecond))
	}

	st.length++
	st.wave++
	st.cooldownUntil = t.now().Add(t.cooldown)
	return st.wave, nil
}

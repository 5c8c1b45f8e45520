package orchestrator

import (
	"testing"
	"time"

	"github.com/mama-os/mama/pkg/errkind"
)

func testTracker() (*chainTracker, *time.Time) {
	tr := newChainTracker(3, 2*time.Second, 1)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

var lead = Agent{ID: "mama", Tier: 1, CanDelegate: true}

func TestAdmitRejectsNonTierOne(t *testing.T) {
	tr, _ := testTracker()

	worker := Agent{ID: "helper", Tier: 2, CanDelegate: true}
	if _, err := tr.admit("k", worker, "other", 0, nil); errkind.KindOf(err) != errkind.PermissionDenied {
		t.Errorf("err = %v", err)
	}

	noDelegate := Agent{ID: "solo", Tier: 1, CanDelegate: false}
	if _, err := tr.admit("k", noDelegate, "other", 0, nil); errkind.KindOf(err) != errkind.PermissionDenied {
		t.Errorf("err = %v", err)
	}
}

func TestAdmitDepthLimit(t *testing.T) {
	tr, _ := testTracker()
	if _, err := tr.admit("k", lead, "helper", 1, nil); errkind.KindOf(err) != errkind.DelegationBlockedDepth {
		t.Errorf("err = %v", err)
	}
}

func TestAdmitCycleDetection(t *testing.T) {
	tr, _ := testTracker()
	_, err := tr.admit("k", lead, "mama", 0, []string{"mama"})
	if errkind.KindOf(err) != errkind.DelegationBlockedCycle {
		t.Errorf("err = %v", err)
	}
}

func TestAdmitCooldownAndWaves(t *testing.T) {
	tr, now := testTracker()

	wave, err := tr.admit("k", lead, "helper", 0, []string{"mama"})
	if err != nil || wave != 1 {
		t.Fatalf("wave = %d, err = %v", wave, err)
	}

	// Immediately after, the cooldown blocks.
	if _, err := tr.admit("k", lead, "helper", 0, []string{"mama"}); errkind.KindOf(err) != errkind.DelegationBlockedCooldown {
		t.Errorf("err = %v", err)
	}

	*now = now.Add(3 * time.Second)
	wave, err = tr.admit("k", lead, "helper", 0, []string{"mama"})
	if err != nil || wave != 2 {
		t.Errorf("wave = %d, err = %v", wave, err)
	}

	// Other channels have independent state.
	if _, err := tr.admit("k2", lead, "helper", 0, []string{"mama"}); err != nil {
		t.Errorf("foreign channel blocked: %v", err)
	}
}

func TestAdmitChainLengthLimit(t *testing.T) {
	tr, now := testTracker()

	for i := 0; i < 3; i++ {
		if _, err := tr.admit("k", lead, "helper", 0, []string{"mama"}); err != nil {
			t.Fatalf("delegation %d: %v", i, err)
		}
		*now = now.Add(3 * time.Second)
	}
	if _, err := tr.admit("k", lead, "helper", 0, []string{"mama"}); errkind.KindOf(err) != errkind.DelegationBlockedChainLimit {
		t.Errorf("err = %v", err)
	}

	// A fresh external message resets the chain.
	tr.reset("k")
	if _, err := tr.admit("k", lead, "helper", 0, []string{"mama"}); err != nil {
		t.Errorf("after reset: %v", err)
	}
}

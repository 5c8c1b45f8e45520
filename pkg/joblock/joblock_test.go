package joblock

import (
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	r := NewRegistry("")

	if err := r.Acquire("daily-report", time.Minute); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := r.Acquire("daily-report", time.Minute); err != ErrBusy {
		t.Fatalf("second Acquire = %v, want ErrBusy", err)
	}
	if err := r.Release("daily-report"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := r.Acquire("daily-report", time.Minute); err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry("")
	if err := r.Release("never-held"); err != nil {
		t.Fatalf("Release of unheld lock = %v, want nil", err)
	}
	if err := r.Release("never-held"); err != nil {
		t.Fatalf("repeat Release = %v, want nil", err)
	}
}

func TestTTLExpiry(t *testing.T) {
	r := NewRegistry("")
	now := time.Now()
	r.now = func() time.Time { return now }

	if err := r.Acquire("job", 30*time.Second); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := r.Acquire("job", 30*time.Second); err != ErrBusy {
		t.Fatalf("held lock = %v, want ErrBusy", err)
	}

	now = now.Add(31 * time.Second)
	if err := r.Acquire("job", 30*time.Second); err != nil {
		t.Fatalf("Acquire after expiry = %v, want nil", err)
	}
}

func TestCrashedHolderReleasesAtTTL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.json")

	first := NewRegistry(path)
	if err := first.Acquire("cron:nightly", 50*time.Millisecond); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// A fresh registry simulates a restart; the persisted lock still binds.
	second := NewRegistry(path)
	if err := second.Acquire("cron:nightly", time.Minute); err != ErrBusy {
		t.Fatalf("Acquire across restart = %v, want ErrBusy", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := second.Acquire("cron:nightly", time.Minute); err != nil {
		t.Fatalf("Acquire after TTL = %v, want nil", err)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.json")
	r := NewRegistry(path)
	now := time.Now()
	r.now = func() time.Time { return now }

	r.Acquire("a", time.Second)
	r.Acquire("b", time.Hour)

	now = now.Add(2 * time.Second)
	if err := r.Sweep(); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if r.Held("a") {
		t.Error("lock a should have been swept")
	}
	if !r.Held("b") {
		t.Error("lock b should survive the sweep")
	}
}

// Package joblock provides process-wide named locks with a TTL, used to
// singletonize cron firings. Locks are persisted to a JSON file with their
// acquisition timestamp so a holder that crashed releases at TTL even
// across a daemon restart.
package joblock

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrBusy is returned when the lock is held by another owner.
var ErrBusy = fmt.Errorf("lock busy")

type lockRecord struct {
	Name       string    `json:"name"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Owner      string    `json:"owner,omitempty"`
}

type lockFile struct {
	Version int                    `json:"version"`
	Locks   map[string]*lockRecord `json:"locks"`
}

type Registry struct {
	mu   sync.Mutex
	path string
	mem  *lockFile // in-process fallback when path is empty
	now  func() time.Time
}

// NewRegistry creates a lock registry persisted at path. An empty path
// keeps locks in-process only (used by tests and ephemeral runs).
func NewRegistry(path string) *Registry {
	if path != "" {
		os.MkdirAll(filepath.Dir(path), 0o755)
	}
	return &Registry{path: path, now: time.Now}
}

// Acquire takes the named lock for ttl. Returns ErrBusy when another
// holder's lock has not yet expired.
func (r *Registry) Acquire(name string, ttl time.Duration) error {
	if name == "" {
		return fmt.Errorf("lock name must not be empty")
	}
	if ttl <= 0 {
		return fmt.Errorf("lock ttl must be positive")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadLocked()
	if err != nil {
		return err
	}

	now := r.now()
	if existing, ok := state.Locks[name]; ok && now.Before(existing.ExpiresAt) {
		return ErrBusy
	}

	state.Locks[name] = &lockRecord{
		Name:       name,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
	return r.saveLocked(state)
}

// Release frees the named lock. Releasing an unheld lock is a no-op.
func (r *Registry) Release(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadLocked()
	if err != nil {
		return err
	}
	if _, ok := state.Locks[name]; !ok {
		return nil
	}
	delete(state.Locks, name)
	return r.saveLocked(state)
}

// Held reports whether the named lock is currently held (unexpired).
func (r *Registry) Held(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadLocked()
	if err != nil {
		return false
	}
	rec, ok := state.Locks[name]
	return ok && r.now().Before(rec.ExpiresAt)
}

// Sweep drops expired records from the persisted file.
func (r *Registry) Sweep() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, err := r.loadLocked()
	if err != nil {
		return err
	}

	now := r.now()
	changed := false
	for name, rec := range state.Locks {
		if !now.Before(rec.ExpiresAt) {
			delete(state.Locks, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.saveLocked(state)
}

func (r *Registry) loadLocked() (*lockFile, error) {
	state := &lockFile{Version: 1, Locks: make(map[string]*lockRecord)}
	if r.path == "" {
		if r.mem == nil {
			r.mem = state
		}
		return r.mem, nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, fmt.Errorf("reading lock file: %w", err)
	}
	if err := json.Unmarshal(data, state); err != nil {
		// A corrupt lock file must not wedge cron forever; start fresh.
		return &lockFile{Version: 1, Locks: make(map[string]*lockRecord)}, nil
	}
	if state.Locks == nil {
		state.Locks = make(map[string]*lockRecord)
	}
	return state, nil
}

func (r *Registry) saveLocked(state *lockFile) error {
	if r.path == "" {
		r.mem = state
		return nil
	}

	state.Version = 1
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(r.path), "locks-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

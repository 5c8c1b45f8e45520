// Package cron fires persisted schedule entries as synthetic inbound
// messages. Each firing is guarded by a named job lock so overlapping
// schedulers (or a restarted daemon racing its predecessor) fire a job
// at most once.
package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/mama-os/mama/pkg/bus"
	"github.com/mama-os/mama/pkg/joblock"
	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/store"
)

const (
	defaultCheckInterval = 30 * time.Second

	// lockTTL bounds how long a firing excludes others. Long enough to
	// cover a slow agent turn, short enough that a crashed holder frees
	// the job well before its next daily slot.
	lockTTL = 5 * time.Minute
)

type Scheduler struct {
	store *store.Store
	locks *joblock.Registry
	bus   *bus.MessageBus
	gron  *gronx.Gronx

	checkInterval time.Duration
	now           func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	running bool
	wg      sync.WaitGroup
}

func NewScheduler(st *store.Store, locks *joblock.Registry, mb *bus.MessageBus) *Scheduler {
	return &Scheduler{
		store:         st,
		locks:         locks,
		bus:           mb,
		gron:          gronx.New(),
		checkInterval: defaultCheckInterval,
		now:           time.Now,
	}
}

// Add validates and persists a job. Exactly one of Expr or Every must be
// set. A missing ID is generated.
func (s *Scheduler) Add(ctx context.Context, job store.CronJob) (store.CronJob, error) {
	if job.Expr != "" && job.Every > 0 {
		return job, fmt.Errorf("job %q sets both expr and every", job.Name)
	}
	if job.Expr == "" && job.Every <= 0 {
		return job, fmt.Errorf("job %q has no schedule", job.Name)
	}
	if job.Expr != "" && !s.gron.IsValid(job.Expr) {
		return job, fmt.Errorf("invalid cron expression %q", job.Expr)
	}
	if job.Message == "" {
		return job, fmt.Errorf("job %q has no message", job.Name)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	if err := s.store.UpsertCronJob(ctx, job); err != nil {
		return job, err
	}
	logger.InfoCF("cron", "Job added", map[string]any{
		"id":   job.ID,
		"name": job.Name,
	})
	return job, nil
}

func (s *Scheduler) Remove(ctx context.Context, id string) error {
	return s.store.DeleteCronJob(ctx, id)
}

func (s *Scheduler) List(ctx context.Context) ([]store.CronJob, error) {
	return s.store.ListCronJobs(ctx)
}

// SetEnabled flips a job without touching its schedule.
func (s *Scheduler) SetEnabled(ctx context.Context, id string, enabled bool) error {
	job, err := s.store.GetCronJob(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("cron job %q not found", id)
	}
	job.Enabled = enabled
	return s.store.UpsertCronJob(ctx, *job)
}

// Start launches the check loop. Stop or context cancellation ends it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				s.checkDue(ctx)
			}
		}
	}()
	logger.InfoCF("cron", "Scheduler started", map[string]any{
		"check_interval": s.checkInterval.String(),
	})
}

func (s *Scheduler) Stop() {
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

func (s *Scheduler) checkDue(ctx context.Context) {
	jobs, err := s.store.ListCronJobs(ctx)
	if err != nil {
		logger.ErrorCF("cron", "Listing jobs failed", map[string]any{"error": err.Error()})
		return
	}
	now := s.now()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		due, err := s.isDue(job, now)
		if err != nil {
			logger.WarnCF("cron", "Schedule evaluation failed", map[string]any{
				"id":    job.ID,
				"error": err.Error(),
			})
			continue
		}
		if due {
			s.fire(ctx, job, now)
		}
	}
}

// isDue reports whether the job's next slot after its last run has
// arrived. Jobs that never ran anchor on CreatedAt.
func (s *Scheduler) isDue(job store.CronJob, now time.Time) (bool, error) {
	ref := job.LastRun
	if ref.IsZero() || ref.Unix() <= 0 {
		ref = job.CreatedAt
	}
	if job.Every > 0 {
		return !now.Before(ref.Add(job.Every)), nil
	}
	next, err := gronx.NextTickAfter(job.Expr, ref, false)
	if err != nil {
		return false, err
	}
	return !now.Before(next), nil
}

// fire synthesizes an inbound message for the job under its lock. A held
// lock means another firing is in flight; skip silently.
func (s *Scheduler) fire(ctx context.Context, job store.CronJob, now time.Time) {
	lockName := "cron:" + job.ID
	if err := s.locks.Acquire(lockName, lockTTL); err != nil {
		if errors.Is(err, joblock.ErrBusy) {
			logger.DebugCF("cron", "Job already firing", map[string]any{"id": job.ID})
			return
		}
		logger.ErrorCF("cron", "Lock acquisition failed", map[string]any{
			"id":    job.ID,
			"error": err.Error(),
		})
		return
	}
	defer s.locks.Release(lockName)

	meta := map[string]string{"job_name": job.Name}
	if job.ReplySource != "" {
		meta["reply_source"] = job.ReplySource
		meta["reply_channel"] = job.ReplyChannel
	}
	s.bus.PublishInbound(bus.InboundMessage{
		Source:    "cron",
		ChannelID: job.ID,
		UserID:    "cron",
		Content:   job.Message,
		Timestamp: now,
		Metadata:  meta,
	})

	if err := s.store.MarkCronRun(ctx, job.ID, now); err != nil {
		logger.ErrorCF("cron", "Recording run failed", map[string]any{
			"id":    job.ID,
			"error": err.Error(),
		})
		return
	}
	logger.InfoCF("cron", "Job fired", map[string]any{
		"id":   job.ID,
		"name": job.Name,
	})
}

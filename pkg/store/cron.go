package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// CronJob is a persisted schedule entry. Either Expr (cron syntax) or
// Every (fixed interval) is set, never both.
type CronJob struct {
	ID           string
	Name         string
	Expr         string
	Every        time.Duration
	Message      string
	ReplySource  string
	ReplyChannel string
	Enabled      bool
	LastRun      time.Time
	CreatedAt    time.Time
}

func (s *Store) UpsertCronJob(ctx context.Context, job CronJob) error {
	enabled := 0
	if job.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, name, expr, every_seconds, message, reply_source, reply_channel, enabled, last_run, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			expr = excluded.expr,
			every_seconds = excluded.every_seconds,
			message = excluded.message,
			reply_source = excluded.reply_source,
			reply_channel = excluded.reply_channel,
			enabled = excluded.enabled`,
		job.ID, job.Name, job.Expr, int64(job.Every.Seconds()), job.Message,
		job.ReplySource, job.ReplyChannel, enabled, job.LastRun.Unix(), job.CreatedAt.Unix(),
	)
	return err
}

func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	return err
}

func (s *Store) GetCronJob(ctx context.Context, id string) (*CronJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, expr, every_seconds, message, reply_source, reply_channel, enabled, last_run, created_at
		 FROM cron_jobs WHERE id = ?`, id)
	job, err := scanCronJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Store) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, expr, every_seconds, message, reply_source, reply_channel, enabled, last_run, created_at
		 FROM cron_jobs ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []CronJob
	for rows.Next() {
		job, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// MarkCronRun records a completed firing.
func (s *Store) MarkCronRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET last_run = ? WHERE id = ?`, at.Unix(), id)
	return err
}

func scanCronJob(scan func(dest ...any) error) (*CronJob, error) {
	var job CronJob
	var everySeconds, enabled, lastRun, created int64
	if err := scan(&job.ID, &job.Name, &job.Expr, &everySeconds, &job.Message,
		&job.ReplySource, &job.ReplyChannel, &enabled, &lastRun, &created); err != nil {
		return nil, err
	}
	job.Every = time.Duration(everySeconds) * time.Second
	job.Enabled = enabled != 0
	job.LastRun = time.Unix(lastRun, 0)
	job.CreatedAt = time.Unix(created, 0)
	return &job, nil
}

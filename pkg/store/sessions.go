package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SessionRecord mirrors one pool entry on disk so a restart can resume
// conversations instead of spawning fresh clients.
type SessionRecord struct {
	ChannelKey   string
	SessionID    string
	ClientID     string
	TokensUsed   int64
	MessageCount int64
	CreatedAt    time.Time
	LastActive   time.Time
}

func (s *Store) UpsertSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (channel_key, session_id, client_id, tokens_used, message_count, created_at, last_active)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (channel_key) DO UPDATE SET
			session_id = excluded.session_id,
			client_id = excluded.client_id,
			tokens_used = excluded.tokens_used,
			message_count = excluded.message_count,
			last_active = excluded.last_active`,
		rec.ChannelKey, rec.SessionID, rec.ClientID, rec.TokensUsed, rec.MessageCount,
		rec.CreatedAt.Unix(), rec.LastActive.Unix(),
	)
	return err
}

// GetSession returns the stored record for a channel key, or (nil, nil)
// when none exists.
func (s *Store) GetSession(ctx context.Context, channelKey string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT channel_key, session_id, client_id, tokens_used, message_count, created_at, last_active
		 FROM sessions WHERE channel_key = ?`, channelKey)

	var rec SessionRecord
	var created, active int64
	err := row.Scan(&rec.ChannelKey, &rec.SessionID, &rec.ClientID, &rec.TokensUsed, &rec.MessageCount, &created, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(created, 0)
	rec.LastActive = time.Unix(active, 0)
	return &rec, nil
}

func (s *Store) DeleteSession(ctx context.Context, channelKey string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE channel_key = ?`, channelKey)
	return err
}

// ListSessions returns all records ordered by last activity, oldest
// first, which is the pool's eviction order.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT channel_key, session_id, client_id, tokens_used, message_count, created_at, last_active
		 FROM sessions ORDER BY last_active ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var created, active int64
		if err := rows.Scan(&rec.ChannelKey, &rec.SessionID, &rec.ClientID, &rec.TokensUsed, &rec.MessageCount, &created, &active); err != nil {
			return nil, err
		}
		rec.CreatedAt = time.Unix(created, 0)
		rec.LastActive = time.Unix(active, 0)
		records = append(records, rec)
	}
	return records, rows.Err()
}

package store

import (
	"context"
	"time"
)

// DecisionEdge is one audit record of a delegation: who handed work to
// whom, in which wave, for which channel.
type DecisionEdge struct {
	ID         string
	Wave       int
	FromAgent  string
	ToAgent    string
	ChannelKey string
	Task       string
	Background bool
	CreatedAt  time.Time
}

func (s *Store) AddDecisionEdge(ctx context.Context, edge DecisionEdge) error {
	background := 0
	if edge.Background {
		background = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decision_edges (id, wave, from_agent, to_agent, channel_key, task, background, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.Wave, edge.FromAgent, edge.ToAgent, edge.ChannelKey,
		edge.Task, background, edge.CreatedAt.Unix(),
	)
	return err
}

// EdgesForChannel returns the most recent delegation edges for a channel,
// newest first.
func (s *Store) EdgesForChannel(ctx context.Context, channelKey string, limit int) ([]DecisionEdge, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, wave, from_agent, to_agent, channel_key, task, background, created_at
		 FROM decision_edges WHERE channel_key = ?
		 ORDER BY created_at DESC LIMIT ?`, channelKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []DecisionEdge
	for rows.Next() {
		var edge DecisionEdge
		var background int
		var created int64
		if err := rows.Scan(&edge.ID, &edge.Wave, &edge.FromAgent, &edge.ToAgent,
			&edge.ChannelKey, &edge.Task, &background, &created); err != nil {
			return nil, err
		}
		edge.Background = background != 0
		edge.CreatedAt = time.Unix(created, 0)
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

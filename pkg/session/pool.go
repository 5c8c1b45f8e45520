// Package session owns the channel-to-session mapping: one live session
// per channel key, rotated at the token watermark, expired by TTL and
// capped in count. The pool optionally persists through the store so a
// restart resumes existing sessions.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mama-os/mama/pkg/logger"
	"github.com/mama-os/mama/pkg/store"
)

const (
	// Rotation watermark. Sessions past this many tokens get a fresh
	// session on the next GetOrCreate.
	defaultTokenWatermark = 160_000

	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = 5 * time.Minute
	defaultMaxSessions   = 100
)

type Config struct {
	TokenWatermark int64
	TTL            time.Duration
	SweepInterval  time.Duration
	MaxSessions    int
}

func DefaultConfig() Config {
	return Config{
		TokenWatermark: defaultTokenWatermark,
		TTL:            defaultTTL,
		SweepInterval:  defaultSweepInterval,
		MaxSessions:    defaultMaxSessions,
	}
}

// Session is one live entry. ClientID identifies the runner client bound
// to it, if any.
type Session struct {
	ChannelKey   string
	SessionID    string
	ClientID     string
	TokensUsed   int64
	MessageCount int64
	CreatedAt    time.Time
	LastActive   time.Time
}

// Persister is the slice of the store the pool needs.
type Persister interface {
	UpsertSession(ctx context.Context, rec store.SessionRecord) error
	DeleteSession(ctx context.Context, channelKey string) error
	ListSessions(ctx context.Context) ([]store.SessionRecord, error)
}

// Pool maps channel keys to sessions. All methods are safe for
// concurrent use; Lane serializes work per channel on top of that.
type Pool struct {
	cfg   Config
	mu    sync.Mutex
	byKey map[string]*Session
	lanes map[string]*sync.Mutex
	db    Persister
	now   func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewPool(cfg Config, db Persister) *Pool {
	if cfg.TokenWatermark <= 0 {
		cfg.TokenWatermark = defaultTokenWatermark
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	return &Pool{
		cfg:    cfg,
		byKey:  make(map[string]*Session),
		lanes:  make(map[string]*sync.Mutex),
		db:     db,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// Restore loads persisted sessions. Called once on startup before any
// traffic; expired records are dropped rather than resumed.
func (p *Pool) Restore(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	records, err := p.db.ListSessions(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	restored := 0
	for _, rec := range records {
		if now.Sub(rec.LastActive) > p.cfg.TTL {
			_ = p.db.DeleteSession(ctx, rec.ChannelKey)
			continue
		}
		p.byKey[rec.ChannelKey] = &Session{
			ChannelKey:   rec.ChannelKey,
			SessionID:    rec.SessionID,
			ClientID:     rec.ClientID,
			TokensUsed:   rec.TokensUsed,
			MessageCount: rec.MessageCount,
			CreatedAt:    rec.CreatedAt,
			LastActive:   rec.LastActive,
		}
		restored++
	}
	if restored > 0 {
		logger.InfoCF("session", "Sessions restored", map[string]any{"count": restored})
	}
	return nil
}

// GetOrCreate returns the session for a channel key, creating or
// rotating as needed. isNew is true when the returned session ID was
// minted by this call, telling the caller to start a fresh conversation.
func (p *Pool) GetOrCreate(ctx context.Context, channelKey string) (sessionID string, isNew bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	existing, ok := p.byKey[channelKey]
	if ok {
		expired := now.Sub(existing.LastActive) > p.cfg.TTL
		saturated := existing.TokensUsed >= p.cfg.TokenWatermark
		if !expired && !saturated {
			existing.MessageCount++
			existing.LastActive = now
			p.persistLocked(ctx, existing)
			return existing.SessionID, false
		}
		reason := "expired"
		if saturated {
			reason = "token watermark"
		}
		logger.InfoCF("session", "Rotating session", map[string]any{
			"channel": channelKey,
			"reason":  reason,
			"tokens":  existing.TokensUsed,
		})
	}

	p.evictForCapLocked(ctx, channelKey)

	created := &Session{
		ChannelKey:   channelKey,
		SessionID:    uuid.NewString(),
		MessageCount: 1,
		CreatedAt:    now,
		LastActive:   now,
	}
	p.byKey[channelKey] = created
	p.persistLocked(ctx, created)
	return created.SessionID, true
}

// Get returns a snapshot of the session for a channel key.
func (p *Pool) Get(channelKey string) (Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.byKey[channelKey]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Touch refreshes the activity timestamp.
func (p *Pool) Touch(ctx context.Context, channelKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byKey[channelKey]; ok {
		s.LastActive = p.now()
		p.persistLocked(ctx, s)
	}
}

// AddUsage accumulates token spend against the watermark.
func (p *Pool) AddUsage(ctx context.Context, channelKey string, tokens int64) {
	if tokens <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byKey[channelKey]; ok {
		s.TokensUsed += tokens
		s.LastActive = p.now()
		p.persistLocked(ctx, s)
	}
}

// AssignClient binds a runner client to the session.
func (p *Pool) AssignClient(ctx context.Context, channelKey, clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byKey[channelKey]; ok {
		s.ClientID = clientID
		p.persistLocked(ctx, s)
	}
}

// UnassignClient releases the runner client binding, leaving the
// session itself alive.
func (p *Pool) UnassignClient(ctx context.Context, channelKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.byKey[channelKey]; ok && s.ClientID != "" {
		s.ClientID = ""
		p.persistLocked(ctx, s)
	}
}

// Lane returns the per-channel mutex. Callers hold it for the duration
// of one message turn so turns on the same channel never interleave.
func (p *Pool) Lane(channelKey string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lane, ok := p.lanes[channelKey]
	if !ok {
		lane = &sync.Mutex{}
		p.lanes[channelKey] = lane
	}
	return lane
}

// Len reports the live session count.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byKey)
}

// StartSweeper runs the eviction sweep until ctx is done or Stop is
// called.
func (p *Pool) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.Sweep(ctx)
			}
		}
	}()
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Sweep drops sessions idle past the TTL.
func (p *Pool) Sweep(ctx context.Context) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	evicted := 0
	for key, s := range p.byKey {
		if now.Sub(s.LastActive) > p.cfg.TTL {
			delete(p.byKey, key)
			if p.db != nil {
				_ = p.db.DeleteSession(ctx, key)
			}
			evicted++
		}
	}
	if evicted > 0 {
		logger.InfoCF("session", "Sweep evicted idle sessions", map[string]any{
			"evicted":   evicted,
			"remaining": len(p.byKey),
		})
	}
	return evicted
}

// evictForCapLocked makes room for one more session by removing the
// least recently active entries, never the key being created.
func (p *Pool) evictForCapLocked(ctx context.Context, incoming string) {
	for len(p.byKey) >= p.cfg.MaxSessions {
		oldestKey := ""
		var oldest time.Time
		for key, s := range p.byKey {
			if key == incoming {
				continue
			}
			if oldestKey == "" || s.LastActive.Before(oldest) {
				oldestKey = key
				oldest = s.LastActive
			}
		}
		if oldestKey == "" {
			return
		}
		delete(p.byKey, oldestKey)
		if p.db != nil {
			_ = p.db.DeleteSession(ctx, oldestKey)
		}
		logger.WarnCF("session", "Pool at capacity, evicted oldest", map[string]any{
			"evicted": oldestKey,
			"cap":     p.cfg.MaxSessions,
		})
	}
}

func (p *Pool) persistLocked(ctx context.Context, s *Session) {
	if p.db == nil {
		return
	}
	err := p.db.UpsertSession(ctx, store.SessionRecord{
		ChannelKey:   s.ChannelKey,
		SessionID:    s.SessionID,
		ClientID:     s.ClientID,
		TokensUsed:   s.TokensUsed,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt,
		LastActive:   s.LastActive,
	})
	if err != nil {
		logger.ErrorCF("session", "Failed to persist session", map[string]any{
			"channel": s.ChannelKey,
			"error":   err.Error(),
		})
	}
}

// Package ratelimit throttles outbound platform API calls. Calls pass
// through a bounded FIFO queue drained by a single dispatcher that enforces
// a per-minute token budget and a minimum inter-request interval. Calls
// rejected by the platform with a rate-limit signal are retried at the head
// of the queue with exponential backoff.
package ratelimit

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mama-os/mama/pkg/errkind"
	"github.com/mama-os/mama/pkg/logger"
)

// Call is the unit of work submitted to the limiter. The context carries
// the caller's cancellation and the per-entry timeout.
type Call func(ctx context.Context) (any, error)

type Config struct {
	MaxRequestsPerMinute int
	MinInterval          time.Duration
	MaxQueueSize         int
	RequestTimeout       time.Duration
	MaxRetries           int
	RetryDelay           time.Duration // backoff base
}

func DefaultConfig() Config {
	return Config{
		MaxRequestsPerMinute: 50,
		MinInterval:          500 * time.Millisecond,
		MaxQueueSize:         100,
		RequestTimeout:       60 * time.Second,
		MaxRetries:           3,
		RetryDelay:           2 * time.Second,
	}
}

const maxBackoff = 30 * time.Second

type Stats struct {
	Enqueued      int64
	Completed     int64
	Failed        int64
	RateLimitHits int64
	TimedOut      int64
	QueueRejected int64
}

type entryState int

const (
	statePending entryState = iota
	stateDone
)

type entry struct {
	call     Call
	attempts int
	done     chan struct{}
	result   any
	err      error

	mu    sync.Mutex
	state entryState
}

// settle delivers the outcome exactly once. Returns false if the entry was
// already settled (e.g. timed out while a retry timer was armed).
func (e *entry) settle(result any, err error) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateDone {
		return false
	}
	e.state = stateDone
	e.result = result
	e.err = err
	close(e.done)
	return true
}

func (e *entry) settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateDone
}

type Limiter struct {
	cfg    Config
	bucket *rate.Limiter

	mu     sync.Mutex
	queue  []*entry // head at index 0
	timers map[*time.Timer]struct{}
	stats  Stats
	closed bool

	wake    chan struct{}
	resetCh chan struct{}
	cancel  context.CancelFunc

	jitter func() time.Duration
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		cfg.MaxRequestsPerMinute = DefaultConfig().MaxRequestsPerMinute
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		cfg:     cfg,
		bucket:  rate.NewLimiter(rate.Limit(float64(cfg.MaxRequestsPerMinute)/60.0), 1),
		timers:  make(map[*time.Timer]struct{}),
		wake:    make(chan struct{}, 1),
		resetCh: make(chan struct{}),
		cancel:  cancel,
		jitter: func() time.Duration {
			return time.Duration(rand.Int63n(int64(time.Second)))
		},
	}
	go l.dispatch(ctx)
	return l
}

// Do submits a call and blocks until it completes, fails, times out, or the
// caller's context is cancelled. FIFO order is preserved except that
// rate-limit retries are re-dispatched first.
func (l *Limiter) Do(ctx context.Context, call Call) (any, error) {
	e := &entry{call: call, done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errkind.New(errkind.Cancelled, "limiter closed")
	}
	if len(l.queue) >= l.cfg.MaxQueueSize {
		l.stats.QueueRejected++
		l.mu.Unlock()
		return nil, errkind.New(errkind.QueueFull, "queue at capacity (%d)", l.cfg.MaxQueueSize)
	}
	l.queue = append(l.queue, e)
	l.stats.Enqueued++
	timeout := l.armTimerLocked(l.cfg.RequestTimeout, func() {
		if e.settle(nil, errkind.New(errkind.RequestTimeout, "request timed out after %s", l.cfg.RequestTimeout)) {
			l.mu.Lock()
			l.stats.TimedOut++
			l.mu.Unlock()
		}
	})
	l.mu.Unlock()
	l.wakeDispatcher()

	select {
	case <-e.done:
	case <-ctx.Done():
		e.settle(nil, errkind.New(errkind.Cancelled, "caller cancelled"))
	}
	l.dropTimer(timeout)
	return e.result, e.err
}

func (l *Limiter) wakeDispatcher() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Limiter) dispatch(ctx context.Context) {
	for {
		e := l.popHead()
		if e == nil {
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
				continue
			}
		}

		// Entry may have timed out or been cancelled while queued.
		if e.settled() {
			continue
		}

		l.run(ctx, e)
	}
}

// run executes an entry, retrying in place on rate-limit signals. Keeping
// the dispatcher on the retried entry is what makes a retry "return to the
// head": everything behind it stays queued until the retry resolves.
func (l *Limiter) run(ctx context.Context, e *entry) {
	for {
		if err := l.bucket.Wait(ctx); err != nil {
			e.settle(nil, errkind.New(errkind.Cancelled, "limiter shut down"))
			return
		}
		if l.cfg.MinInterval > 0 {
			select {
			case <-time.After(l.cfg.MinInterval):
			case <-ctx.Done():
				e.settle(nil, errkind.New(errkind.Cancelled, "limiter shut down"))
				return
			}
		}

		e.attempts++
		result, err := e.call(ctx)
		if err == nil {
			if e.settle(result, nil) {
				l.mu.Lock()
				l.stats.Completed++
				l.mu.Unlock()
			}
			return
		}

		if !IsRateLimitSignal(err) {
			if e.settle(nil, err) {
				l.mu.Lock()
				l.stats.Failed++
				l.mu.Unlock()
			}
			return
		}

		l.mu.Lock()
		l.stats.RateLimitHits++
		exhausted := e.attempts > l.cfg.MaxRetries
		resetCh := l.resetCh
		l.mu.Unlock()

		if exhausted {
			// Failures are only recorded once retries are spent.
			if e.settle(nil, errkind.New(errkind.RateLimited, "retries exhausted after %d attempts: %v", e.attempts, err)) {
				l.mu.Lock()
				l.stats.Failed++
				l.mu.Unlock()
			}
			return
		}

		backoff := l.cfg.RetryDelay * (1 << (e.attempts - 1))
		backoff += l.jitter()
		if backoff > maxBackoff {
			backoff = maxBackoff
		}

		logger.WarnCF("ratelimit", "Rate limited, retrying at queue head", map[string]any{
			"attempt": e.attempts,
			"backoff": backoff.String(),
		})

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-e.done: // timed out or cancelled while backing off
			timer.Stop()
			return
		case <-resetCh:
			timer.Stop()
			e.settle(nil, errkind.New(errkind.Cancelled, "limiter reset"))
			return
		case <-ctx.Done():
			timer.Stop()
			e.settle(nil, errkind.New(errkind.Cancelled, "limiter shut down"))
			return
		}
	}
}

func (l *Limiter) popHead() *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	e := l.queue[0]
	l.queue = l.queue[1:]
	return e
}

// armTimerLocked registers a timer so Reset can cancel it. The timer
// deregisters itself on fire. Caller must hold l.mu.
func (l *Limiter) armTimerLocked(d time.Duration, fn func()) *time.Timer {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.dropTimer(t)
		fn()
	})
	l.timers[t] = struct{}{}
	return t
}

func (l *Limiter) dropTimer(t *time.Timer) {
	if t == nil {
		return
	}
	l.mu.Lock()
	delete(l.timers, t)
	l.mu.Unlock()
	t.Stop()
}

// Reset cancels every pending timer, interrupts any in-flight backoff, and
// rejects all queued entries. No timer remains referenced afterwards.
func (l *Limiter) Reset() {
	l.mu.Lock()
	for t := range l.timers {
		t.Stop()
	}
	l.timers = make(map[*time.Timer]struct{})
	pending := l.queue
	l.queue = nil
	close(l.resetCh)
	l.resetCh = make(chan struct{})
	l.mu.Unlock()

	for _, e := range pending {
		e.settle(nil, errkind.New(errkind.Cancelled, "limiter reset"))
	}
}

// Close stops the dispatcher and rejects all pending work.
func (l *Limiter) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	l.Reset()
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

func (l *Limiter) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// statusCoder is implemented by SDK errors that carry an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// IsRateLimitSignal reports whether err is the platform telling us to slow
// down: HTTP 429, a rate_limited error kind, or a "rate limit" message.
func IsRateLimitSignal(err error) bool {
	if err == nil {
		return false
	}
	if errkind.Is(err, errkind.RateLimited) {
		return true
	}
	if sc, ok := err.(statusCoder); ok && sc.StatusCode() == 429 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limited") || strings.Contains(msg, "429")
}

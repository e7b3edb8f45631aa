package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitExceeded is returned when the wait queue is full.
var ErrRateLimitExceeded = errors.New("rate limit exceeded: request queue full")

// Config tunes the token bucket.
type Config struct {
	RequestsPerMinute int
	Burst             int
	QueueSize         int
	// MaxRetryAfter caps pauses requested by upstream Retry-After headers.
	MaxRetryAfter time.Duration
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	Capacity          int
	RefillPerSecond   float64
	Tokens            float64
	QueueDepth        int
	PausedUntil       time.Time
	TotalRequests     uint64
	ThrottledRequests uint64
	RejectedRequests  uint64
	Upstream429       uint64
}

// Limiter gates outbound calls with a token bucket and a bounded FIFO queue.
// A single Limiter is shared by every client that talks to the same node.
type Limiter struct {
	cfg    Config
	bucket *rate.Limiter
	now    func() time.Time

	mu         sync.Mutex
	queued     int
	pauseUntil time.Time

	total     atomic.Uint64
	throttled atomic.Uint64
	rejected  atomic.Uint64
	upstream  atomic.Uint64
}

// New constructs a Limiter. Non-positive values fall back to 60 rpm and a burst of 1.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	refill := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	return &Limiter{
		cfg:    cfg,
		bucket: rate.NewLimiter(refill, cfg.Burst),
		now:    time.Now,
	}
}

// Acquire blocks until a token is available. Callers queue in arrival order;
// when QueueSize callers are already waiting it fails fast with
// ErrRateLimitExceeded.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.total.Add(1)

	if err := l.waitPause(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	if l.queued == 0 && l.bucket.Allow() {
		l.mu.Unlock()
		return nil
	}
	if l.queued >= l.cfg.QueueSize {
		l.mu.Unlock()
		l.rejected.Add(1)
		return ErrRateLimitExceeded
	}
	l.queued++
	// Reservations are taken under mu so they are granted in arrival order.
	res := l.bucket.Reserve()
	l.mu.Unlock()
	l.throttled.Add(1)

	defer func() {
		l.mu.Lock()
		l.queued--
		l.mu.Unlock()
	}()

	if delay := res.Delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Cancel()
			return ctx.Err()
		case <-timer.C:
		}
	}
	// A pause recorded while this caller was queued outlasts its reservation.
	return l.waitPause(ctx)
}

// PauseFor blocks new acquisitions for d, capped at MaxRetryAfter.
// Overlapping pauses keep the later deadline.
func (l *Limiter) PauseFor(d time.Duration) {
	if d <= 0 {
		return
	}
	if l.cfg.MaxRetryAfter > 0 && d > l.cfg.MaxRetryAfter {
		d = l.cfg.MaxRetryAfter
	}
	until := l.now().Add(d)
	l.mu.Lock()
	if until.After(l.pauseUntil) {
		l.pauseUntil = until
	}
	l.mu.Unlock()
}

// ObserveThrottle records an upstream 429 and pauses for the advised delay.
func (l *Limiter) ObserveThrottle(retryAfter time.Duration) {
	l.upstream.Add(1)
	l.PauseFor(retryAfter)
}

// waitPause sleeps until no pause is in force. Pauses extended during the
// sleep are waited out too.
func (l *Limiter) waitPause(ctx context.Context) error {
	for {
		l.mu.Lock()
		until := l.pauseUntil
		l.mu.Unlock()

		d := until.Sub(l.now())
		if d <= 0 {
			return nil
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stats reports the current bucket state and counters.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	queued := l.queued
	paused := l.pauseUntil
	l.mu.Unlock()

	return Stats{
		Capacity:          l.cfg.Burst,
		RefillPerSecond:   float64(l.bucket.Limit()),
		Tokens:            l.bucket.TokensAt(l.now()),
		QueueDepth:        queued,
		PausedUntil:       paused,
		TotalRequests:     l.total.Load(),
		ThrottledRequests: l.throttled.Load(),
		RejectedRequests:  l.rejected.Load(),
		Upstream429:       l.upstream.Load(),
	}
}

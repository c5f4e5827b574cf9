// Package ratelimit bounds the rate of OCR invocations across all workers
// to respect the external service quota.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scanforge/scanforge/internal/coord"
)

// ErrRateLimitTimeout is returned when no slot frees up within the
// caller's blocking timeout.
var ErrRateLimitTimeout = errors.New("rate limit timeout")

// Config configures a limiter.
type Config struct {
	// Key namespaces the limiter's counters in the shared store, so
	// different quotas (e.g. per OCR provider) do not collide.
	Key string

	// Limit is the number of invocations allowed per Window.
	Limit int

	// Window is the quota window (e.g. 60s for a per-minute quota).
	Window time.Duration

	// PollInterval is how often a blocked caller re-checks for a slot.
	PollInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Key == "" {
		c.Key = "ocr"
	}
	if c.Limit <= 0 {
		c.Limit = 30
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
}

// Limiter is a sliding-window invocation limiter shared across workers via
// the coordination store. The window is approximated from the current and
// previous fixed buckets, weighted by overlap (the standard two-bucket
// estimate). Admission itself is an atomic increment-and-check against the
// current bucket, so the per-bucket count can never exceed the limit no
// matter how many workers race.
type Limiter struct {
	store coord.Store
	cfg   Config

	// now is swappable for tests.
	now func() time.Time
}

// New creates a limiter over the shared store.
func New(store coord.Store, cfg Config) *Limiter {
	cfg.applyDefaults()
	return &Limiter{store: store, cfg: cfg, now: time.Now}
}

func (l *Limiter) bucketKey(start time.Time) string {
	return fmt.Sprintf("%s/%d", l.cfg.Key, start.Unix())
}

// AcquireSlot blocks until an invocation slot is available or the blocking
// timeout elapses, in which case it returns ErrRateLimitTimeout. Context
// cancellation is honored while blocked.
func (l *Limiter) AcquireSlot(ctx context.Context, blockingTimeout time.Duration) error {
	deadline := l.now().Add(blockingTimeout)

	for {
		ok, err := l.tryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if !l.now().Before(deadline) {
			return fmt.Errorf("%w: no slot within %s (%d per %s)", ErrRateLimitTimeout, blockingTimeout, l.cfg.Limit, l.cfg.Window)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.PollInterval):
		}
	}
}

// tryAcquire attempts to take one slot without blocking.
func (l *Limiter) tryAcquire(ctx context.Context) (bool, error) {
	now := l.now()
	curStart := now.Truncate(l.cfg.Window)
	prevStart := curStart.Add(-l.cfg.Window)

	prev, err := l.store.GetCounter(ctx, l.bucketKey(prevStart))
	if err != nil {
		return false, fmt.Errorf("read previous window: %w", err)
	}

	// Weight the previous bucket by how much of it still overlaps the
	// sliding window ending now.
	elapsed := now.Sub(curStart)
	overlap := 1.0 - float64(elapsed)/float64(l.cfg.Window)
	cur, err := l.store.GetCounter(ctx, l.bucketKey(curStart))
	if err != nil {
		return false, fmt.Errorf("read current window: %w", err)
	}
	estimate := float64(prev)*overlap + float64(cur)
	if estimate >= float64(l.cfg.Limit) {
		return false, nil
	}

	// Buckets live for two windows so the previous bucket is still
	// readable while it overlaps.
	return l.store.IncrIfBelow(ctx, l.bucketKey(curStart), int64(l.cfg.Limit), 2*l.cfg.Window)
}

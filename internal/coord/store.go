// Package coord provides the shared lease and counter store backing the
// distributed chunk lock and the OCR rate limiter.
//
// The contract is deliberately narrow: compare-and-swap-with-lease for
// mutual exclusion, and atomic increment-and-check with expiry for windowed
// counters. Any store with those two primitives can back the pipeline.
package coord

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the coord package.
var (
	// ErrLeaseHeld is returned by AcquireLease while another owner's
	// lease has not expired.
	ErrLeaseHeld = errors.New("lease held by another owner")

	// ErrLeaseLost is returned by RenewLease when the caller no longer
	// owns the lease (expired and taken, or released).
	ErrLeaseLost = errors.New("lease lost")
)

// Lease is a time-bounded exclusive claim on a key.
type Lease struct {
	Key       string    `json:"key"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at the given time.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Store is the shared counter/lease store.
type Store interface {
	// AcquireLease claims key for owner for ttl. An unexpired lease by a
	// different owner yields ErrLeaseHeld. Re-acquiring one's own lease
	// extends it.
	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error)

	// RenewLease extends an active lease. ErrLeaseLost if the caller is
	// no longer the owner.
	RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error)

	// ReleaseLease drops the lease. Idempotent: releasing a lease that is
	// already gone, expired, or owned by someone else is a no-op.
	ReleaseLease(ctx context.Context, key, owner string) error

	// IncrIfBelow atomically increments the counter at key if its current
	// value is below limit, resetting counters older than ttl. Returns
	// whether the increment was applied.
	IncrIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, error)

	// GetCounter returns the counter value at key, or zero if absent
	// or expired.
	GetCounter(ctx context.Context, key string) (int64, error)
}

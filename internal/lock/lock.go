// Package lock provides the per-chunk distributed mutual exclusion
// primitive. The ledger's CAS transition is authoritative for correctness;
// the lock exists so that two processes never both pay for the same
// external OCR call.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/scanforge/scanforge/internal/coord"
)

// ErrLockContention is returned when another holder's lease has not expired.
var ErrLockContention = errors.New("chunk lock contention")

// DefaultLease is the lock lease duration when none is configured. Leases
// auto-expire so a crashed holder cannot deadlock the chunk forever.
const DefaultLease = 3 * time.Minute

// Token identifies one acquisition of a chunk lock.
type Token struct {
	key       string
	owner     string
	expiresAt time.Time
}

// ExpiresAt returns the current lease expiry.
func (t *Token) ExpiresAt() time.Time {
	return t.expiresAt
}

// Manager acquires and releases chunk locks against the coordination store.
type Manager struct {
	store coord.Store
}

// NewManager creates a lock manager.
func NewManager(store coord.Store) *Manager {
	return &Manager{store: store}
}

func chunkKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("chunk/%s/%d", documentID, chunkIndex)
}

// Acquire claims the lock for one chunk. Fails fast with ErrLockContention
// while another worker's lease is active; it never blocks waiting for the
// holder.
func (m *Manager) Acquire(ctx context.Context, documentID string, chunkIndex int, lease time.Duration) (*Token, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	key := chunkKey(documentID, chunkIndex)
	owner := uuid.New().String()

	l, err := m.store.AcquireLease(ctx, key, owner, lease)
	if err != nil {
		if errors.Is(err, coord.ErrLeaseHeld) {
			return nil, fmt.Errorf("%w: %s chunk %d", ErrLockContention, documentID, chunkIndex)
		}
		return nil, fmt.Errorf("acquire chunk lock: %w", err)
	}

	return &Token{key: key, owner: owner, expiresAt: l.ExpiresAt}, nil
}

// Renew extends an active lease, used while a long OCR call is in flight.
func (m *Manager) Renew(ctx context.Context, tok *Token, lease time.Duration) error {
	if lease <= 0 {
		lease = DefaultLease
	}
	l, err := m.store.RenewLease(ctx, tok.key, tok.owner, lease)
	if err != nil {
		return fmt.Errorf("renew chunk lock: %w", err)
	}
	tok.expiresAt = l.ExpiresAt
	return nil
}

// Release drops the lock. Idempotent: releasing an expired or already
// released token is a no-op.
func (m *Manager) Release(ctx context.Context, tok *Token) error {
	if tok == nil {
		return nil
	}
	return m.store.ReleaseLease(ctx, tok.key, tok.owner)
}

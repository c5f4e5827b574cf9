package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scanforge/scanforge/internal/coord"
)

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := NewManager(coord.NewMemoryStore())

	tok, err := m.Acquire(ctx, "doc-1", 0, time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Second acquire for the same chunk must fail fast.
	if _, err := m.Acquire(ctx, "doc-1", 0, time.Minute); !errors.Is(err, ErrLockContention) {
		t.Fatalf("second Acquire() = %v, want ErrLockContention", err)
	}

	// A different chunk is independent.
	if _, err := m.Acquire(ctx, "doc-1", 1, time.Minute); err != nil {
		t.Fatalf("Acquire(chunk 1) error = %v", err)
	}

	if err := m.Release(ctx, tok); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := m.Acquire(ctx, "doc-1", 0, time.Minute); err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}

	// Double release is a no-op.
	if err := m.Release(ctx, tok); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewManager(coord.NewMemoryStore())

	if _, err := m.Acquire(ctx, "doc-1", 0, 20*time.Millisecond); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	// Lease expired: the chunk is claimable again without a release.
	if _, err := m.Acquire(ctx, "doc-1", 0, time.Minute); err != nil {
		t.Fatalf("Acquire() after expiry error = %v", err)
	}
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	m := NewManager(coord.NewMemoryStore())

	tok, err := m.Acquire(ctx, "doc-1", 0, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	before := tok.ExpiresAt()

	if err := m.Renew(ctx, tok, time.Minute); err != nil {
		t.Fatalf("Renew() error = %v", err)
	}
	if !tok.ExpiresAt().After(before) {
		t.Error("Renew() did not extend the lease")
	}

	// Renewing after release must fail.
	if err := m.Release(ctx, tok); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := m.Renew(ctx, tok, time.Minute); err == nil {
		t.Error("Renew() after release succeeded")
	}
}

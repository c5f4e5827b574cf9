package coord

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type counter struct {
	value     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store for single-node runs and tests.
type MemoryStore struct {
	mu       sync.Mutex
	leases   map[string]*Lease
	counters map[string]*counter

	// now is swappable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases:   make(map[string]*Lease),
		counters: make(map[string]*counter),
		now:      time.Now,
	}
}

func (s *MemoryStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.leases[key]; ok && cur.Owner != owner && !cur.Expired(now) {
		return nil, fmt.Errorf("%w: %s held by %s until %s", ErrLeaseHeld, key, cur.Owner, cur.ExpiresAt.Format(time.RFC3339))
	}

	lease := &Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl)}
	s.leases[key] = lease
	cp := *lease
	return &cp, nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cur, ok := s.leases[key]
	if !ok || cur.Owner != owner || cur.Expired(now) {
		return nil, fmt.Errorf("%w: %s", ErrLeaseLost, key)
	}

	cur.ExpiresAt = now.Add(ttl)
	cp := *cur
	return &cp, nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.leases[key]; ok && cur.Owner == owner {
		delete(s.leases, key)
	}
	return nil
}

func (s *MemoryStore) IncrIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	if c.value >= limit {
		return false, nil
	}
	c.value++
	return true, nil
}

func (s *MemoryStore) GetCounter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !s.now().Before(c.expiresAt) {
		return 0, nil
	}
	return c.value, nil
}

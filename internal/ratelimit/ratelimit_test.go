package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scanforge/scanforge/internal/coord"
)

func TestAcquireSlotWithinLimit(t *testing.T) {
	l := New(coord.NewMemoryStore(), Config{Key: "test", Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		if err := l.AcquireSlot(context.Background(), 0); err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
	}

	err := l.AcquireSlot(context.Background(), 0)
	if !errors.Is(err, ErrRateLimitTimeout) {
		t.Fatalf("sixth slot = %v, want ErrRateLimitTimeout", err)
	}
}

// TestConcurrentBurst issues 40 concurrent acquisitions against a 30-slot
// window. Exactly 30 must be admitted; the rest must time out without the
// window count ever exceeding the limit.
func TestConcurrentBurst(t *testing.T) {
	store := coord.NewMemoryStore()
	l := New(store, Config{Key: "burst", Limit: 30, Window: time.Minute, PollInterval: 5 * time.Millisecond})

	const callers = 40
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted, timedOut := 0, 0

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.AcquireSlot(context.Background(), 50*time.Millisecond)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrRateLimitTimeout):
				timedOut++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != 30 {
		t.Errorf("admitted = %d, want 30", admitted)
	}
	if timedOut != 10 {
		t.Errorf("timed out = %d, want 10", timedOut)
	}
}

func TestSlotFreesAfterWindow(t *testing.T) {
	l := New(coord.NewMemoryStore(), Config{Key: "roll", Limit: 2, Window: 60 * time.Millisecond, PollInterval: 5 * time.Millisecond})

	ctx := context.Background()
	if err := l.AcquireSlot(ctx, 0); err != nil {
		t.Fatalf("first slot: %v", err)
	}
	if err := l.AcquireSlot(ctx, 0); err != nil {
		t.Fatalf("second slot: %v", err)
	}

	// Blocked caller should get a slot once the window rolls over.
	if err := l.AcquireSlot(ctx, 300*time.Millisecond); err != nil {
		t.Fatalf("blocked caller: %v", err)
	}
}

func TestAcquireSlotCancellation(t *testing.T) {
	l := New(coord.NewMemoryStore(), Config{Key: "cancel", Limit: 1, Window: time.Minute, PollInterval: 5 * time.Millisecond})

	if err := l.AcquireSlot(context.Background(), 0); err != nil {
		t.Fatalf("first slot: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.AcquireSlot(ctx, time.Minute)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled acquire = %v, want context.Canceled", err)
	}
}

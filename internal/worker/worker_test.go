package worker

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scanforge/scanforge/internal/coord"
	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/lock"
	"github.com/scanforge/scanforge/internal/providers"
	"github.com/scanforge/scanforge/internal/ratelimit"
	"github.com/scanforge/scanforge/internal/split"
	"github.com/scanforge/scanforge/internal/store"
)

// fakePages synthesizes empty page images for any range.
type fakePages struct{}

func (fakePages) ChunkPages(_ context.Context, _ string, startPage, endPage int) ([]providers.PageImage, error) {
	var pages []providers.PageImage
	for p := startPage; p <= endPage; p++ {
		pages = append(pages, providers.PageImage{LocalPage: p - startPage + 1})
	}
	return pages, nil
}

type harness struct {
	ledger   *ledger.MemoryLedger
	worker   *Worker
	provider *providers.MockProvider
	results  *store.FileStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	led := ledger.NewMemoryLedger()
	cstore := coord.NewMemoryStore()
	locks := lock.NewManager(cstore)
	limiter := ratelimit.New(cstore, ratelimit.Config{
		Key:          "test",
		Limit:        100,
		Window:       time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	results, err := store.NewFileStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	provider := providers.NewMockProvider()
	provider.Latency = time.Millisecond
	provider.RetryDelay = time.Millisecond

	w := New(led, locks, limiter, results, fakePages{}, provider, slog.Default(), Config{
		ChunkTimeout:      2 * time.Second,
		HeartbeatInterval: 10 * time.Millisecond,
		LockLease:         time.Second,
		RateLimitWait:     500 * time.Millisecond,
	})

	return &harness{ledger: led, worker: w, provider: provider, results: results}
}

func seedChunk(t *testing.T, led ledger.Ledger, docID string, idx, startPage, endPage, maxRetries int) split.ChunkSpec {
	t.Helper()
	spec := split.ChunkSpec{
		DocumentID: docID,
		ChunkIndex: idx,
		StartPage:  startPage,
		EndPage:    endPage,
		PageCount:  endPage - startPage + 1,
	}
	if err := led.Create(context.Background(), ledger.NewRecord(spec, maxRetries)); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return spec
}

func TestProcessSuccess(t *testing.T) {
	h := newHarness(t)
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 30, 3)

	if err := h.worker.Process(context.Background(), spec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	rec, err := h.ledger.Get(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.ResultRef == "" {
		t.Fatal("result ref not recorded")
	}

	res, err := h.results.GetChunkResult(context.Background(), rec.ResultRef)
	if err != nil {
		t.Fatalf("GetChunkResult() error = %v", err)
	}
	if res.PageCount != 30 || len(res.Blocks) != 30*h.provider.BlocksPerPage {
		t.Errorf("unexpected result: pages=%d blocks=%d", res.PageCount, len(res.Blocks))
	}
}

func TestProcessRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.provider.FailChunks = map[int]int{0: 2}
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 3)

	if err := h.worker.Process(context.Background(), spec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	rec, _ := h.ledger.Get(context.Background(), "doc-1", 0)
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", rec.RetryCount)
	}
	if got := h.provider.Calls.Load(); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
}

func TestProcessExhaustsRetries(t *testing.T) {
	h := newHarness(t)
	h.provider.FailChunks = map[int]int{0: -1}
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 2)

	if err := h.worker.Process(context.Background(), spec); err == nil {
		t.Fatal("Process() should fail once retries are exhausted")
	}

	rec, _ := h.ledger.Get(context.Background(), "doc-1", 0)
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", rec.RetryCount)
	}
	if rec.Error == "" {
		t.Error("failure detail not recorded")
	}
	// Initial attempt plus two retries.
	if got := h.provider.Calls.Load(); got != 3 {
		t.Errorf("provider calls = %d, want 3", got)
	}
}

func TestProcessLostClaimIsBenign(t *testing.T) {
	h := newHarness(t)
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 3)

	// Another worker already holds the chunk.
	if _, err := h.ledger.Transition(context.Background(), "doc-1", 0,
		[]ledger.Status{ledger.StatusPending}, ledger.StatusProcessing); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if err := h.worker.Process(context.Background(), spec); err != nil {
		t.Fatalf("Process() error = %v, lost race should be benign", err)
	}
	if got := h.provider.Calls.Load(); got != 0 {
		t.Errorf("provider calls = %d, want 0", got)
	}
}

func TestProcessDuplicateDispatch(t *testing.T) {
	h := newHarness(t)
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 3)

	// The same chunk dispatched to many workers must invoke OCR once.
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.worker.Process(context.Background(), spec)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("worker %d: %v", i, err)
		}
	}
	if got := h.provider.Calls.Load(); got != 1 {
		t.Errorf("provider calls = %d, want 1", got)
	}

	rec, _ := h.ledger.Get(context.Background(), "doc-1", 0)
	if rec.Status != ledger.StatusCompleted {
		t.Fatalf("status = %s, want completed", rec.Status)
	}
}

func TestProcessHeartbeatKeepsChunkFresh(t *testing.T) {
	h := newHarness(t)
	h.provider.Latency = 80 * time.Millisecond
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 3)

	start := time.Now()
	if err := h.worker.Process(context.Background(), spec); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	rec, _ := h.ledger.Get(context.Background(), "doc-1", 0)
	// With a 10ms heartbeat over an 80ms call, the final heartbeat must be
	// well after the claim.
	if rec.HeartbeatAt.Before(start.Add(30 * time.Millisecond)) {
		t.Errorf("heartbeat not refreshed during processing: %v", rec.HeartbeatAt)
	}
}

func TestProcessChunkTimeout(t *testing.T) {
	h := newHarness(t)
	h.provider.HangChunks = map[int]bool{0: true}
	h.worker.cfg.ChunkTimeout = 50 * time.Millisecond
	spec := seedChunk(t, h.ledger, "doc-1", 0, 1, 10, 1)

	err := h.worker.Process(context.Background(), spec)
	if err == nil {
		t.Fatal("Process() should fail for a hung provider")
	}

	rec, _ := h.ledger.Get(context.Background(), "doc-1", 0)
	if rec.Status != ledger.StatusFailed {
		t.Fatalf("status = %s, want failed", rec.Status)
	}
	if rec.Error == "" {
		t.Error("timeout detail not recorded")
	}
}

func TestBackoffCaps(t *testing.T) {
	h := newHarness(t)
	h.provider.RetryDelay = 10 * time.Second

	if d := h.worker.backoff(1); d != 10*time.Second {
		t.Errorf("backoff(1) = %v", d)
	}
	if d := h.worker.backoff(2); d != 20*time.Second {
		t.Errorf("backoff(2) = %v", d)
	}
	if d := h.worker.backoff(10); d != time.Minute {
		t.Errorf("backoff(10) = %v, want cap", d)
	}
}

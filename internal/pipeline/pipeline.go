// Package pipeline coordinates document processing end to end: split,
// dispatch, crash recovery, and final merge.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/split"
	"github.com/scanforge/scanforge/internal/store"
	"github.com/scanforge/scanforge/internal/worker"
)

var (
	// ErrNotReady is returned by Result while the document has not reached
	// the done state.
	ErrNotReady = errors.New("document result not ready")

	// ErrAlreadyRunning is returned by Submit when the document is being
	// processed by this coordinator.
	ErrAlreadyRunning = errors.New("document already being processed")
)

// Config tunes the coordinator.
type Config struct {
	// Split controls chunking.
	Split split.Options

	// MaxRetries is the per-chunk retry budget written into the ledger.
	MaxRetries int

	// WorkerCount bounds concurrent chunk execution.
	WorkerCount int

	// StaleThreshold is how old a processing chunk's heartbeat may be
	// before the reconciler presumes its worker dead.
	StaleThreshold time.Duration

	// ReconcileInterval is the pause between dispatch rounds while
	// non-terminal chunks remain.
	ReconcileInterval time.Duration

	// DocumentDeadline bounds one document's total processing time.
	DocumentDeadline time.Duration
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 2 * time.Minute
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 10 * time.Second
	}
	if c.DocumentDeadline <= 0 {
		c.DocumentDeadline = 2 * time.Hour
	}
}

// Coordinator owns the per-document state machine. Chunk state lives in
// the ledger; the coordinator only reads it to decide dispatch, recovery,
// and when to merge.
type Coordinator struct {
	docs    document.Store
	led     ledger.Ledger
	worker  *worker.Worker
	results store.ResultStore
	logger  *slog.Logger
	cfg     Config

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a coordinator.
func New(docs document.Store, led ledger.Ledger, w *worker.Worker, results store.ResultStore, logger *slog.Logger, cfg Config) *Coordinator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		docs:     docs,
		led:      led,
		worker:   w,
		results:  results,
		logger:   logger,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}
}

// Submit starts processing a document in the background. The document must
// already be ingested. Progress is observable through Status.
func (c *Coordinator) Submit(ctx context.Context, documentID string) error {
	doc, err := c.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.State.Terminal() {
		return fmt.Errorf("document %s already finished with state %s", documentID, doc.State)
	}

	c.mu.Lock()
	if _, ok := c.inflight[documentID]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, documentID)
	}
	c.inflight[documentID] = struct{}{}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, documentID)
			c.mu.Unlock()
		}()

		if err := c.ProcessDocument(context.Background(), documentID); err != nil {
			c.logger.Error("document processing failed",
				"document_id", documentID,
				"error", err)
		}
	}()
	return nil
}

// Wait blocks until all submitted documents have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// ProcessDocument drives one document to a terminal state synchronously.
func (c *Coordinator) ProcessDocument(ctx context.Context, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DocumentDeadline)
	defer cancel()

	log := c.logger.With("document_id", documentID)

	doc, err := c.docs.Get(ctx, documentID)
	if err != nil {
		return err
	}

	specs, err := c.splitDocument(ctx, doc, log)
	if err != nil {
		return c.failDocument(ctx, documentID, log, err)
	}

	if err := c.runChunks(ctx, documentID, specs, log); err != nil {
		return c.failDocument(ctx, documentID, log, err)
	}

	if err := c.mergeDocument(ctx, doc, log); err != nil {
		return c.failDocument(ctx, documentID, log, err)
	}
	return nil
}

// splitDocument plans the chunks and seeds the ledger. Re-running for a
// partially seeded document is safe: existing records are kept as is.
func (c *Coordinator) splitDocument(ctx context.Context, doc *document.Document, log *slog.Logger) ([]split.ChunkSpec, error) {
	if _, err := c.docs.Update(ctx, doc.ID, document.WithState(document.StateSplitting)); err != nil {
		return nil, err
	}

	specs, err := split.Plan(doc.ID, doc.PageCount, c.cfg.Split)
	if err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}

	for _, spec := range specs {
		err := c.led.Create(ctx, ledger.NewRecord(spec, c.cfg.MaxRetries))
		if err != nil && !errors.Is(err, ledger.ErrChunkExists) {
			return nil, fmt.Errorf("seed chunk ledger: %w", err)
		}
	}

	if _, err := c.docs.Update(ctx, doc.ID,
		document.WithState(document.StateDispatched),
		document.WithChunkCount(len(specs))); err != nil {
		return nil, err
	}

	log.Info("document split",
		"total_pages", doc.PageCount,
		"chunks", len(specs),
		"target_pages", c.cfg.Split.TargetPages)
	return specs, nil
}

// runChunks dispatches chunks in rounds until every chunk is terminal.
// Each round processes whatever is pending; between rounds the reconciler
// recovers chunks abandoned by crashed workers.
func (c *Coordinator) runChunks(ctx context.Context, documentID string, specs []split.ChunkSpec, log *slog.Logger) error {
	if _, err := c.docs.Update(ctx, documentID, document.WithState(document.StateAwaitingCompletion)); err != nil {
		return err
	}

	for {
		pending, err := c.pendingSpecs(ctx, documentID)
		if err != nil {
			return err
		}

		if len(pending) > 0 {
			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(c.cfg.WorkerCount)
			for _, spec := range pending {
				spec := spec
				g.Go(func() error {
					// A permanently failed chunk must not cancel its
					// siblings; the verdict is read from the ledger after
					// the round.
					if err := c.worker.Process(gctx, spec); err != nil {
						log.Warn("chunk did not complete",
							"chunk_index", spec.ChunkIndex,
							"error", err)
					}
					return gctx.Err()
				})
			}
			if err := g.Wait(); err != nil {
				return c.incompleteError(ctx, documentID, fmt.Errorf("dispatch round: %w", err))
			}
		}

		settled, err := c.reconcile(ctx, documentID, log)
		if err != nil {
			return err
		}
		if settled {
			return nil
		}

		select {
		case <-ctx.Done():
			return c.incompleteError(ctx, documentID, fmt.Errorf("document deadline: %w", ctx.Err()))
		case <-time.After(c.cfg.ReconcileInterval):
		}
	}
}

// incompleteError decorates a deadline or dispatch failure with the chunks
// that never reached a terminal state, so the recorded document failure
// names indices and page ranges instead of a bare context error. The ledger
// read runs on a detached context because the document context has usually
// just expired.
func (c *Coordinator) incompleteError(ctx context.Context, documentID string, cause error) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	recs, err := c.led.ListForDocument(rctx, documentID)
	if err != nil {
		return cause
	}

	var open []string
	for _, rec := range recs {
		if !rec.Status.Terminal(rec.RetryCount, rec.MaxRetries) {
			open = append(open, fmt.Sprintf("chunk %d (pages %d-%d, status %s)",
				rec.ChunkIndex, rec.StartPage, rec.EndPage, rec.Status))
		}
	}
	if len(open) == 0 {
		return cause
	}
	return fmt.Errorf("%w; incomplete: %s", cause, strings.Join(open, ", "))
}

// pendingSpecs lists chunks still waiting for a worker.
func (c *Coordinator) pendingSpecs(ctx context.Context, documentID string) ([]split.ChunkSpec, error) {
	recs, err := c.led.ListForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	var out []split.ChunkSpec
	for _, rec := range recs {
		if rec.Status == ledger.StatusPending {
			out = append(out, rec.Spec())
		}
	}
	return out, nil
}

// reconcile recovers abandoned chunks and reports whether every chunk has
// reached a terminal state.
func (c *Coordinator) reconcile(ctx context.Context, documentID string, log *slog.Logger) (bool, error) {
	stale, err := c.led.FindStale(ctx, documentID, c.cfg.StaleThreshold)
	if err != nil {
		return false, err
	}
	for _, rec := range stale {
		log.Warn("chunk heartbeat expired, reclaiming",
			"chunk_index", rec.ChunkIndex,
			"heartbeat_at", rec.HeartbeatAt)

		if _, err := c.led.Transition(ctx, documentID, rec.ChunkIndex,
			[]ledger.Status{ledger.StatusProcessing}, ledger.StatusStale); err != nil {
			// The worker finished or failed between the scan and the CAS.
			continue
		}

		_, err := c.led.Transition(ctx, documentID, rec.ChunkIndex,
			[]ledger.Status{ledger.StatusStale}, ledger.StatusPending,
			ledger.WithRetryIncrement())
		if errors.Is(err, ledger.ErrRetriesExhausted) {
			if _, ferr := c.led.Transition(ctx, documentID, rec.ChunkIndex,
				[]ledger.Status{ledger.StatusStale}, ledger.StatusFailed,
				ledger.WithError(errors.New("worker presumed crashed, retry budget exhausted"))); ferr != nil {
				return false, ferr
			}
			continue
		}
		if err != nil {
			return false, err
		}
	}

	recs, err := c.led.ListForDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	settled := true
	for _, rec := range recs {
		if rec.Status.Terminal(rec.RetryCount, rec.MaxRetries) {
			continue
		}
		settled = false

		// A failed chunk with budget left normally retries inside the
		// worker. If the worker died in between, requeue it here.
		if rec.Status == ledger.StatusFailed {
			_, err := c.led.Transition(ctx, documentID, rec.ChunkIndex,
				[]ledger.Status{ledger.StatusFailed}, ledger.StatusPending,
				ledger.WithRetryIncrement())
			if err != nil && !errors.Is(err, ledger.ErrRetriesExhausted) && !errors.Is(err, ledger.ErrInvalidTransition) {
				return false, err
			}
		}
	}
	return settled, nil
}

// mergeDocument assembles the final result once every chunk is terminal.
func (c *Coordinator) mergeDocument(ctx context.Context, doc *document.Document, log *slog.Logger) error {
	if _, err := c.docs.Update(ctx, doc.ID, document.WithState(document.StateMerging)); err != nil {
		return err
	}

	recs, err := c.led.ListForDocument(ctx, doc.ID)
	if err != nil {
		return err
	}

	merged, err := merge.Merge(ctx, doc.ID, doc.PageCount, recs, c.results)
	if err != nil {
		return err
	}

	ref, err := c.results.PutMergedResult(ctx, merged)
	if err != nil {
		return fmt.Errorf("store merged result: %w", err)
	}

	if _, err := c.docs.Update(ctx, doc.ID,
		document.WithState(document.StateDone),
		document.WithResultRef(ref)); err != nil {
		return err
	}

	log.Info("document done",
		"chunks", merged.ChunkCount,
		"blocks", len(merged.Blocks),
		"result_ref", ref)
	return nil
}

// failDocument records a terminal failure and returns the cause.
func (c *Coordinator) failDocument(ctx context.Context, documentID string, log *slog.Logger, cause error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, err := c.docs.Update(fctx, documentID, document.WithError(cause.Error())); err != nil {
		log.Error("failed to record document failure", "cause", cause, "error", err)
	}
	return cause
}

// ChunkSummary is the chunk progress counts reported by Status.
type ChunkSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Stale      int `json:"stale"`
}

// DocumentStatus is a document with its chunk progress.
type DocumentStatus struct {
	Document *document.Document `json:"document"`
	Chunks   ChunkSummary       `json:"chunks"`
}

// Status reports a document's state and chunk progress.
func (c *Coordinator) Status(ctx context.Context, documentID string) (*DocumentStatus, error) {
	doc, err := c.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	recs, err := c.led.ListForDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	st := &DocumentStatus{Document: doc}
	st.Chunks.Total = len(recs)
	for _, rec := range recs {
		switch rec.Status {
		case ledger.StatusPending:
			st.Chunks.Pending++
		case ledger.StatusProcessing:
			st.Chunks.Processing++
		case ledger.StatusCompleted:
			st.Chunks.Completed++
		case ledger.StatusFailed:
			st.Chunks.Failed++
		case ledger.StatusStale:
			st.Chunks.Stale++
		}
	}
	return st, nil
}

// Result returns the merged output of a finished document.
func (c *Coordinator) Result(ctx context.Context, documentID string) (*merge.MergedDocumentResult, error) {
	doc, err := c.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.State == document.StateFailed {
		return nil, fmt.Errorf("document %s failed: %s", documentID, doc.Error)
	}
	if doc.State != document.StateDone {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotReady, documentID, doc.State)
	}
	return c.results.GetMergedResult(ctx, doc.ResultRef)
}

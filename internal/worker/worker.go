// Package worker executes one chunk at a time: claim, lock, rate-limit,
// OCR, store, report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/lock"
	"github.com/scanforge/scanforge/internal/providers"
	"github.com/scanforge/scanforge/internal/ratelimit"
	"github.com/scanforge/scanforge/internal/split"
	"github.com/scanforge/scanforge/internal/store"
)

// PageSource supplies the rendered page images for a chunk's page range.
// Implemented by the ingest layer over the document's pages directory.
type PageSource interface {
	ChunkPages(ctx context.Context, documentID string, startPage, endPage int) ([]providers.PageImage, error)
}

// Config tunes chunk execution.
type Config struct {
	// ChunkTimeout bounds one OCR attempt for a whole chunk.
	ChunkTimeout time.Duration

	// HeartbeatInterval is how often a processing worker refreshes its
	// ledger heartbeat and lock lease. Must be well under the
	// coordinator's staleness threshold.
	HeartbeatInterval time.Duration

	// LockLease is the chunk lock lease duration.
	LockLease time.Duration

	// RateLimitWait is how long a worker blocks waiting for an OCR slot
	// before the attempt counts as failed.
	RateLimitWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = 10 * time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.LockLease <= 0 {
		c.LockLease = lock.DefaultLease
	}
	if c.RateLimitWait <= 0 {
		c.RateLimitWait = 2 * time.Minute
	}
}

// Worker processes chunks against a single OCR provider.
type Worker struct {
	ledger   ledger.Ledger
	locks    *lock.Manager
	limiter  *ratelimit.Limiter
	results  store.ResultStore
	pages    PageSource
	provider providers.OCRProvider
	logger   *slog.Logger
	cfg      Config
}

// New creates a chunk worker.
func New(led ledger.Ledger, locks *lock.Manager, limiter *ratelimit.Limiter, results store.ResultStore, pages PageSource, provider providers.OCRProvider, logger *slog.Logger, cfg Config) *Worker {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		ledger:   led,
		locks:    locks,
		limiter:  limiter,
		results:  results,
		pages:    pages,
		provider: provider,
		logger:   logger,
		cfg:      cfg,
	}
}

// Process drives one chunk to a terminal state. It claims the chunk,
// attempts OCR, and on failure re-enqueues and retries with exponential
// backoff until the chunk's retry budget is spent.
//
// Losing the claim race to another worker is not an error: Process returns
// nil and the chunk proceeds elsewhere. An error return means the chunk is
// permanently failed (or the context was cancelled).
func (w *Worker) Process(ctx context.Context, spec split.ChunkSpec) error {
	log := w.logger.With(
		"document_id", spec.DocumentID,
		"chunk_index", spec.ChunkIndex,
		"pages", fmt.Sprintf("%d-%d", spec.StartPage, spec.EndPage))

	for {
		done, attemptErr := w.attempt(ctx, spec, log)
		if done {
			return attemptErr
		}

		// The attempt recorded processing→failed. Spend one retry if the
		// budget allows, otherwise the failure is final.
		rec, err := w.ledger.Transition(ctx, spec.DocumentID, spec.ChunkIndex,
			[]ledger.Status{ledger.StatusFailed}, ledger.StatusPending,
			ledger.WithRetryIncrement())
		if err != nil {
			if errors.Is(err, ledger.ErrRetriesExhausted) {
				log.Error("chunk failed permanently", "error", attemptErr)
				return fmt.Errorf("chunk %d of %s failed permanently: %w", spec.ChunkIndex, spec.DocumentID, attemptErr)
			}
			return fmt.Errorf("re-enqueue chunk %d of %s: %w", spec.ChunkIndex, spec.DocumentID, err)
		}

		delay := w.backoff(rec.RetryCount)
		log.Warn("retrying chunk",
			"attempt", rec.RetryCount,
			"max_retries", rec.MaxRetries,
			"backoff", delay,
			"error", attemptErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// backoff is base * 2^(attempt-1), capped at one minute.
func (w *Worker) backoff(attempt int) time.Duration {
	base := w.provider.RetryDelayBase()
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}

// attempt runs one claim-and-process cycle. done=true means Process has
// nothing further to do for this chunk (success, lost race, or an error
// that is not retryable through the ledger).
func (w *Worker) attempt(ctx context.Context, spec split.ChunkSpec, log *slog.Logger) (done bool, err error) {
	// Claim via CAS. Exactly one worker wins pending→processing.
	if _, err := w.ledger.Transition(ctx, spec.DocumentID, spec.ChunkIndex,
		[]ledger.Status{ledger.StatusPending}, ledger.StatusProcessing); err != nil {
		if errors.Is(err, ledger.ErrAlreadyClaimed) {
			log.Debug("chunk claimed by another worker")
			return true, nil
		}
		return true, fmt.Errorf("claim chunk %d of %s: %w", spec.ChunkIndex, spec.DocumentID, err)
	}

	// The lock is belt and braces over the CAS claim; contention here
	// means a crashed holder's lease has not expired yet, so wait it out
	// briefly rather than burning a retry immediately.
	tok, err := retry.DoWithData(
		func() (*lock.Token, error) {
			return w.locks.Acquire(ctx, spec.DocumentID, spec.ChunkIndex, w.cfg.LockLease)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return errors.Is(err, lock.ErrLockContention) }),
	)
	if err != nil {
		return false, w.markFailed(ctx, spec, log, fmt.Errorf("chunk lock: %w", err))
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := w.locks.Release(rctx, tok); rerr != nil {
			log.Warn("failed to release chunk lock", "error", rerr)
		}
	}()

	// One rate limit slot per provider invocation.
	if err := w.limiter.AcquireSlot(ctx, w.cfg.RateLimitWait); err != nil {
		if errors.Is(err, ratelimit.ErrRateLimitTimeout) {
			return false, w.markFailed(ctx, spec, log, err)
		}
		return true, w.markFailed(ctx, spec, log, err)
	}

	pages, err := w.pages.ChunkPages(ctx, spec.DocumentID, spec.StartPage, spec.EndPage)
	if err != nil {
		return false, w.markFailed(ctx, spec, log, fmt.Errorf("load pages: %w", err))
	}

	cctx, cancel := context.WithTimeout(ctx, w.cfg.ChunkTimeout)
	defer cancel()

	stopBeat := w.startHeartbeat(cctx, spec, tok, log)
	res, err := w.provider.ProcessChunk(cctx, &providers.ChunkRequest{
		DocumentID: spec.DocumentID,
		ChunkIndex: spec.ChunkIndex,
		Pages:      pages,
	})
	stopBeat()
	if err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("chunk timeout after %s: %w", w.cfg.ChunkTimeout, err)
		}
		return false, w.markFailed(ctx, spec, log, fmt.Errorf("provider %s: %w", w.provider.Name(), err))
	}

	ref, err := w.results.PutChunkResult(ctx, spec.DocumentID, res)
	if err != nil {
		return false, w.markFailed(ctx, spec, log, fmt.Errorf("store result: %w", err))
	}

	if _, err := w.ledger.Transition(ctx, spec.DocumentID, spec.ChunkIndex,
		[]ledger.Status{ledger.StatusProcessing}, ledger.StatusCompleted,
		ledger.WithResultRef(ref)); err != nil {
		// The reconciler may have declared us dead and re-enqueued the
		// chunk while a slow OCR call was in flight. The stored result is
		// idempotent, so losing this CAS is harmless.
		log.Warn("completion superseded", "error", err)
		return true, nil
	}

	log.Info("chunk completed", "blocks", len(res.Blocks), "result_ref", ref)
	return true, nil
}

// markFailed records processing→failed and hands the cause back so the
// retry loop can decide whether to re-enqueue.
func (w *Worker) markFailed(ctx context.Context, spec split.ChunkSpec, log *slog.Logger, cause error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if _, err := w.ledger.Transition(fctx, spec.DocumentID, spec.ChunkIndex,
		[]ledger.Status{ledger.StatusProcessing}, ledger.StatusFailed,
		ledger.WithError(cause)); err != nil {
		log.Warn("failed to record chunk failure", "cause", cause, "error", err)
	}
	return cause
}

// startHeartbeat refreshes the ledger heartbeat and the lock lease until
// the returned stop function is called or the context ends.
func (w *Worker) startHeartbeat(ctx context.Context, spec split.ChunkSpec, tok *lock.Token, log *slog.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.ledger.Heartbeat(ctx, spec.DocumentID, spec.ChunkIndex); err != nil {
					log.Warn("heartbeat failed", "error", err)
				}
				if err := w.locks.Renew(ctx, tok, w.cfg.LockLease); err != nil {
					log.Warn("lock renewal failed", "error", err)
				}
			}
		}
	}()

	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// Package ledger is the durable record of chunk processing state.
//
// The ledger is the single source of truth for a chunk's lifecycle. All
// status changes go through Transition, which is a compare-and-swap against
// the stored status: exactly one caller can move a chunk from pending to
// processing, even without holding the chunk lock.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/scanforge/scanforge/internal/split"
)

// Status is the lifecycle state of a chunk.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusStale      Status = "stale"
)

// Terminal reports whether no further transitions are expected.
// A failed chunk is terminal only once its retry budget is spent.
func (s Status) Terminal(retryCount, maxRetries int) bool {
	switch s {
	case StatusCompleted:
		return true
	case StatusFailed:
		return retryCount >= maxRetries
	}
	return false
}

// Sentinel errors for the ledger package.
var (
	// ErrChunkNotFound is returned when no record exists for a chunk.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrChunkExists is returned by Create for a duplicate chunk index.
	ErrChunkExists = errors.New("chunk already exists")

	// ErrInvalidTransition is returned when a requested status change is
	// not in the transition table. It indicates a programming or race
	// invariant violation; the stored record is left untouched.
	ErrInvalidTransition = errors.New("invalid chunk transition")

	// ErrAlreadyClaimed is returned when a pending→processing CAS loses
	// the race to another worker. It is a benign race loss, not a failure.
	ErrAlreadyClaimed = errors.New("chunk already claimed")

	// ErrRetriesExhausted is returned when a retry transition is requested
	// for a chunk whose retry budget is spent.
	ErrRetriesExhausted = errors.New("chunk retries exhausted")
)

// ChunkRecord is the ledger entry for one chunk.
type ChunkRecord struct {
	DocumentID string    `json:"document_id"`
	ChunkIndex int       `json:"chunk_index"`
	StartPage  int       `json:"start_page"`
	EndPage    int       `json:"end_page"`
	PageCount  int       `json:"page_count"`
	Status     Status    `json:"status"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`

	// ResultRef points at the stored chunk output. Set only on completed.
	ResultRef string `json:"result_ref,omitempty"`

	// Error holds the failure detail. Set only on failed.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Spec returns the chunk's page range as a ChunkSpec.
func (r *ChunkRecord) Spec() split.ChunkSpec {
	return split.ChunkSpec{
		DocumentID: r.DocumentID,
		ChunkIndex: r.ChunkIndex,
		StartPage:  r.StartPage,
		EndPage:    r.EndPage,
		PageCount:  r.PageCount,
	}
}

// NewRecord creates a pending record for a chunk spec.
func NewRecord(spec split.ChunkSpec, maxRetries int) *ChunkRecord {
	now := time.Now().UTC()
	return &ChunkRecord{
		DocumentID: spec.DocumentID,
		ChunkIndex: spec.ChunkIndex,
		StartPage:  spec.StartPage,
		EndPage:    spec.EndPage,
		PageCount:  spec.PageCount,
		Status:     StatusPending,
		MaxRetries: maxRetries,
		HeartbeatAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// validTransitions is the full transition table. Anything not listed is
// rejected with ErrInvalidTransition.
//
// failed→pending is the worker retry path and is additionally guarded by
// the record's retry budget; stale→pending is the reconciler retry path.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusStale},
	StatusStale:      {StatusPending, StatusFailed},
	StatusFailed:     {StatusPending},
}

// transitionAllowed reports whether from→to is in the table.
func transitionAllowed(from, to Status) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Mutation applies payload changes to a record as part of a transition.
// It runs after the status check and before the new status is stored.
type Mutation func(*ChunkRecord)

// WithResultRef records the stored output reference (completed payload).
func WithResultRef(ref string) Mutation {
	return func(r *ChunkRecord) { r.ResultRef = ref }
}

// WithError records the failure detail (failed payload).
func WithError(err error) Mutation {
	return func(r *ChunkRecord) {
		if err != nil {
			r.Error = err.Error()
		}
	}
}

// WithRetryIncrement bumps the retry counter (retry payload).
func WithRetryIncrement() Mutation {
	return func(r *ChunkRecord) {
		r.RetryCount++
		r.Error = ""
	}
}

// Ledger stores chunk records and arbitrates their state transitions.
type Ledger interface {
	// Create stores a new record. ErrChunkExists on a duplicate index.
	Create(ctx context.Context, rec *ChunkRecord) error

	// Get returns the record for one chunk.
	Get(ctx context.Context, documentID string, chunkIndex int) (*ChunkRecord, error)

	// Transition atomically moves a chunk from one of the allowed statuses
	// to the target status, applying mutations under the same CAS.
	//
	// If the stored status is not in fromAllowed: returns ErrAlreadyClaimed
	// when the target is processing (a lost claim race), ErrInvalidTransition
	// otherwise. A retry transition to pending with no budget left returns
	// ErrRetriesExhausted. Returns the updated record on success.
	Transition(ctx context.Context, documentID string, chunkIndex int, fromAllowed []Status, to Status, muts ...Mutation) (*ChunkRecord, error)

	// Heartbeat refreshes the liveness timestamp of a processing chunk.
	Heartbeat(ctx context.Context, documentID string, chunkIndex int) error

	// ListForDocument returns all records for a document, ordered by index.
	ListForDocument(ctx context.Context, documentID string) ([]*ChunkRecord, error)

	// FindStale returns processing chunks whose heartbeat is older than
	// the threshold. Used by the coordinator for crash recovery.
	FindStale(ctx context.Context, documentID string, threshold time.Duration) ([]*ChunkRecord, error)
}

// checkTransition applies the shared CAS rules to a loaded record.
// Implementations call it with the stored record before writing.
func checkTransition(rec *ChunkRecord, fromAllowed []Status, to Status) error {
	inFrom := false
	for _, f := range fromAllowed {
		if rec.Status == f {
			inFrom = true
			break
		}
	}
	if !inFrom {
		if to == StatusProcessing {
			return ErrAlreadyClaimed
		}
		return ErrInvalidTransition
	}
	if !transitionAllowed(rec.Status, to) {
		return ErrInvalidTransition
	}
	// Retry transitions consume budget; refuse once it is spent.
	if to == StatusPending && rec.RetryCount >= rec.MaxRetries {
		return ErrRetriesExhausted
	}
	return nil
}

package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-process Ledger. It backs single-node runs and
// tests; CAS semantics are enforced under one mutex.
type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]*ChunkRecord
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]*ChunkRecord)}
}

func recordKey(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s/%d", documentID, chunkIndex)
}

func (l *MemoryLedger) Create(ctx context.Context, rec *ChunkRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := recordKey(rec.DocumentID, rec.ChunkIndex)
	if _, ok := l.records[key]; ok {
		return fmt.Errorf("%w: %s chunk %d", ErrChunkExists, rec.DocumentID, rec.ChunkIndex)
	}
	cp := *rec
	l.records[key] = &cp
	return nil
}

func (l *MemoryLedger) Get(ctx context.Context, documentID string, chunkIndex int) (*ChunkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[recordKey(documentID, chunkIndex)]
	if !ok {
		return nil, fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}
	cp := *rec
	return &cp, nil
}

func (l *MemoryLedger) Transition(ctx context.Context, documentID string, chunkIndex int, fromAllowed []Status, to Status, muts ...Mutation) (*ChunkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[recordKey(documentID, chunkIndex)]
	if !ok {
		return nil, fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}
	if err := checkTransition(rec, fromAllowed, to); err != nil {
		return nil, fmt.Errorf("%s chunk %d (%s→%s): %w", documentID, chunkIndex, rec.Status, to, err)
	}

	for _, m := range muts {
		m(rec)
	}
	rec.Status = to
	now := time.Now().UTC()
	rec.UpdatedAt = now
	if to == StatusProcessing {
		rec.HeartbeatAt = now
	}

	cp := *rec
	return &cp, nil
}

func (l *MemoryLedger) Heartbeat(ctx context.Context, documentID string, chunkIndex int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[recordKey(documentID, chunkIndex)]
	if !ok {
		return fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}
	rec.HeartbeatAt = time.Now().UTC()
	return nil
}

func (l *MemoryLedger) ListForDocument(ctx context.Context, documentID string) ([]*ChunkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*ChunkRecord
	for _, rec := range l.records {
		if rec.DocumentID == documentID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (l *MemoryLedger) FindStale(ctx context.Context, documentID string, threshold time.Duration) ([]*ChunkRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var out []*ChunkRecord
	for _, rec := range l.records {
		if rec.DocumentID != documentID || rec.Status != StatusProcessing {
			continue
		}
		if rec.HeartbeatAt.Before(cutoff) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

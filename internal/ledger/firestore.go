package ledger

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreLedger stores chunk records in Firestore. Transitions run inside
// Firestore transactions, which gives the CAS guarantee across processes.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreLedger creates a ledger over the given collection.
// Records live at <collection>/<documentID>/chunks/<chunkIndex>.
func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreLedger{client: client, collection: collection}
}

func (l *FirestoreLedger) chunkRef(documentID string, chunkIndex int) *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(documentID).Collection("chunks").Doc(strconv.Itoa(chunkIndex))
}

func (l *FirestoreLedger) Create(ctx context.Context, rec *ChunkRecord) error {
	_, err := l.chunkRef(rec.DocumentID, rec.ChunkIndex).Create(ctx, rec)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s chunk %d", ErrChunkExists, rec.DocumentID, rec.ChunkIndex)
	}
	if err != nil {
		return fmt.Errorf("create chunk record: %w", err)
	}
	return nil
}

func (l *FirestoreLedger) Get(ctx context.Context, documentID string, chunkIndex int) (*ChunkRecord, error) {
	snap, err := l.chunkRef(documentID, chunkIndex).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk record: %w", err)
	}
	var rec ChunkRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode chunk record: %w", err)
	}
	return &rec, nil
}

func (l *FirestoreLedger) Transition(ctx context.Context, documentID string, chunkIndex int, fromAllowed []Status, to Status, muts ...Mutation) (*ChunkRecord, error) {
	ref := l.chunkRef(documentID, chunkIndex)
	var updated ChunkRecord

	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
		}
		if err != nil {
			return err
		}
		var rec ChunkRecord
		if err := snap.DataTo(&rec); err != nil {
			return fmt.Errorf("decode chunk record: %w", err)
		}
		if err := checkTransition(&rec, fromAllowed, to); err != nil {
			return fmt.Errorf("%s chunk %d (%s→%s): %w", documentID, chunkIndex, rec.Status, to, err)
		}

		for _, m := range muts {
			m(&rec)
		}
		rec.Status = to
		now := time.Now().UTC()
		rec.UpdatedAt = now
		if to == StatusProcessing {
			rec.HeartbeatAt = now
		}
		updated = rec
		return tx.Set(ref, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (l *FirestoreLedger) Heartbeat(ctx context.Context, documentID string, chunkIndex int) error {
	_, err := l.chunkRef(documentID, chunkIndex).Update(ctx, []firestore.Update{
		{Path: "HeartbeatAt", Value: time.Now().UTC()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, documentID, chunkIndex)
	}
	return err
}

func (l *FirestoreLedger) ListForDocument(ctx context.Context, documentID string) ([]*ChunkRecord, error) {
	iter := l.client.Collection(l.collection).Doc(documentID).Collection("chunks").Documents(ctx)
	defer iter.Stop()

	var out []*ChunkRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list chunk records: %w", err)
		}
		var rec ChunkRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode chunk record: %w", err)
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (l *FirestoreLedger) FindStale(ctx context.Context, documentID string, threshold time.Duration) ([]*ChunkRecord, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	iter := l.client.Collection(l.collection).Doc(documentID).Collection("chunks").
		Where("Status", "==", string(StatusProcessing)).
		Where("HeartbeatAt", "<", cutoff).
		Documents(ctx)
	defer iter.Stop()

	var out []*ChunkRecord
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query stale chunks: %w", err)
		}
		var rec ChunkRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode chunk record: %w", err)
		}
		out = append(out, &rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

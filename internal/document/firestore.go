package document

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore persists documents in a Firestore collection, one
// document record per Firestore document keyed by ID.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a Firestore-backed document store.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Create(ctx context.Context, doc *Document) error {
	cp := *doc
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	_, err := s.docRef(doc.ID).Create(ctx, &cp)
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to create document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*Document, error) {
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}

	var doc Document
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
}

// Update applies the mutations in a transaction so concurrent coordinator
// and reconciler updates cannot interleave.
func (s *FirestoreStore) Update(ctx context.Context, id string, updates ...Update) (*Document, error) {
	var out *Document
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(s.docRef(id))
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		if err != nil {
			return err
		}

		var doc Document
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", id, err)
		}
		for _, u := range updates {
			u(&doc)
		}
		doc.UpdatedAt = time.Now().UTC()
		out = &doc
		return tx.Set(s.docRef(id), &doc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *FirestoreStore) List(ctx context.Context) ([]*Document, error) {
	iter := s.client.Collection(s.collection).OrderBy("created_at", firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []*Document
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list documents: %w", err)
		}
		var doc Document
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &doc)
	}
	return out, nil
}

package coord

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore implements Store over Firestore transactions. Leases and
// counters are plain documents; expiry is checked against wall-clock time
// inside the transaction rather than relying on TTL policies.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a store over the given collection.
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "coordination"
	}
	return &FirestoreStore{client: client, collection: collection}
}

type leaseDoc struct {
	Owner     string    `firestore:"owner"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

type counterDoc struct {
	Value     int64     `firestore:"value"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

func (s *FirestoreStore) leaseRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc("lease-" + key)
}

func (s *FirestoreStore) counterRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc("counter-" + key)
}

func (s *FirestoreStore) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	ref := s.leaseRef(key)
	var out Lease

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			var cur leaseDoc
			if derr := snap.DataTo(&cur); derr != nil {
				return fmt.Errorf("decode lease: %w", derr)
			}
			if cur.Owner != owner && now.Before(cur.ExpiresAt) {
				return fmt.Errorf("%w: %s held by %s", ErrLeaseHeld, key, cur.Owner)
			}
		}
		out = Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl)}
		return tx.Set(ref, leaseDoc{Owner: owner, ExpiresAt: out.ExpiresAt})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *FirestoreStore) RenewLease(ctx context.Context, key, owner string, ttl time.Duration) (*Lease, error) {
	ref := s.leaseRef(key)
	var out Lease

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrLeaseLost, key)
		}
		if err != nil {
			return err
		}
		var cur leaseDoc
		if derr := snap.DataTo(&cur); derr != nil {
			return fmt.Errorf("decode lease: %w", derr)
		}
		if cur.Owner != owner || !now.Before(cur.ExpiresAt) {
			return fmt.Errorf("%w: %s", ErrLeaseLost, key)
		}
		out = Lease{Key: key, Owner: owner, ExpiresAt: now.Add(ttl)}
		return tx.Set(ref, leaseDoc{Owner: owner, ExpiresAt: out.ExpiresAt})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *FirestoreStore) ReleaseLease(ctx context.Context, key, owner string) error {
	ref := s.leaseRef(key)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var cur leaseDoc
		if derr := snap.DataTo(&cur); derr != nil {
			return fmt.Errorf("decode lease: %w", derr)
		}
		if cur.Owner != owner {
			return nil
		}
		return tx.Delete(ref)
	})
}

func (s *FirestoreStore) IncrIfBelow(ctx context.Context, key string, limit int64, ttl time.Duration) (bool, error) {
	ref := s.counterRef(key)
	applied := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		now := time.Now().UTC()

		var cur counterDoc
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}
		if err == nil {
			if derr := snap.DataTo(&cur); derr != nil {
				return fmt.Errorf("decode counter: %w", derr)
			}
		}
		if !now.Before(cur.ExpiresAt) {
			cur = counterDoc{ExpiresAt: now.Add(ttl)}
		}
		if cur.Value >= limit {
			return nil
		}
		cur.Value++
		applied = true
		return tx.Set(ref, cur)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *FirestoreStore) GetCounter(ctx context.Context, key string) (int64, error) {
	snap, err := s.counterRef(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var cur counterDoc
	if err := snap.DataTo(&cur); err != nil {
		return 0, fmt.Errorf("decode counter: %w", err)
	}
	if !time.Now().UTC().Before(cur.ExpiresAt) {
		return 0, nil
	}
	return cur.Value, nil
}

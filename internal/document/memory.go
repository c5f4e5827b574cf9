package document

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process document store for single-host runs and
// tests.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*Document
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func (s *MemoryStore) Create(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}

	cp := *doc
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.docs[doc.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, updates ...Update) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	for _, u := range updates {
		u(doc)
	}
	doc.UpdatedAt = time.Now().UTC()
	cp := *doc
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Document, 0, len(s.docs))
	for _, doc := range s.docs {
		cp := *doc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

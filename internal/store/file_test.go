package store

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/providers"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), slog.Default())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return s
}

func TestFileStoreChunkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := &providers.ChunkResult{
		ChunkIndex: 2,
		PageCount:  30,
		Blocks: []providers.Block{
			{LocalPage: 1, Text: "hello", Region: providers.Region{X2: 10, Y2: 10}, Confidence: 0.95},
		},
	}

	ref, err := s.PutChunkResult(ctx, "doc-1", res)
	if err != nil {
		t.Fatalf("PutChunkResult() error = %v", err)
	}

	got, err := s.GetChunkResult(ctx, ref)
	if err != nil {
		t.Fatalf("GetChunkResult() error = %v", err)
	}
	if got.ChunkIndex != 2 || got.PageCount != 30 || len(got.Blocks) != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Blocks[0].Text != "hello" {
		t.Errorf("block text = %q", got.Blocks[0].Text)
	}
}

func TestFileStoreIdempotentWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := &providers.ChunkResult{ChunkIndex: 0, PageCount: 5}
	ref1, err := s.PutChunkResult(ctx, "doc-1", res)
	if err != nil {
		t.Fatalf("first put error = %v", err)
	}
	// A duplicate worker storing the same chunk must not fail.
	ref2, err := s.PutChunkResult(ctx, "doc-1", res)
	if err != nil {
		t.Fatalf("second put error = %v", err)
	}
	if ref1 != ref2 {
		t.Errorf("refs differ: %s vs %s", ref1, ref2)
	}
}

func TestFileStoreMergedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res := &merge.MergedDocumentResult{
		DocumentID: "doc-9",
		TotalPages: 125,
		ChunkCount: 5,
		Blocks: []merge.MergedBlock{
			{Page: 1, ReadingOrder: 0, Text: "first", Confidence: 0.9},
		},
		MergedAt: time.Now().UTC(),
	}

	ref, err := s.PutMergedResult(ctx, res)
	if err != nil {
		t.Fatalf("PutMergedResult() error = %v", err)
	}

	got, err := s.GetMergedResult(ctx, ref)
	if err != nil {
		t.Fatalf("GetMergedResult() error = %v", err)
	}
	if got.DocumentID != "doc-9" || got.TotalPages != 125 || got.ChunkCount != 5 {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestFileStoreNotFound(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetChunkResult(context.Background(), "chunks/none/0.json"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
	if _, err := s.GetMergedResult(context.Background(), "merged/none.json"); !errors.Is(err, ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
}

package merge

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/providers"
	"github.com/scanforge/scanforge/internal/split"
)

// memFetcher serves chunk results from a map keyed by result ref.
type memFetcher struct {
	results map[string]*providers.ChunkResult
}

func (f *memFetcher) GetChunkResult(_ context.Context, ref string) (*providers.ChunkResult, error) {
	res, ok := f.results[ref]
	if !ok {
		return nil, fmt.Errorf("no result at %s", ref)
	}
	return res, nil
}

// buildCompleted fabricates completed records and results for a document
// of totalPages split with the given options, blocksPerPage blocks each.
func buildCompleted(t *testing.T, docID string, totalPages, blocksPerPage int, opts split.Options) ([]*ledger.ChunkRecord, *memFetcher) {
	t.Helper()

	specs, err := split.Plan(docID, totalPages, opts)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	fetch := &memFetcher{results: make(map[string]*providers.ChunkResult)}
	recs := make([]*ledger.ChunkRecord, 0, len(specs))
	for _, spec := range specs {
		rec := ledger.NewRecord(spec, 3)
		rec.Status = ledger.StatusCompleted
		rec.ResultRef = fmt.Sprintf("results/%s/%d.json", docID, spec.ChunkIndex)

		res := &providers.ChunkResult{ChunkIndex: spec.ChunkIndex, PageCount: spec.PageCount}
		for page := 1; page <= spec.PageCount; page++ {
			for b := 0; b < blocksPerPage; b++ {
				res.Blocks = append(res.Blocks, providers.Block{
					LocalPage:  page,
					Text:       fmt.Sprintf("chunk %d page %d block %d", spec.ChunkIndex, page, b),
					Confidence: 0.9,
				})
			}
		}
		fetch.results[rec.ResultRef] = res
		recs = append(recs, rec)
	}
	return recs, fetch
}

func TestMergeRemapsPages(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-1", 95, 2, split.Options{TargetPages: 30, MinPages: 10})

	res, err := Merge(context.Background(), "doc-1", 95, recs, fetch)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}

	if res.ChunkCount != 3 {
		t.Fatalf("chunk count = %d, want 3", res.ChunkCount)
	}
	if want := 95 * 2; len(res.Blocks) != want {
		t.Fatalf("blocks = %d, want %d", len(res.Blocks), want)
	}

	// Absolute page numbers must cover 1..95 with 2 blocks each, and the
	// reading order must be dense and aligned with page order.
	perPage := make(map[int]int)
	for i, b := range res.Blocks {
		perPage[b.Page]++
		if b.ReadingOrder != i {
			t.Fatalf("reading order at %d = %d", i, b.ReadingOrder)
		}
	}
	for page := 1; page <= 95; page++ {
		if perPage[page] != 2 {
			t.Errorf("page %d has %d blocks, want 2", page, perPage[page])
		}
	}

	if len(res.Pages) != 95 {
		t.Errorf("page stats = %d entries, want 95", len(res.Pages))
	}
	for _, st := range res.Pages {
		if st.MeanConfidence != 0.9 {
			t.Errorf("page %d mean confidence = %v", st.Page, st.MeanConfidence)
		}
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-2", 125, 1, split.Options{TargetPages: 30, MinPages: 5})

	rand.New(rand.NewSource(7)).Shuffle(len(recs), func(i, j int) {
		recs[i], recs[j] = recs[j], recs[i]
	})

	res, err := Merge(context.Background(), "doc-2", 125, recs, fetch)
	if err != nil {
		t.Fatalf("Merge() error = %v", err)
	}
	if res.ChunkCount != 5 {
		t.Fatalf("chunk count = %d, want 5", res.ChunkCount)
	}
	for i, b := range res.Blocks {
		if b.Page != i+1 {
			t.Fatalf("block %d on page %d, want %d", i, b.Page, i+1)
		}
	}
}

func TestMergeRejectsFailedChunk(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-3", 95, 1, split.Options{TargetPages: 30, MinPages: 10})
	recs[1].Status = ledger.StatusFailed
	recs[1].Error = "provider exploded"

	_, err := Merge(context.Background(), "doc-3", 95, recs, fetch)
	if !errors.Is(err, ErrMergeValidation) {
		t.Fatalf("err = %v, want ErrMergeValidation", err)
	}
	if !strings.Contains(err.Error(), "chunk 1") || !strings.Contains(err.Error(), "pages 31-60") {
		t.Errorf("error should name the failed chunk and page range: %v", err)
	}
}

func TestMergeRejectsMissingChunk(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-4", 95, 1, split.Options{TargetPages: 30, MinPages: 10})

	_, err := Merge(context.Background(), "doc-4", 95, recs[:2], fetch)
	if !errors.Is(err, ErrMergeValidation) {
		t.Fatalf("err = %v, want ErrMergeValidation", err)
	}
}

func TestMergeRejectsOutOfRangeBlock(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-5", 60, 1, split.Options{TargetPages: 30, MinPages: 10})
	res := fetch.results[recs[0].ResultRef]
	res.Blocks[0].LocalPage = 99

	_, err := Merge(context.Background(), "doc-5", 60, recs, fetch)
	if !errors.Is(err, ErrMergeValidation) {
		t.Fatalf("err = %v, want ErrMergeValidation", err)
	}
}

func TestMergeRejectsPageCountMismatch(t *testing.T) {
	recs, fetch := buildCompleted(t, "doc-6", 60, 1, split.Options{TargetPages: 30, MinPages: 10})
	fetch.results[recs[1].ResultRef].PageCount = 7

	_, err := Merge(context.Background(), "doc-6", 60, recs, fetch)
	if !errors.Is(err, ErrMergeValidation) {
		t.Fatalf("err = %v, want ErrMergeValidation", err)
	}
}

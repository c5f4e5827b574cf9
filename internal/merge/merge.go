// Package merge assembles per-chunk OCR results into one ordered,
// page-correct document result.
//
// The merger is the sole writer of final output. It either produces a
// fully validated result or nothing: any failed chunk or invariant
// violation discards the merge in full, so partial or corrupt output can
// never reach storage.
package merge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/scanforge/scanforge/internal/ledger"
	"github.com/scanforge/scanforge/internal/providers"
)

// ErrMergeValidation is returned when the chunk set cannot produce a valid
// merged document. The error text names the offending chunks and page
// ranges; the caller must treat the whole document as failed.
var ErrMergeValidation = errors.New("merge validation failed")

// MergedBlock is one extracted block with document-global numbering.
type MergedBlock struct {
	// Page is the absolute page number, 1-based.
	Page int `json:"page"`

	// ReadingOrder is the document-global reading order index, 0-based,
	// dense across the whole document.
	ReadingOrder int `json:"reading_order"`

	Text       string           `json:"text"`
	Region     providers.Region `json:"region"`
	Confidence float64          `json:"confidence"`
}

// PageStats aggregates confidence per absolute page.
type PageStats struct {
	Page           int     `json:"page"`
	BlockCount     int     `json:"block_count"`
	MeanConfidence float64 `json:"mean_confidence"`
}

// MergedDocumentResult is the final document representation. It is
// immutable once returned by the merger.
type MergedDocumentResult struct {
	DocumentID string        `json:"document_id"`
	TotalPages int           `json:"total_pages"`
	ChunkCount int           `json:"chunk_count"`
	Blocks     []MergedBlock `json:"blocks"`
	Pages      []PageStats   `json:"pages"`
	MergedAt   time.Time     `json:"merged_at"`
}

// ResultFetcher resolves a ledger result reference to the stored chunk
// output. Implemented by the result store.
type ResultFetcher interface {
	GetChunkResult(ctx context.Context, ref string) (*providers.ChunkResult, error)
}

// Merge combines the terminal chunk records of one document. Records must
// cover every chunk; all must be completed. Chunks are processed in index
// order and each chunk's blocks are remapped by its page offset, so the
// output ordering never depends on worker completion order.
func Merge(ctx context.Context, documentID string, totalPages int, recs []*ledger.ChunkRecord, fetch ResultFetcher) (*MergedDocumentResult, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no chunk records for document %s", ErrMergeValidation, documentID)
	}

	ordered := make([]*ledger.ChunkRecord, len(recs))
	copy(ordered, recs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ChunkIndex < ordered[j].ChunkIndex })

	// Refuse to merge around missing data. A failed or unfinished chunk
	// means the document failed; the error names the page ranges so the
	// failure report is never generic.
	var bad []string
	for i, rec := range ordered {
		if rec.ChunkIndex != i {
			return nil, fmt.Errorf("%w: chunk index %d missing for document %s", ErrMergeValidation, i, documentID)
		}
		if rec.Status != ledger.StatusCompleted {
			bad = append(bad, fmt.Sprintf("chunk %d (pages %d-%d, status %s)", rec.ChunkIndex, rec.StartPage, rec.EndPage, rec.Status))
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%w: document %s has unprocessed chunks: %s", ErrMergeValidation, documentID, strings.Join(bad, ", "))
	}

	out := &MergedDocumentResult{
		DocumentID: documentID,
		TotalPages: totalPages,
		ChunkCount: len(ordered),
		MergedAt:   time.Now().UTC(),
	}

	readingOrder := 0
	for _, rec := range ordered {
		res, err := fetch.GetChunkResult(ctx, rec.ResultRef)
		if err != nil {
			return nil, fmt.Errorf("%w: chunk %d result %q unreadable: %v", ErrMergeValidation, rec.ChunkIndex, rec.ResultRef, err)
		}
		if res.PageCount != rec.PageCount {
			return nil, fmt.Errorf("%w: chunk %d reported %d pages, spec has %d", ErrMergeValidation, rec.ChunkIndex, res.PageCount, rec.PageCount)
		}

		offset := rec.StartPage - 1
		for _, b := range res.Blocks {
			if b.LocalPage < 1 || b.LocalPage > rec.PageCount {
				return nil, fmt.Errorf("%w: chunk %d block on local page %d outside 1..%d", ErrMergeValidation, rec.ChunkIndex, b.LocalPage, rec.PageCount)
			}
			out.Blocks = append(out.Blocks, MergedBlock{
				Page:         offset + b.LocalPage,
				ReadingOrder: readingOrder,
				Text:         b.Text,
				Region:       b.Region,
				Confidence:   b.Confidence,
			})
			readingOrder++
		}
	}

	if err := validate(out); err != nil {
		return nil, err
	}

	out.Pages = pageStats(out.Blocks)
	return out, nil
}

// validate asserts the document-level invariants: every absolute page in
// bounds, blocks strictly ordered by (page, reading order).
func validate(res *MergedDocumentResult) error {
	prevPage, prevOrder := 0, -1
	for _, b := range res.Blocks {
		if b.Page < 1 || b.Page > res.TotalPages {
			return fmt.Errorf("%w: block at reading order %d on page %d outside 1..%d", ErrMergeValidation, b.ReadingOrder, b.Page, res.TotalPages)
		}
		if b.Page < prevPage {
			return fmt.Errorf("%w: page order regresses at reading order %d (%d after %d)", ErrMergeValidation, b.ReadingOrder, b.Page, prevPage)
		}
		if b.ReadingOrder != prevOrder+1 {
			return fmt.Errorf("%w: reading order not dense at %d", ErrMergeValidation, b.ReadingOrder)
		}
		prevPage, prevOrder = b.Page, b.ReadingOrder
	}
	return nil
}

func pageStats(blocks []MergedBlock) []PageStats {
	byPage := make(map[int]*PageStats)
	var pages []int
	sums := make(map[int]float64)

	for _, b := range blocks {
		st, ok := byPage[b.Page]
		if !ok {
			st = &PageStats{Page: b.Page}
			byPage[b.Page] = st
			pages = append(pages, b.Page)
		}
		st.BlockCount++
		sums[b.Page] += b.Confidence
	}

	sort.Ints(pages)
	out := make([]PageStats, 0, len(pages))
	for _, p := range pages {
		st := byPage[p]
		st.MeanConfidence = sums[p] / float64(st.BlockCount)
		out = append(out, *st)
	}
	return out
}

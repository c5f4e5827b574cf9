// Package split partitions a document's pages into bounded, contiguous
// chunk specifications for independent OCR processing.
package split

import (
	"errors"
	"fmt"
)

// ErrInvalidDocument is returned when a document cannot be split
// (zero or negative page count, bad options). It is fatal and not retried.
var ErrInvalidDocument = errors.New("invalid document")

const (
	// DefaultTargetPages is the default chunk size in pages.
	DefaultTargetPages = 30

	// DefaultMinPages is the smallest chunk the planner will emit.
	// A trailing remainder smaller than this is absorbed into the
	// previous chunk instead of becoming its own chunk.
	DefaultMinPages = 10
)

// ChunkSpec describes one contiguous page range of a document.
// Page numbers are 1-indexed and inclusive on both ends.
type ChunkSpec struct {
	DocumentID string `json:"document_id"`
	ChunkIndex int    `json:"chunk_index"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	PageCount  int    `json:"page_count"`
}

// Offset returns the number of pages preceding this chunk, i.e. the
// value added to a chunk-local page number to get the absolute page.
func (s ChunkSpec) Offset() int {
	return s.StartPage - 1
}

// Options configures the planner.
type Options struct {
	// TargetPages is the desired chunk size. Defaults to DefaultTargetPages.
	TargetPages int

	// MinPages is the minimum size of the final chunk. Defaults to
	// DefaultMinPages. Must not exceed TargetPages.
	MinPages int
}

func (o *Options) applyDefaults() {
	if o.TargetPages <= 0 {
		o.TargetPages = DefaultTargetPages
	}
	if o.MinPages <= 0 {
		o.MinPages = DefaultMinPages
	}
	if o.MinPages > o.TargetPages {
		o.MinPages = o.TargetPages
	}
}

// Plan partitions totalPages into contiguous, non-overlapping chunk specs
// covering pages 1..totalPages. The page counts of the returned specs always
// sum to totalPages. Plan is pure and deterministic: identical inputs yield
// identical specs.
func Plan(documentID string, totalPages int, opts Options) ([]ChunkSpec, error) {
	if totalPages <= 0 {
		return nil, fmt.Errorf("%w: total pages %d", ErrInvalidDocument, totalPages)
	}
	opts.applyDefaults()

	specs := make([]ChunkSpec, 0, totalPages/opts.TargetPages+1)
	start := 1
	for start <= totalPages {
		end := start + opts.TargetPages - 1
		if end > totalPages {
			end = totalPages
		}

		// If the remainder after this chunk would be an undersized tail,
		// absorb it here rather than emitting an extra small chunk.
		remaining := totalPages - end
		if remaining > 0 && remaining < opts.MinPages {
			end = totalPages
		}

		specs = append(specs, ChunkSpec{
			DocumentID: documentID,
			ChunkIndex: len(specs),
			StartPage:  start,
			EndPage:    end,
			PageCount:  end - start + 1,
		})
		start = end + 1
	}

	return specs, nil
}

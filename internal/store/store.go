// Package store persists chunk and merged document results. Chunk outputs
// are written once by the winning worker and addressed by an opaque result
// reference recorded in the chunk ledger; the merger reads them back by
// that reference.
package store

import (
	"context"
	"errors"

	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/providers"
)

// ErrResultNotFound is returned when a result reference resolves to nothing.
var ErrResultNotFound = errors.New("result not found")

// ResultStore reads and writes OCR results.
//
// PutChunkResult returns the reference under which the result was stored;
// callers record it on the ledger entry. Writes for the same chunk are
// idempotent: a duplicate worker writing the same chunk overwrites with
// equivalent content rather than failing.
type ResultStore interface {
	PutChunkResult(ctx context.Context, documentID string, res *providers.ChunkResult) (string, error)
	GetChunkResult(ctx context.Context, ref string) (*providers.ChunkResult, error)

	PutMergedResult(ctx context.Context, res *merge.MergedDocumentResult) (string, error)
	GetMergedResult(ctx context.Context, ref string) (*merge.MergedDocumentResult, error)
}

// Package providers defines the external OCR capability interface and its
// implementations. The pipeline core treats a provider as a black box: any
// error or timeout from ProcessChunk is a failed attempt for that chunk.
package providers

import (
	"context"
	"time"
)

// TesseractName is the identifier of the local Tesseract provider.
// Declared here because the provider itself is built per cgo tag.
const TesseractName = "tesseract"

// OCRProvider extracts text from one chunk of page images.
type OCRProvider interface {
	// Name returns the provider identifier (e.g. "tesseract", "openai").
	Name() string

	// ProcessChunk runs OCR over the chunk's pages and returns the
	// extracted blocks in reading order. Implementations must respect
	// context cancellation; the caller wraps the call in the per-chunk
	// timeout.
	ProcessChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error)

	// Retry characteristics for the worker's backoff loop.
	MaxRetries() int
	RetryDelayBase() time.Duration
}

// PageImage is one rendered page of a chunk.
type PageImage struct {
	// LocalPage is the chunk-local page number, 1-based.
	LocalPage int

	// PNG is the rendered page image.
	PNG []byte
}

// ChunkRequest carries one chunk's pages to a provider.
type ChunkRequest struct {
	DocumentID string
	ChunkIndex int
	Pages      []PageImage
}

// Region is a bounding box on a page, in pixel coordinates of the
// rendered page image.
type Region struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Block is one extracted text block with its location and confidence.
type Block struct {
	// LocalPage is the chunk-local page the block appears on, 1-based.
	LocalPage int `json:"local_page"`

	Text       string  `json:"text"`
	Region     Region  `json:"region"`
	Confidence float64 `json:"confidence"`
}

// ChunkResult is the immutable output of one successful chunk execution.
// Blocks are ordered by (LocalPage, reading order within the page).
type ChunkResult struct {
	ChunkIndex int     `json:"chunk_index"`
	PageCount  int     `json:"page_count"`
	Blocks     []Block `json:"blocks"`
}

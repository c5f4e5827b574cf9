// Package document tracks documents through the processing pipeline.
package document

import (
	"context"
	"errors"
	"time"
)

// State is the document-level lifecycle state. Chunk-level state lives in
// the chunk ledger; this is the coarse view the API reports.
type State string

const (
	StateIngested           State = "ingested"
	StateSplitting          State = "splitting"
	StateDispatched         State = "dispatched"
	StateAwaitingCompletion State = "awaiting_completion"
	StateMerging            State = "merging"
	StateDone               State = "done"
	StateFailed             State = "failed"
)

// Terminal reports whether the document will not change state again.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

// Document is one submitted document and its pipeline progress.
type Document struct {
	ID        string `json:"id" firestore:"id"`
	Title     string `json:"title" firestore:"title"`
	PageCount int    `json:"page_count" firestore:"page_count"`

	// SourcePath is where the ingested PDF lives; PagesDir holds the
	// rendered page images.
	SourcePath string `json:"source_path,omitempty" firestore:"source_path"`
	PagesDir   string `json:"pages_dir,omitempty" firestore:"pages_dir"`

	State      State  `json:"state" firestore:"state"`
	ChunkCount int    `json:"chunk_count,omitempty" firestore:"chunk_count"`
	ResultRef  string `json:"result_ref,omitempty" firestore:"result_ref"`
	Error      string `json:"error,omitempty" firestore:"error"`

	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

// Update mutates a document inside a store update.
type Update func(*Document)

func WithState(s State) Update {
	return func(d *Document) { d.State = s }
}

func WithChunkCount(n int) Update {
	return func(d *Document) { d.ChunkCount = n }
}

func WithResultRef(ref string) Update {
	return func(d *Document) { d.ResultRef = ref }
}

func WithError(msg string) Update {
	return func(d *Document) {
		d.State = StateFailed
		d.Error = msg
	}
}

// Store persists documents. Update applies the mutations atomically and
// bumps UpdatedAt.
type Store interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	Update(ctx context.Context, id string, updates ...Update) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
}

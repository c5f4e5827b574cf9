package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/providers"
)

// FileStore persists results as JSON files under a root directory,
// typically the scanforge home. References are paths relative to the root.
type FileStore struct {
	root   string
	logger *slog.Logger
}

// NewFileStore creates a file-backed result store rooted at dir.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, sub := range []string{"chunks", "merged"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create results directory: %w", err)
		}
	}
	return &FileStore{root: dir, logger: logger}, nil
}

// PutChunkResult writes one chunk's output. The write is staged in a temp
// file and renamed so a crashed writer never leaves a truncated result
// behind for the merger to read.
func (s *FileStore) PutChunkResult(ctx context.Context, documentID string, res *providers.ChunkResult) (string, error) {
	ref := filepath.Join("chunks", documentID, fmt.Sprintf("%d.json", res.ChunkIndex))
	if err := s.writeJSON(ctx, ref, res); err != nil {
		return "", err
	}
	s.logger.Debug("stored chunk result",
		"document_id", documentID,
		"chunk_index", res.ChunkIndex,
		"ref", ref)
	return ref, nil
}

// GetChunkResult reads a chunk result by reference.
func (s *FileStore) GetChunkResult(ctx context.Context, ref string) (*providers.ChunkResult, error) {
	var res providers.ChunkResult
	if err := s.readJSON(ctx, ref, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PutMergedResult writes the final merged document.
func (s *FileStore) PutMergedResult(ctx context.Context, res *merge.MergedDocumentResult) (string, error) {
	ref := filepath.Join("merged", res.DocumentID+".json")
	if err := s.writeJSON(ctx, ref, res); err != nil {
		return "", err
	}
	s.logger.Info("stored merged result",
		"document_id", res.DocumentID,
		"blocks", len(res.Blocks),
		"ref", ref)
	return ref, nil
}

// GetMergedResult reads a merged document by reference.
func (s *FileStore) GetMergedResult(ctx context.Context, ref string) (*merge.MergedDocumentResult, error) {
	var res merge.MergedDocumentResult
	if err := s.readJSON(ctx, ref, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *FileStore) writeJSON(ctx context.Context, ref string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to stage result: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close result file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize result: %w", err)
	}
	return nil
}

func (s *FileStore) readJSON(ctx context.Context, ref string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := filepath.Join(s.root, filepath.FromSlash(ref))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrResultNotFound, ref)
	}
	if err != nil {
		return fmt.Errorf("failed to read result %s: %w", ref, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode result %s: %w", ref, err)
	}
	return nil
}

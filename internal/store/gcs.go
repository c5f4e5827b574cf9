package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/storage"
	"github.com/avast/retry-go/v4"

	"github.com/scanforge/scanforge/internal/merge"
	"github.com/scanforge/scanforge/internal/providers"
)

// GCSStore persists results as JSON objects in a Cloud Storage bucket.
// References are object names. Used when workers run on multiple hosts
// and a local results directory cannot be shared.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewGCSStore creates a result store backed by the given bucket. prefix is
// prepended to every object name and may be empty.
func NewGCSStore(client *storage.Client, bucket, prefix string, logger *slog.Logger) *GCSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// PutChunkResult uploads one chunk's output.
func (s *GCSStore) PutChunkResult(ctx context.Context, documentID string, res *providers.ChunkResult) (string, error) {
	ref := s.objectName("chunks", documentID, fmt.Sprintf("%d.json", res.ChunkIndex))
	if err := s.upload(ctx, ref, res); err != nil {
		return "", err
	}
	s.logger.Debug("uploaded chunk result",
		"document_id", documentID,
		"chunk_index", res.ChunkIndex,
		"object", ref)
	return ref, nil
}

// GetChunkResult downloads a chunk result by object name.
func (s *GCSStore) GetChunkResult(ctx context.Context, ref string) (*providers.ChunkResult, error) {
	var res providers.ChunkResult
	if err := s.download(ctx, ref, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PutMergedResult uploads the final merged document.
func (s *GCSStore) PutMergedResult(ctx context.Context, res *merge.MergedDocumentResult) (string, error) {
	ref := s.objectName("merged", res.DocumentID+".json")
	if err := s.upload(ctx, ref, res); err != nil {
		return "", err
	}
	s.logger.Info("uploaded merged result",
		"document_id", res.DocumentID,
		"blocks", len(res.Blocks),
		"object", ref)
	return ref, nil
}

// GetMergedResult downloads a merged document by object name.
func (s *GCSStore) GetMergedResult(ctx context.Context, ref string) (*merge.MergedDocumentResult, error) {
	var res merge.MergedDocumentResult
	if err := s.download(ctx, ref, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *GCSStore) objectName(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return path.Join(parts...)
}

// upload writes the object with bounded retries. GCS writes are atomic per
// object, so a retried upload can only replace a complete previous version.
func (s *GCSStore) upload(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	return retry.Do(
		func() error {
			wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			w := s.client.Bucket(s.bucket).Object(name).NewWriter(wctx)
			w.ContentType = "application/json"
			if _, err := w.Write(data); err != nil {
				w.Close()
				return fmt.Errorf("failed to write object %s: %w", name, err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("failed to finalize object %s: %w", name, err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(4),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("retrying result upload",
				"object", name,
				"attempt", n+1,
				"error", err)
		}),
	)
}

func (s *GCSStore) download(ctx context.Context, name string, v any) error {
	r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", ErrResultNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to open object %s: %w", name, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode object %s: %w", name, err)
	}
	return nil
}

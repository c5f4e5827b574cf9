// Package watch ingests PDFs dropped into the scanforge inbox directory
// and submits them for processing automatically.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/home"
	"github.com/scanforge/scanforge/internal/ingest"
	"github.com/scanforge/scanforge/internal/pipeline"
)

// settleInterval is how long a file must stop growing before it is
// considered fully written. Scanners and network copies write large PDFs
// in bursts, so a single CREATE event is not enough.
const settleInterval = 2 * time.Second

// Watcher monitors the inbox directory for new PDFs, ingests each one as
// a document, and submits it to the pipeline coordinator.
type Watcher struct {
	home   *home.Dir
	docs   document.Store
	coord  *pipeline.Coordinator
	logger *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	// seen guards against duplicate events for the same path
	seen map[string]bool
}

// New creates an inbox watcher. Call Start to begin watching.
func New(homeDir *home.Dir, docs document.Store, coord *pipeline.Coordinator, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		home:   homeDir,
		docs:   docs,
		coord:  coord,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// Start begins watching the inbox directory. Existing PDFs in the inbox
// are picked up first, then filesystem events drive further ingestion.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return errors.New("watcher already running")
	}

	inbox := w.home.InboxPath()
	if err := os.MkdirAll(inbox, 0o755); err != nil {
		return fmt.Errorf("failed to create inbox directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	if err := fsw.Add(inbox); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch inbox %s: %w", inbox, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	w.running = true

	w.logger.Info("watching inbox", "dir", inbox)

	go w.run(runCtx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	fsw := w.fsw
	w.mu.Unlock()

	cancel()
	fsw.Close()
	<-done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	// Sweep files that were already sitting in the inbox.
	w.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isPDF(event.Name) {
				continue
			}
			w.mu.Lock()
			already := w.seen[event.Name]
			w.seen[event.Name] = true
			w.mu.Unlock()
			if already {
				continue
			}
			go w.handle(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("inbox watch error", "error", err)
		}
	}
}

// sweep ingests PDFs already present in the inbox at startup.
func (w *Watcher) sweep(ctx context.Context) {
	entries, err := os.ReadDir(w.home.InboxPath())
	if err != nil {
		w.logger.Error("failed to read inbox", "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !isPDF(entry.Name()) {
			continue
		}
		path := filepath.Join(w.home.InboxPath(), entry.Name())
		w.mu.Lock()
		already := w.seen[path]
		w.seen[path] = true
		w.mu.Unlock()
		if already {
			continue
		}
		w.handle(ctx, path)
	}
}

// handle waits for the file to settle, ingests it, and submits the
// resulting document for processing.
func (w *Watcher) handle(ctx context.Context, path string) {
	if err := waitForSettle(ctx, path); err != nil {
		w.logger.Warn("inbox file never settled", "path", path, "error", err)
		w.forget(path)
		return
	}

	w.logger.Info("ingesting inbox file", "path", path)

	res, err := ingest.Ingest(ctx, w.docs, w.home, ingest.Request{
		PDFPaths: []string{path},
		Logger:   w.logger,
	})
	if err != nil {
		w.logger.Error("inbox ingest failed", "path", path, "error", err)
		w.forget(path)
		return
	}

	if err := w.coord.Submit(ctx, res.DocumentID); err != nil {
		w.logger.Error("inbox submit failed", "document_id", res.DocumentID, "error", err)
		return
	}

	// The original has been rendered to pages; remove it from the inbox so
	// restarts do not re-ingest it.
	if err := os.Remove(path); err != nil {
		w.logger.Warn("failed to remove ingested file", "path", path, "error", err)
	}

	w.logger.Info("inbox document submitted",
		"document_id", res.DocumentID,
		"title", res.Title,
		"pages", res.PageCount)
}

func (w *Watcher) forget(path string) {
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
}

// waitForSettle blocks until the file size has been stable for
// settleInterval, or the context is cancelled.
func waitForSettle(ctx context.Context, path string) error {
	var lastSize int64 = -1
	stable := time.Now()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				return fmt.Errorf("failed to stat %s: %w", path, err)
			}
			if info.Size() != lastSize {
				lastSize = info.Size()
				stable = time.Now()
				continue
			}
			if time.Since(stable) >= settleInterval {
				return nil
			}
		}
	}
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// Package ingest handles document ingestion from PDF files: page
// rendering into the home directory and document record creation.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/scanforge/scanforge/internal/document"
	"github.com/scanforge/scanforge/internal/home"
)

// Request contains the parameters for ingesting a document.
type Request struct {
	PDFPaths []string     // PDF file paths (will be sorted by numeric suffix)
	Title    string       // Document title (optional, derived from filename if empty)
	Logger   *slog.Logger // Optional logger for progress updates
}

// Result contains the result of a successful ingest operation.
type Result struct {
	DocumentID string
	Title      string
	PageCount  int
}

// Ingest renders pages from PDFs and creates a document record.
func Ingest(ctx context.Context, docs document.Store, homeDir *home.Dir, req Request) (*Result, error) {
	log := req.Logger
	if log == nil {
		log = slog.Default()
	}

	if len(req.PDFPaths) == 0 {
		return nil, fmt.Errorf("no PDF paths provided")
	}

	// Validate all PDF paths exist
	for _, p := range req.PDFPaths {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("PDF not found: %s", p)
		}
	}

	// Sort PDFs by numeric suffix (e.g., manual-1.pdf, manual-2.pdf)
	sortedPaths := sortPDFsByNumber(req.PDFPaths)
	log.Info("starting ingest", "pdfs", len(sortedPaths), "title", req.Title)

	// Derive title from first PDF filename if not provided
	title := req.Title
	if title == "" {
		title = deriveTitle(sortedPaths[0])
	}

	documentID := uuid.New().String()

	if err := homeDir.EnsurePagesDir(documentID); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	outDir := homeDir.PagesDir(documentID)

	// Render pages from all PDFs into one contiguous sequence
	pageCount := 0
	for i, pdfPath := range sortedPaths {
		log.Debug("rendering PDF", "file", filepath.Base(pdfPath), "part", i+1, "of", len(sortedPaths))
		count, err := renderPDF(pdfPath, outDir, pageCount)
		if err != nil {
			// Clean up on failure
			os.RemoveAll(outDir)
			return nil, fmt.Errorf("failed to render pages from %s: %w", pdfPath, err)
		}
		log.Debug("rendered pages", "count", count, "total", pageCount+count)
		pageCount += count
	}

	if pageCount == 0 {
		os.RemoveAll(outDir)
		return nil, fmt.Errorf("no pages rendered from PDFs")
	}

	log.Debug("creating document record", "title", title, "pages", pageCount)

	err := docs.Create(ctx, &document.Document{
		ID:         documentID,
		Title:      title,
		PageCount:  pageCount,
		SourcePath: sortedPaths[0],
		PagesDir:   outDir,
		State:      document.StateIngested,
	})
	if err != nil {
		// Clean up on failure
		os.RemoveAll(outDir)
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	log.Info("ingest complete", "document_id", documentID, "pages", pageCount)

	return &Result{
		DocumentID: documentID,
		Title:      title,
		PageCount:  pageCount,
	}, nil
}

// renderPDF renders all pages from a PDF to the output directory using
// pdftoppm. Returns the number of pages rendered. pageOffset shifts the
// output numbering for multi-part PDFs.
func renderPDF(pdfPath, outDir string, pageOffset int) (int, error) {
	// Get page count
	f, err := os.Open(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	pageCount, err := api.PageCount(f, nil)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	// Process pages concurrently
	maxWorkers := runtime.NumCPU()

	type result struct {
		pageNum int
		err     error
	}

	results := make(chan result, pageCount)
	sem := make(chan struct{}, maxWorkers)

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(pageInPDF int) {
			defer func() { <-sem }() // release

			outputPageNum := pageOffset + pageInPDF
			err := renderPage(pdfPath, outDir, pageInPDF, outputPageNum)
			results <- result{pageNum: pageInPDF, err: err}
		}(page)
	}

	// Collect results
	successCount := 0
	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return 0, fmt.Errorf("failed to render page %d: %w", r.pageNum, r.err)
		}
		successCount++
	}

	return successCount, nil
}

// renderPage renders a single page from a PDF using pdftoppm (poppler-utils).
func renderPage(pdfPath, outDir string, pageInPDF, outputPageNum int) error {
	// Create temp directory for output
	tmpDir, err := os.MkdirTemp("", "scanforge-page-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// Output prefix for pdftoppm
	outputPrefix := filepath.Join(tmpDir, "page")

	// Run pdftoppm to render the page
	// -png: output PNG format
	// -f N: first page to render
	// -l N: last page to render
	// -r 300: resolution in DPI
	// -singlefile: don't add page number suffix
	pageStr := fmt.Sprintf("%d", pageInPDF)
	cmd := exec.Command("pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", "300",
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	// pdftoppm with -singlefile creates: <prefix>.png
	srcPath := outputPrefix + ".png"
	if _, err := os.Stat(srcPath); err != nil {
		return fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	// Read the rendered image
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("failed to read rendered image: %w", err)
	}

	// Write to destination with sequential naming
	dstPath := filepath.Join(outDir, fmt.Sprintf("page_%04d.png", outputPageNum))
	if err := os.WriteFile(dstPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write page image: %w", err)
	}

	return nil
}

// sortPDFsByNumber sorts PDF paths by their numeric suffix.
// e.g., ["scan-2.pdf", "scan-1.pdf", "scan-10.pdf"] -> ["scan-1.pdf", "scan-2.pdf", "scan-10.pdf"]
func sortPDFsByNumber(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)

	re := regexp.MustCompile(`-(\d+)\.pdf$`)

	sort.Slice(sorted, func(i, j int) bool {
		mi := re.FindStringSubmatch(sorted[i])
		mj := re.FindStringSubmatch(sorted[j])

		// If both have numbers, sort numerically
		if len(mi) > 1 && len(mj) > 1 {
			ni, _ := strconv.Atoi(mi[1])
			nj, _ := strconv.Atoi(mj[1])
			return ni < nj
		}

		// Files without numbers come first
		if len(mi) > 1 {
			return false
		}
		if len(mj) > 1 {
			return true
		}

		// Both without numbers: alphabetical
		return sorted[i] < sorted[j]
	})

	return sorted
}

// deriveTitle extracts a title from a PDF filename.
// e.g., "field-manual.pdf" -> "field-manual"
// e.g., "my-scan-1.pdf" -> "my-scan"
func deriveTitle(pdfPath string) string {
	base := filepath.Base(pdfPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	// Remove numeric suffix like "-1", "-2", etc.
	re := regexp.MustCompile(`-\d+$`)
	name = re.ReplaceAllString(name, "")

	return name
}

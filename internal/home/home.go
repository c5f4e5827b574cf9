package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the scanforge home directory.
	DefaultDirName = ".scanforge"

	// InboxDirName is the watched drop directory for incoming PDFs.
	InboxDirName = "inbox"

	// ResultsDirName is the subdirectory for chunk and merged results.
	ResultsDirName = "results"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the scanforge home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scanforge).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// InboxPath returns the watched inbox directory.
func (d *Dir) InboxPath() string {
	return filepath.Join(d.path, InboxDirName)
}

// ResultsPath returns the root of the results store.
func (d *Dir) ResultsPath() string {
	return filepath.Join(d.path, ResultsDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	for _, dir := range []string{d.InboxPath(), d.ResultsPath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// PagesDir returns the directory holding rendered page images of a document.
func (d *Dir) PagesDir(documentID string) string {
	return filepath.Join(d.path, "pages", documentID)
}

// PagePath returns the path to a specific page image.
// Page numbers are 1-indexed.
func (d *Dir) PagePath(documentID string, pageNum int) string {
	return filepath.Join(d.PagesDir(documentID), fmt.Sprintf("page_%04d.png", pageNum))
}

// EnsurePagesDir creates the page images directory for a document.
func (d *Dir) EnsurePagesDir(documentID string) error {
	return os.MkdirAll(d.PagesDir(documentID), 0o755)
}

// OriginalsDir returns the directory for original PDF files of a document.
func (d *Dir) OriginalsDir(documentID string) string {
	return filepath.Join(d.PagesDir(documentID), "originals")
}

// EnsureOriginalsDir creates the originals directory for a document's PDFs.
func (d *Dir) EnsureOriginalsDir(documentID string) error {
	return os.MkdirAll(d.OriginalsDir(documentID), 0o755)
}

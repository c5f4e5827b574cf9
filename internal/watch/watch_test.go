package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIsPDF(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"book.pdf", true},
		{"SCAN-01.PDF", true},
		{"notes.txt", false},
		{"pdf", false},
		{"archive.pdf.gz", false},
	}
	for _, tt := range tests {
		if got := isPDF(tt.name); got != tt.want {
			t.Errorf("isPDF(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWaitForSettleCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	// The settle interval is longer than the context deadline, so the
	// wait must give up with the context error.
	err := waitForSettle(ctx, path)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestWaitForSettleMissingFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := waitForSettle(ctx, filepath.Join(t.TempDir(), "absent.pdf"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

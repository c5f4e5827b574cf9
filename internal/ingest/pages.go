package ingest

import (
	"context"
	"fmt"
	"os"

	"github.com/scanforge/scanforge/internal/home"
	"github.com/scanforge/scanforge/internal/providers"
)

// Pages serves rendered page images for chunk workers out of the home
// directory. Page numbers in a request are absolute; the returned images
// are numbered chunk-locally starting at 1.
type Pages struct {
	home *home.Dir
}

// NewPages creates a page source over the home directory.
func NewPages(homeDir *home.Dir) *Pages {
	return &Pages{home: homeDir}
}

// ChunkPages loads the images for one chunk's page range.
func (p *Pages) ChunkPages(ctx context.Context, documentID string, startPage, endPage int) ([]providers.PageImage, error) {
	if startPage < 1 || endPage < startPage {
		return nil, fmt.Errorf("invalid page range %d-%d", startPage, endPage)
	}

	pages := make([]providers.PageImage, 0, endPage-startPage+1)
	for page := startPage; page <= endPage; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := p.home.PagePath(documentID, page)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read page %d of %s: %w", page, documentID, err)
		}
		pages = append(pages, providers.PageImage{
			LocalPage: page - startPage + 1,
			PNG:       data,
		})
	}
	return pages, nil
}

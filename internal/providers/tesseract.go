//go:build cgo

package providers

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/otiai10/gosseract/v2"
)

// TesseractConfig holds configuration for the local Tesseract provider.
type TesseractConfig struct {
	// Language is the Tesseract language code (default "eng").
	Language string

	// MinConfidence drops blocks below this confidence (0..1).
	MinConfidence float64

	MaxRetries int
	RetryDelay time.Duration
}

// TesseractProvider implements OCRProvider with a local Tesseract install
// via gosseract. It needs no network and is not subject to any external
// quota, but the shared rate limiter still applies to keep CPU use bounded.
type TesseractProvider struct {
	language      string
	minConfidence float64
	maxRetries    int
	retryDelay    time.Duration
}

// NewTesseractProvider creates a Tesseract provider.
func NewTesseractProvider(cfg TesseractConfig) *TesseractProvider {
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	return &TesseractProvider{
		language:      cfg.Language,
		minConfidence: cfg.MinConfidence,
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
	}
}

func (p *TesseractProvider) Name() string                  { return TesseractName }
func (p *TesseractProvider) MaxRetries() int               { return p.maxRetries }
func (p *TesseractProvider) RetryDelayBase() time.Duration { return p.retryDelay }

// ProcessChunk runs Tesseract over each page image of the chunk.
func (p *TesseractProvider) ProcessChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	res := &ChunkResult{
		ChunkIndex: req.ChunkIndex,
		PageCount:  len(req.Pages),
	}

	for _, page := range req.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		blocks, err := p.processPage(page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.LocalPage, err)
		}
		res.Blocks = append(res.Blocks, blocks...)
	}
	return res, nil
}

func (p *TesseractProvider) processPage(page PageImage) ([]Block, error) {
	// gosseract wants a file path; stage the page in a temp file.
	tmp, err := os.CreateTemp("", "scanforge-page-*.png")
	if err != nil {
		return nil, fmt.Errorf("create temp image: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(page.PNG); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp image: %w", err)
	}
	tmp.Close()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(p.language); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	if err := client.SetImage(tmpPath); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("tesseract ocr failed: %w", err)
	}

	blocks := make([]Block, 0, len(boxes))
	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		confidence := float64(box.Confidence) / 100.0
		if confidence < p.minConfidence {
			continue
		}
		blocks = append(blocks, Block{
			LocalPage: page.LocalPage,
			Text:      box.Word,
			Region: Region{
				X1: box.Box.Min.X,
				Y1: box.Box.Min.Y,
				X2: box.Box.Max.X,
				Y2: box.Box.Max.Y,
			},
			Confidence: confidence,
		})
	}
	return blocks, nil
}

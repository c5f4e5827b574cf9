//go:build !cgo

package providers

import (
	"context"
	"errors"
	"time"
)

// ErrTesseractUnavailable is returned when the binary was built without
// cgo, which the Tesseract bindings require.
var ErrTesseractUnavailable = errors.New("tesseract provider requires a cgo build")

// TesseractConfig holds configuration for the local Tesseract provider.
type TesseractConfig struct {
	Language      string
	MinConfidence float64
	MaxRetries    int
	RetryDelay    time.Duration
}

// TesseractProvider is a stub in non-cgo builds.
type TesseractProvider struct{}

// NewTesseractProvider creates the stub provider.
func NewTesseractProvider(cfg TesseractConfig) *TesseractProvider {
	return &TesseractProvider{}
}

func (p *TesseractProvider) Name() string                  { return TesseractName }
func (p *TesseractProvider) MaxRetries() int               { return 0 }
func (p *TesseractProvider) RetryDelayBase() time.Duration { return time.Second }

func (p *TesseractProvider) ProcessChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	return nil, ErrTesseractUnavailable
}

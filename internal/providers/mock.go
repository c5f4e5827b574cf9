package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockProviderName = "mock"

// MockProvider is an OCRProvider for testing.
type MockProvider struct {
	// Configurable behavior
	Latency       time.Duration
	BlocksPerPage int

	// FailChunks maps chunk indices to a number of failures to produce
	// before succeeding. Negative means fail forever.
	FailChunks map[int]int

	// HangChunks lists chunk indices whose calls block until the context
	// is cancelled, simulating a wedged OCR backend.
	HangChunks map[int]bool

	Retries    int
	RetryDelay time.Duration

	mu       sync.Mutex
	failures map[int]int

	// Calls counts total ProcessChunk invocations.
	Calls atomic.Int64
}

// NewMockProvider creates a mock with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Latency:       5 * time.Millisecond,
		BlocksPerPage: 2,
		Retries:       2,
		RetryDelay:    time.Millisecond,
		failures:      make(map[int]int),
	}
}

func (p *MockProvider) Name() string                  { return MockProviderName }
func (p *MockProvider) MaxRetries() int               { return p.Retries }
func (p *MockProvider) RetryDelayBase() time.Duration { return p.RetryDelay }

// ProcessChunk produces deterministic blocks for every page in the request.
func (p *MockProvider) ProcessChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	p.Calls.Add(1)

	if p.HangChunks[req.ChunkIndex] {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if p.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Latency):
		}
	}

	if remaining, ok := p.FailChunks[req.ChunkIndex]; ok {
		p.mu.Lock()
		seen := p.failures[req.ChunkIndex]
		shouldFail := remaining < 0 || seen < remaining
		if shouldFail {
			p.failures[req.ChunkIndex] = seen + 1
		}
		p.mu.Unlock()
		if shouldFail {
			return nil, fmt.Errorf("mock ocr failure for chunk %d", req.ChunkIndex)
		}
	}

	res := &ChunkResult{
		ChunkIndex: req.ChunkIndex,
		PageCount:  len(req.Pages),
	}
	for _, page := range req.Pages {
		for b := 0; b < p.BlocksPerPage; b++ {
			res.Blocks = append(res.Blocks, Block{
				LocalPage:  page.LocalPage,
				Text:       fmt.Sprintf("chunk %d page %d block %d", req.ChunkIndex, page.LocalPage, b),
				Region:     Region{X1: 0, Y1: b * 100, X2: 800, Y2: b*100 + 90},
				Confidence: 0.95,
			})
		}
	}
	return res, nil
}

package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIOCRName         = "openai"
	openAIOCRDefaultModel = "gpt-4o-mini"
)

const openAIOCRPrompt = `You are an OCR engine. Extract every text block from this scanned page.

Return ONLY a JSON object of the form:
{"blocks": [{"text": "...", "region": {"x1": 0, "y1": 0, "x2": 0, "y2": 0}, "confidence": 0.0}]}

Rules:
- List blocks in natural reading order (top to bottom, left to right).
- region is the pixel bounding box of the block in the page image.
- confidence is your certainty in the transcription, between 0 and 1.
- Do not merge unrelated blocks. Do not invent text. Empty page: {"blocks": []}.`

// OpenAIOCRConfig holds configuration for the OpenAI vision OCR client.
type OpenAIOCRConfig struct {
	APIKey     string
	Model      string        // "gpt-4o-mini" (default)
	MaxRetries int           // SDK transport retries
	RetryDelay time.Duration // Base delay for the worker's backoff
	Timeout    time.Duration // HTTP timeout per page call
	BaseURL    string        // Optional (tests)
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIOCRClient implements OCRProvider using a vision model through the
// official OpenAI SDK. Pages are processed one call each; the structured
// block output is validated locally before acceptance.
type OpenAIOCRClient struct {
	model      string
	maxRetries int
	retryDelay time.Duration
	client     openai.Client
}

// NewOpenAIOCRClient creates a new OpenAI OCR client.
func NewOpenAIOCRClient(cfg OpenAIOCRConfig) *OpenAIOCRClient {
	if cfg.Model == "" {
		cfg.Model = openAIOCRDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIOCRClient{
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     openai.NewClient(opts...),
	}
}

// Name returns the provider identifier.
func (c *OpenAIOCRClient) Name() string {
	return OpenAIOCRName
}

// MaxRetries returns the maximum worker retry attempts.
func (c *OpenAIOCRClient) MaxRetries() int {
	return c.maxRetries
}

// RetryDelayBase returns the base delay for exponential backoff.
func (c *OpenAIOCRClient) RetryDelayBase() time.Duration {
	return c.retryDelay
}

// ProcessChunk extracts text from each page of the chunk.
func (c *OpenAIOCRClient) ProcessChunk(ctx context.Context, req *ChunkRequest) (*ChunkResult, error) {
	res := &ChunkResult{
		ChunkIndex: req.ChunkIndex,
		PageCount:  len(req.Pages),
	}

	for _, page := range req.Pages {
		blocks, err := c.processPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.LocalPage, err)
		}
		res.Blocks = append(res.Blocks, blocks...)
	}
	return res, nil
}

func (c *OpenAIOCRClient) processPage(ctx context.Context, page PageImage) ([]Block, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(page.PNG)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(openAIOCRPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vision request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision response had no choices")
	}

	pb, err := parsePageBlocks(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	blocks := make([]Block, 0, len(pb.Blocks))
	for _, b := range pb.Blocks {
		blocks = append(blocks, Block{
			LocalPage:  page.LocalPage,
			Text:       b.Text,
			Region:     b.Region,
			Confidence: b.Confidence,
		})
	}
	return blocks, nil
}

package providers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// pageBlocksSchema constrains the structured output the vision provider
// asks the model for. Validated locally before the blocks are accepted;
// anything off-schema is a failed OCR attempt, not a silent partial result.
const pageBlocksSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["blocks"],
	"properties": {
		"blocks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["text", "region", "confidence"],
				"properties": {
					"text": {"type": "string"},
					"region": {
						"type": "object",
						"required": ["x1", "y1", "x2", "y2"],
						"properties": {
							"x1": {"type": "integer"},
							"y1": {"type": "integer"},
							"x2": {"type": "integer"},
							"y2": {"type": "integer"}
						}
					},
					"confidence": {"type": "number", "minimum": 0, "maximum": 1}
				}
			}
		}
	}
}`

var (
	compiledSchema     *jsonschema.Schema
	compileSchemaOnce  sync.Once
	compileSchemaError error
)

func blocksSchema() (*jsonschema.Schema, error) {
	compileSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("page_blocks.json", strings.NewReader(pageBlocksSchema)); err != nil {
			compileSchemaError = err
			return
		}
		compiledSchema, compileSchemaError = c.Compile("page_blocks.json")
	})
	return compiledSchema, compileSchemaError
}

// pageBlocks is the wire form of one page's structured OCR output.
type pageBlocks struct {
	Blocks []struct {
		Text       string  `json:"text"`
		Region     Region  `json:"region"`
		Confidence float64 `json:"confidence"`
	} `json:"blocks"`
}

// parsePageBlocks parses and validates model output for one page.
// Recovers from markdown code fences around the JSON body.
func parsePageBlocks(content string) (*pageBlocks, error) {
	raw := strings.TrimSpace(stripCodeFences(content))
	if raw == "" {
		return nil, fmt.Errorf("empty ocr output")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("parse ocr output: %w", err)
	}

	schema, err := blocksSchema()
	if err != nil {
		return nil, fmt.Errorf("compile ocr output schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("ocr output failed schema validation: %w", err)
	}

	var pb pageBlocks
	if err := json.Unmarshal([]byte(raw), &pb); err != nil {
		return nil, fmt.Errorf("decode ocr output: %w", err)
	}
	return &pb, nil
}

// stripCodeFences removes a surrounding markdown code fence, if present.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return content
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

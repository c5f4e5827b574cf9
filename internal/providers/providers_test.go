package providers

import (
	"context"
	"testing"
)

func TestMockProvider(t *testing.T) {
	t.Run("produces blocks for every page", func(t *testing.T) {
		p := NewMockProvider()
		res, err := p.ProcessChunk(context.Background(), &ChunkRequest{
			DocumentID: "doc-1",
			ChunkIndex: 0,
			Pages: []PageImage{
				{LocalPage: 1},
				{LocalPage: 2},
				{LocalPage: 3},
			},
		})
		if err != nil {
			t.Fatalf("ProcessChunk() error = %v", err)
		}
		if res.PageCount != 3 {
			t.Errorf("page count = %d, want 3", res.PageCount)
		}
		if len(res.Blocks) != 3*p.BlocksPerPage {
			t.Errorf("blocks = %d, want %d", len(res.Blocks), 3*p.BlocksPerPage)
		}
	})

	t.Run("fails configured chunks until budget spent", func(t *testing.T) {
		p := NewMockProvider()
		p.FailChunks = map[int]int{2: 1}

		req := &ChunkRequest{ChunkIndex: 2, Pages: []PageImage{{LocalPage: 1}}}
		if _, err := p.ProcessChunk(context.Background(), req); err == nil {
			t.Fatal("first call should fail")
		}
		if _, err := p.ProcessChunk(context.Background(), req); err != nil {
			t.Fatalf("second call should succeed, got %v", err)
		}
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	mock := NewMockProvider()
	r.Register(mock)

	// First registered provider is the default.
	p, err := r.Get("")
	if err != nil {
		t.Fatalf("Get(default) error = %v", err)
	}
	if p.Name() != MockProviderName {
		t.Errorf("default = %s, want %s", p.Name(), MockProviderName)
	}

	if _, err := r.Get("nope"); err == nil {
		t.Error("Get(unknown) should fail")
	}
	if err := r.SetDefault("nope"); err == nil {
		t.Error("SetDefault(unknown) should fail")
	}
}

func TestParsePageBlocks(t *testing.T) {
	t.Run("valid output", func(t *testing.T) {
		pb, err := parsePageBlocks(`{"blocks": [{"text": "hello", "region": {"x1": 0, "y1": 0, "x2": 10, "y2": 10}, "confidence": 0.9}]}`)
		if err != nil {
			t.Fatalf("parsePageBlocks() error = %v", err)
		}
		if len(pb.Blocks) != 1 || pb.Blocks[0].Text != "hello" {
			t.Errorf("unexpected blocks: %+v", pb.Blocks)
		}
	})

	t.Run("fenced output", func(t *testing.T) {
		pb, err := parsePageBlocks("```json\n{\"blocks\": []}\n```")
		if err != nil {
			t.Fatalf("parsePageBlocks() error = %v", err)
		}
		if len(pb.Blocks) != 0 {
			t.Errorf("unexpected blocks: %+v", pb.Blocks)
		}
	})

	t.Run("schema violations rejected", func(t *testing.T) {
		cases := []string{
			`{}`,
			`{"blocks": [{"text": "x"}]}`,
			`{"blocks": [{"text": "x", "region": {"x1": 0, "y1": 0, "x2": 1, "y2": 1}, "confidence": 2.0}]}`,
			`not json`,
			``,
		}
		for _, c := range cases {
			if _, err := parsePageBlocks(c); err == nil {
				t.Errorf("parsePageBlocks(%q) should fail", c)
			}
		}
	})
}

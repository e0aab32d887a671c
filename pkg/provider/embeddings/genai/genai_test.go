package genai

import (
	"context"
	"testing"
)

func TestModelDimensions_TextEmbedding004(t *testing.T) {
	if d := modelDimensions("text-embedding-004"); d != 768 {
		t.Errorf("text-embedding-004: expected 768 dimensions, got %d", d)
	}
}

func TestModelDimensions_Unknown(t *testing.T) {
	if d := modelDimensions("some-future-model"); d <= 0 {
		t.Errorf("unknown model: expected positive dimensions, got %d", d)
	}
}

func TestDimensions_MethodMatchesHelper(t *testing.T) {
	p := &Provider{model: "embedding-001"}
	if got := p.Dimensions(); got != modelDimensions("embedding-001") {
		t.Errorf("Dimensions() = %d, want %d", got, modelDimensions("embedding-001"))
	}
}

func TestModelID(t *testing.T) {
	p := &Provider{model: "text-embedding-004"}
	if got := p.ModelID(); got != "text-embedding-004" {
		t.Errorf("ModelID() = %q, want %q", got, "text-embedding-004")
	}
}

func TestNew_RejectsEmptyAPIKey(t *testing.T) {
	if _, err := New(context.Background(), "", "text-embedding-004"); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	p := &Provider{model: "text-embedding-004"}
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil result for empty input, got %v", vecs)
	}
}

func TestEmbedBatch_RejectsBlankText(t *testing.T) {
	p := &Provider{model: "text-embedding-004"}
	_, err := p.EmbedBatch(context.Background(), []string{"   "})
	if err == nil {
		t.Fatal("expected error for blank text")
	}
}

// Package genai provides an embeddings provider backed by the Google Gemini
// embedding API.
package genai

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"google.golang.org/genai"

	"github.com/MrWong99/atrium/pkg/provider/embeddings"
)

// DefaultModel is the default Gemini embedding model.
const DefaultModel = "text-embedding-004"

// Ensure Provider implements the embeddings.Provider interface.
var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider using the Gemini embedding API.
type Provider struct {
	client *genai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Gemini API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// New constructs a new Gemini Embeddings Provider.
// If model is empty, DefaultModel is used.
func New(ctx context.Context, apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("genai embeddings: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genai embeddings: create client: %w", err)
	}

	return &Provider{client: client, model: model}, nil
}

// isBlank reports whether s is empty or contains only whitespace.
func isBlank(s string) bool {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		if isBlank(t) {
			return nil, fmt.Errorf("genai embeddings: %w", embeddings.ErrInvalidInput)
		}
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("genai embeddings: embed batch: %w: %v", embeddings.ErrUnavailable, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embeddings: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	return modelDimensions(p.model)
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	return p.model
}

// modelDimensions returns the embedding dimensions for known Gemini models.
func modelDimensions(model string) int {
	switch strings.ToLower(model) {
	case "text-embedding-004", "embedding-001":
		return 768
	default:
		return 768
	}
}

// Package anthropic provides an LLM provider backed by the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	anthropicSDK "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/atrium/pkg/provider/llm"
	"github.com/MrWong99/atrium/pkg/types"
)

const defaultMaxTokens = int64(4096)

// Provider implements llm.Provider using the Anthropic Messages API.
type Provider struct {
	client anthropicSDK.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new Anthropic LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	client := anthropicSDK.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		toolCallAccum := map[int]*types.ToolCall{}
		var toolOrder []int

		for stream.Next() {
			event := stream.Current()
			out := llm.Chunk{}

			switch event.Type {
			case "content_block_start":
				if event.ContentBlock.Type == "tool_use" {
					idx := int(event.Index)
					toolCallAccum[idx] = &types.ToolCall{
						ID:   event.ContentBlock.ID,
						Name: event.ContentBlock.Name,
					}
					toolOrder = append(toolOrder, idx)
				}
				continue
			case "content_block_delta":
				switch event.Delta.Type {
				case "text_delta":
					out.Text = event.Delta.Text
				case "input_json_delta":
					idx := int(event.Index)
					if tc, ok := toolCallAccum[idx]; ok {
						tc.Arguments += event.Delta.PartialJSON
					}
					continue
				default:
					continue
				}
			case "message_delta":
				out.FinishReason = mapStopReason(string(event.Delta.StopReason))
				for _, idx := range toolOrder {
					if tc, ok := toolCallAccum[idx]; ok {
						out.ToolCalls = append(out.ToolCalls, *tc)
					}
				}
			default:
				continue
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}

	result := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			args, _ := json.Marshal(block.Input)
			result.ToolCalls = append(result.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: string(args),
			})
		}
	}
	return result, nil
}

// CountTokens implements llm.Provider.
// TODO: use the Anthropic token-counting endpoint for exact counts.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelCapabilities returns ModelCapabilities for known Anthropic model names.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		SupportsVision:      true,
		ContextWindow:       200_000,
		MaxOutputTokens:     8_192,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "claude-3-5-haiku"), strings.HasPrefix(lower, "claude-3-haiku"):
		caps.MaxOutputTokens = 8_192
		caps.SupportsVision = false
	case strings.HasPrefix(lower, "claude-opus-4"), strings.HasPrefix(lower, "claude-sonnet-4"):
		caps.MaxOutputTokens = 64_000
	case strings.HasPrefix(lower, "claude-3-5-sonnet"), strings.HasPrefix(lower, "claude-3-7-sonnet"):
		caps.MaxOutputTokens = 8_192
	}
	return caps
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (anthropicSDK.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicSDK.MessageNewParams{}, err
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropicSDK.MessageNewParams{
		Model:     anthropicSDK.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicSDK.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature != 0 {
		params.Temperature = anthropicSDK.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	return params, nil
}

// convertMessages converts types.Message values into Anthropic message params.
// Anthropic has no dedicated "tool" role: tool results are user messages
// carrying a tool_result content block.
func convertMessages(msgs []types.Message) ([]anthropicSDK.MessageParam, error) {
	out := make([]anthropicSDK.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			out = append(out, anthropicSDK.NewUserMessage(anthropicSDK.NewTextBlock(m.Content)))
		case "assistant":
			var blocks []anthropicSDK.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropicSDK.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				_ = json.Unmarshal([]byte(tc.Arguments), &input)
				blocks = append(blocks, anthropicSDK.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			out = append(out, anthropicSDK.NewAssistantMessage(blocks...))
		case "tool":
			out = append(out, anthropicSDK.NewUserMessage(
				anthropicSDK.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		case "system":
			// Folded into params.System by the caller; skip here.
			continue
		default:
			return nil, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}
	return out, nil
}

// convertTools converts tool definitions into Anthropic tool params.
func convertTools(tools []types.ToolDefinition) []anthropicSDK.ToolUnionParam {
	out := make([]anthropicSDK.ToolUnionParam, len(tools))
	for i, t := range tools {
		tp := anthropicSDK.ToolParam{
			Name: t.Name,
			InputSchema: anthropicSDK.ToolInputSchemaParam{
				Properties: t.Parameters["properties"],
			},
		}
		if t.Description != "" {
			tp.Description = anthropicSDK.String(t.Description)
		}
		if req, ok := t.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					tp.InputSchema.Required = append(tp.InputSchema.Required, s)
				}
			}
		}
		out[i] = anthropicSDK.ToolUnionParam{OfTool: &tp}
	}
	return out
}

// mapStopReason translates Anthropic stop reasons into the provider-neutral
// FinishReason vocabulary used by llm.Chunk.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "tool_use":
		return "tool_calls"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

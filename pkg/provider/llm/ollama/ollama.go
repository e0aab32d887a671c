// Package ollama provides an LLM provider backed by a local Ollama instance.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/atrium/pkg/provider/llm"
	"github.com/MrWong99/atrium/pkg/types"
)

// DefaultHost is the default address of a locally running Ollama instance.
const DefaultHost = "http://127.0.0.1:11434"

// Provider implements llm.Provider using a local Ollama server's chat API.
type Provider struct {
	client *api.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	host string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithHost overrides the default Ollama server address.
func WithHost(host string) Option {
	return func(c *config) {
		c.host = host
	}
}

// New constructs a new Ollama LLM Provider.
//
// model must name a model already pulled into the target Ollama instance
// (e.g., "llama3.1" or "qwen2.5"); New does not pull models on demand.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama: model must not be empty")
	}

	cfg := &config{host: DefaultHost}
	for _, o := range opts {
		o(cfg)
	}

	parsed, err := url.Parse(cfg.host)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid host %q: %w", cfg.host, err)
	}

	return &Provider{
		client: api.NewClient(parsed, nil),
		model:  model,
	}, nil
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chatReq, err := p.buildRequest(req, true)
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}

	ch := make(chan llm.Chunk, 32)

	go func() {
		defer close(ch)

		toolCallAccum := map[int]*types.ToolCall{}

		err := p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
			out := llm.Chunk{Text: resp.Message.Content}

			for i, tc := range resp.Message.ToolCalls {
				if _, ok := toolCallAccum[i]; !ok {
					toolCallAccum[i] = &types.ToolCall{Name: tc.Function.Name}
				}
				existing := toolCallAccum[i]
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				if len(tc.Function.Arguments) > 0 {
					args, marshalErr := json.Marshal(tc.Function.Arguments)
					if marshalErr == nil {
						existing.Arguments = string(args)
					}
				}
			}

			if resp.Done {
				out.FinishReason = mapDoneReason(resp.DoneReason)
				for i := 0; i < len(toolCallAccum); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						out.ToolCalls = append(out.ToolCalls, *tc)
					}
				}
			}

			select {
			case ch <- out:
			case <-ctx.Done():
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
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
	chatReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, fmt.Errorf("ollama: build request: %w", err)
	}

	var final api.ChatResponse
	err = p.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		final = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama: chat: %w", err)
	}

	result := &llm.CompletionResponse{
		Content: final.Message.Content,
		Usage: llm.Usage{
			PromptTokens:     final.PromptEvalCount,
			CompletionTokens: final.EvalCount,
			TotalTokens:      final.PromptEvalCount + final.EvalCount,
		},
	}
	for _, tc := range final.Message.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		result.ToolCalls = append(result.ToolCalls, types.ToolCall{
			Name:      tc.Function.Name,
			Arguments: string(args),
		})
	}
	return result, nil
}

// CountTokens implements llm.Provider.
// Ollama does not expose a tokenisation endpoint for arbitrary chat models, so
// this falls back to the same rough character-based heuristic used when no
// provider-native counter is available.
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

// modelCapabilities returns a conservative ModelCapabilities estimate for a
// locally hosted model. Unlike the hosted providers, Ollama does not publish a
// capabilities API, so these are defaults that fit most Llama/Qwen/Mistral
// family instruction-tuned models; operators running other models may need to
// adjust expectations accordingly.
func modelCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		SupportsVision:      false,
		ContextWindow:       8_192,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "llama3.1"), strings.Contains(lower, "llama3.2"), strings.Contains(lower, "llama3.3"):
		caps.ContextWindow = 128_000
	case strings.Contains(lower, "qwen2.5"), strings.Contains(lower, "qwen3"):
		caps.ContextWindow = 32_768
	case strings.Contains(lower, "vision"), strings.Contains(lower, "llava"):
		caps.SupportsVision = true
		caps.SupportsToolCalling = false
	case strings.Contains(lower, "mistral"):
		caps.ContextWindow = 32_768
	}
	return caps
}

// buildRequest converts a CompletionRequest into an Ollama chat request.
func (p *Provider) buildRequest(req llm.CompletionRequest, stream bool) (*api.ChatRequest, error) {
	messages := make([]api.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}

	chatReq := &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   boolPtr(stream),
		Options:  opts,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq, nil
}

// convertMessage converts a types.Message to an Ollama chat message.
func convertMessage(m types.Message) (api.Message, error) {
	switch m.Role {
	case "system", "user", "assistant", "tool":
		msg := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Arguments), &args)
			msg.ToolCalls = append(msg.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: api.ToolCallFunctionArguments(args),
				},
			})
		}
		return msg, nil
	default:
		return api.Message{}, fmt.Errorf("ollama: unknown message role %q", m.Role)
	}
}

// convertTools converts tool definitions into Ollama's function-tool shape.
func convertTools(tools []types.ToolDefinition) api.Tools {
	out := make(api.Tools, len(tools))
	for i, t := range tools {
		out[i] = api.Tool{
			Type: "function",
			Function: api.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
			},
		}
		out[i].Function.Parameters.Type = "object"
		if props, ok := t.Parameters["properties"].(map[string]any); ok {
			raw, err := json.Marshal(props)
			if err == nil {
				_ = json.Unmarshal(raw, &out[i].Function.Parameters.Properties)
			}
		}
		if req, ok := t.Parameters["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					out[i].Function.Parameters.Required = append(out[i].Function.Parameters.Required, s)
				}
			}
		}
	}
	return out
}

// mapDoneReason translates Ollama's done_reason into the provider-neutral
// FinishReason vocabulary used by llm.Chunk.
func mapDoneReason(reason string) string {
	switch reason {
	case "stop", "":
		return "stop"
	case "length":
		return "length"
	default:
		if reason == "tool_calls" {
			return "tool_calls"
		}
		return reason
	}
}

func boolPtr(b bool) *bool {
	return &b
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)

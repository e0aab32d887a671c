// Package reasoning runs the bounded tool-calling loop that turns a call's
// transcript into a spoken reply: it prompts an LLM with a fixed tool
// catalogue (search_contacts, search_emails, generate_response), dispatches
// non-terminal tool calls against the retrieval engine, and stops at the
// first generate_response or when the per-turn tool budget is exhausted.
package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/MrWong99/atrium/internal/retrieval"
	"github.com/MrWong99/atrium/internal/toolhost"
	"github.com/MrWong99/atrium/pkg/provider/llm"
	"github.com/MrWong99/atrium/pkg/types"
)

// MaxToolIters bounds the number of tool invocations the driver will make in
// a single turn before falling back to a canned reply.
const MaxToolIters = 4

// modelRetryBackoff is the delay before retrying a single failed model call.
const modelRetryBackoff = 250 * time.Millisecond

// ToolCallTimeout bounds a single non-terminal tool invocation.
const ToolCallTimeout = 3 * time.Second

// FallbackReply is spoken when the model cannot be reached or the turn
// exhausts its tool budget without reaching generate_response.
const FallbackReply = "I'm sorry, I'm having trouble understanding — could you repeat that?"

// Driver runs reasoning turns against an LLM provider and a fixed tool host.
type Driver struct {
	model llm.Provider
	tools *toolhost.Host
}

// New constructs a Driver. tools must already have its catalogue registered
// and started.
func New(model llm.Provider, tools *toolhost.Host) *Driver {
	return &Driver{model: model, tools: tools}
}

// Turn is the outcome of one reasoning turn.
type Turn struct {
	// Reply is the text to speak back to the caller.
	Reply string

	// ToolIterations is how many non-terminal tool calls were handled; a
	// repeated identical call answered from this turn's cache counts too.
	ToolIterations int

	// Fallback is true when Reply is FallbackReply rather than a model
	// generated response.
	Fallback bool
}

// toolCallKey identifies a (tool, arguments) pair for this turn's
// deduplication cache.
type toolCallKey struct {
	name string
	args string
}

// Run executes one reasoning turn. systemPrompt and history make up the
// conversation so far; history's last entry is typically the caller's latest
// utterance. Run never returns an error: any failure degrades to a
// FallbackReply turn so the call can continue.
func (d *Driver) Run(ctx context.Context, systemPrompt string, history []types.Message) Turn {
	messages := make([]types.Message, len(history))
	copy(messages, history)

	cache := make(map[toolCallKey]string)

	for iter := 0; iter < MaxToolIters; iter++ {
		resp, err := d.complete(ctx, systemPrompt, messages)
		if err != nil {
			return Turn{Reply: FallbackReply, ToolIterations: iter, Fallback: true}
		}

		if len(resp.ToolCalls) == 0 {
			reply := resp.Content
			if strings.TrimSpace(reply) == "" {
				return Turn{Reply: FallbackReply, ToolIterations: iter, Fallback: true}
			}
			return Turn{Reply: reply, ToolIterations: iter}
		}

		// The driver only ever asks for and acts on the first tool call in a
		// response; a model that requests several at once is only honored
		// for its first pick, and the rest are dropped by not being replayed.
		call := resp.ToolCalls[0]

		if call.Name == toolhost.ToolGenerateResponse {
			reply := gjson.Get(call.Arguments, "reply").String()
			if strings.TrimSpace(reply) == "" {
				return Turn{Reply: FallbackReply, ToolIterations: iter, Fallback: true}
			}
			return Turn{Reply: reply, ToolIterations: iter}
		}

		key := toolCallKey{name: call.Name, args: call.Arguments}
		blob, seen := cache[key]
		if !seen {
			toolCtx, cancel := context.WithTimeout(ctx, ToolCallTimeout)
			result, execErr := d.tools.Execute(toolCtx, call.Name, call.Arguments)
			cancel()
			if execErr != nil {
				result = fmt.Sprintf("tool %q failed: %v", call.Name, execErr)
			}
			blob, err = sjson.Set(`{}`, "result", result)
			if err != nil {
				blob = result
			}
			cache[key] = blob
		}

		messages = append(messages,
			types.Message{Role: "assistant", ToolCalls: []types.ToolCall{call}},
			types.Message{Role: "tool", Content: blob, ToolCallID: call.ID, Name: call.Name},
		)
	}

	return Turn{Reply: FallbackReply, ToolIterations: MaxToolIters, Fallback: true}
}

// complete invokes the model once, retrying a single time after
// modelRetryBackoff on transport failure.
func (d *Driver) complete(ctx context.Context, systemPrompt string, messages []types.Message) (*llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        d.tools.Tools(),
	}

	resp, err := d.model.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	select {
	case <-time.After(modelRetryBackoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return d.model.Complete(ctx, req)
}

// Extraction holds the opportunistic heuristics pulled from a transcript
// line. Either field may be empty when the heuristic finds nothing.
type Extraction struct {
	IdentifiedName  string
	InferredPurpose string
}

// selfIntroPhrases are common openers that precede a caller's name.
var selfIntroPhrases = []string{"this is ", "i'm ", "i am ", "my name is "}

// purposePhrases are common openers that precede a stated reason for
// calling.
var purposePhrases = []string{"calling about ", "about ", "regarding ", "to ask about ", "wanted to ask about "}

// Extract runs a best-effort, opportunistic pass over a single transcript
// line to pull a self-introduced name and stated purpose. It is not
// required to succeed on every turn: callers pre-seed retrieval.Context with
// whatever it finds and carry forward prior values otherwise.
func Extract(line string) Extraction {
	lower := strings.ToLower(line)
	var out Extraction

	if name := extractAfterAny(line, lower, selfIntroPhrases); name != "" {
		out.IdentifiedName = firstClause(name)
	}
	if purpose := extractAfterAny(line, lower, purposePhrases); purpose != "" {
		out.InferredPurpose = strings.TrimSuffix(strings.TrimSpace(purpose), ".")
	}
	return out
}

// extractAfterAny returns the original-case substring of line following the
// first phrase in phrases that occurs in lower, or "" if none match.
func extractAfterAny(original, lower string, phrases []string) string {
	for _, phrase := range phrases {
		if idx := strings.Index(lower, phrase); idx >= 0 {
			rest := original[idx+len(phrase):]
			if strings.TrimSpace(rest) != "" {
				return rest
			}
		}
	}
	return ""
}

// firstClause trims s down to its first comma- or period-delimited clause,
// since a self-introduction's name rarely spans further than that.
func firstClause(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, ",."); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(strings.ToLower(s), " from "); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// SeedContext merges an Extraction into a prior retrieval context request,
// preferring freshly extracted values but falling back to what was already
// known.
func SeedContext(prior retrieval.Context, ext Extraction) (identifiedName, inferredPurpose string) {
	identifiedName = prior.IdentifiedName
	if ext.IdentifiedName != "" {
		identifiedName = ext.IdentifiedName
	}
	inferredPurpose = prior.InferredPurpose
	if ext.InferredPurpose != "" {
		inferredPurpose = ext.InferredPurpose
	}
	return identifiedName, inferredPurpose
}

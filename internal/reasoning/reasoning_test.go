package reasoning_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrWong99/atrium/internal/reasoning"
	"github.com/MrWong99/atrium/internal/retrieval"
	"github.com/MrWong99/atrium/internal/store"
	storemock "github.com/MrWong99/atrium/internal/store/mock"
	"github.com/MrWong99/atrium/internal/toolhost"
	"github.com/MrWong99/atrium/pkg/provider/embeddings/mock"
	"github.com/MrWong99/atrium/pkg/provider/llm"
	"github.com/MrWong99/atrium/pkg/types"
)

// sequenceProvider returns one CompletionResponse per call, in order, cycling
// through CompleteErrs first when set. It lets a test script a multi-turn
// tool-calling exchange, which the shared llm mock (single fixed response)
// cannot express.
type sequenceProvider struct {
	mu        sync.Mutex
	responses []*llm.CompletionResponse
	errs      []error
	calls     int
}

func (s *sequenceProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	if err != nil {
		return nil, err
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return &llm.CompletionResponse{Content: reasoning.FallbackReply}, nil
}

func (s *sequenceProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, errors.New("not implemented")
}

func (s *sequenceProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (s *sequenceProvider) Capabilities() types.ModelCapabilities {
	return types.ModelCapabilities{SupportsToolCalling: true}
}

func newHost(t *testing.T) *toolhost.Host {
	t.Helper()
	s := &storemock.Store{
		NameSearchContactsResult: []store.SearchResult{{ID: "c1", Content: "Sarah Chen <sarah@acme.example>", Score: 1}},
	}
	engine := retrieval.New(s, &mock.Provider{})
	h := toolhost.New("atrium-tools", "test")
	if err := toolhost.RegisterRetrievalTools(h, engine); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("start host: %v", err)
	}
	return h
}

func TestRun_TerminalReplyOnFirstTurn(t *testing.T) {
	model := &sequenceProvider{responses: []*llm.CompletionResponse{
		{Content: "Thanks for calling, how can I help?"},
	}}
	h := newHost(t)
	defer h.Close()

	d := reasoning.New(model, h)
	turn := d.Run(context.Background(), "system prompt", nil)

	if turn.Fallback {
		t.Fatalf("turn = %+v, want non-fallback", turn)
	}
	if turn.Reply != "Thanks for calling, how can I help?" {
		t.Fatalf("reply = %q", turn.Reply)
	}
	if turn.ToolIterations != 0 {
		t.Fatalf("tool iterations = %d, want 0", turn.ToolIterations)
	}
}

func TestRun_ExecutesToolThenTerminates(t *testing.T) {
	model := &sequenceProvider{responses: []*llm.CompletionResponse{
		{ToolCalls: []types.ToolCall{{ID: "1", Name: toolhost.ToolSearchContacts, Arguments: `{"name":"Sarah Chen"}`}}},
		{ToolCalls: []types.ToolCall{{ID: "2", Name: toolhost.ToolGenerateResponse, Arguments: `{"reply":"I found Sarah Chen."}`}}},
	}}
	h := newHost(t)
	defer h.Close()

	d := reasoning.New(model, h)
	turn := d.Run(context.Background(), "system prompt", nil)

	if turn.Reply != "I found Sarah Chen." {
		t.Fatalf("reply = %q", turn.Reply)
	}
	if turn.ToolIterations != 1 {
		t.Fatalf("tool iterations = %d, want 1", turn.ToolIterations)
	}
}

func TestRun_ExhaustsBudgetAndFallsBack(t *testing.T) {
	call := types.ToolCall{ID: "1", Name: toolhost.ToolSearchContacts, Arguments: `{"name":"nobody"}`}
	responses := make([]*llm.CompletionResponse, 0, reasoning.MaxToolIters)
	for i := 0; i < reasoning.MaxToolIters; i++ {
		responses = append(responses, &llm.CompletionResponse{ToolCalls: []types.ToolCall{call}})
	}
	model := &sequenceProvider{responses: responses}
	h := newHost(t)
	defer h.Close()

	d := reasoning.New(model, h)
	turn := d.Run(context.Background(), "system prompt", nil)

	if !turn.Fallback || turn.Reply != reasoning.FallbackReply {
		t.Fatalf("turn = %+v, want fallback", turn)
	}
	if turn.ToolIterations != reasoning.MaxToolIters {
		t.Fatalf("tool iterations = %d, want %d", turn.ToolIterations, reasoning.MaxToolIters)
	}
}

func TestRun_RetriesTransportErrorOnce(t *testing.T) {
	model := &sequenceProvider{
		errs:      []error{errors.New("transport down"), nil},
		responses: []*llm.CompletionResponse{nil, {Content: "recovered"}},
	}
	h := newHost(t)
	defer h.Close()

	d := reasoning.New(model, h)
	turn := d.Run(context.Background(), "system prompt", nil)

	if turn.Fallback || turn.Reply != "recovered" {
		t.Fatalf("turn = %+v, want recovered reply after one retry", turn)
	}
	if model.calls != 2 {
		t.Fatalf("model called %d times, want 2", model.calls)
	}
}

func TestRun_FallsBackAfterSecondTransportFailure(t *testing.T) {
	model := &sequenceProvider{errs: []error{errors.New("down"), errors.New("still down")}}
	h := newHost(t)
	defer h.Close()

	d := reasoning.New(model, h)
	turn := d.Run(context.Background(), "system prompt", nil)

	if !turn.Fallback || turn.Reply != reasoning.FallbackReply {
		t.Fatalf("turn = %+v, want fallback", turn)
	}
}

func TestExtract_NameAndPurpose(t *testing.T) {
	ext := reasoning.Extract("Hi, this is Sarah Chen from Acme about the Q2 proposal.")
	if ext.IdentifiedName != "Sarah Chen" {
		t.Fatalf("IdentifiedName = %q, want %q", ext.IdentifiedName, "Sarah Chen")
	}
	if ext.InferredPurpose == "" {
		t.Fatalf("InferredPurpose = %q, want non-empty", ext.InferredPurpose)
	}
}

func TestExtract_NoMatchLeavesFieldsEmpty(t *testing.T) {
	ext := reasoning.Extract("Hey, I wanted to ask a quick question.")
	if ext.IdentifiedName != "" {
		t.Fatalf("IdentifiedName = %q, want empty", ext.IdentifiedName)
	}
}

func TestSeedContext_PrefersFreshExtraction(t *testing.T) {
	prior := retrieval.Context{IdentifiedName: "old name", InferredPurpose: "old purpose"}
	name, purpose := reasoning.SeedContext(prior, reasoning.Extraction{IdentifiedName: "new name"})
	if name != "new name" {
		t.Fatalf("name = %q, want %q", name, "new name")
	}
	if purpose != "old purpose" {
		t.Fatalf("purpose = %q, want carried forward %q", purpose, "old purpose")
	}
}

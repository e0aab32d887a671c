package toolhost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/MrWong99/atrium/internal/retrieval"
	"github.com/MrWong99/atrium/internal/store"
	"github.com/MrWong99/atrium/pkg/types"
)

// Names of the fixed tool catalogue offered to the reasoning driver.
const (
	ToolSearchContacts   = "search_contacts"
	ToolSearchEmails     = "search_emails"
	ToolGenerateResponse = "generate_response"
)

// searchContactsArgs is the argument struct for search_contacts, used only
// to derive its JSON schema.
type searchContactsArgs struct {
	Name string `json:"name" jsonschema:"the contact's full or partial name"`
}

// searchEmailsArgs is the argument struct for search_emails.
type searchEmailsArgs struct {
	Query string `json:"query" jsonschema:"free-form description of the caller's purpose"`
}

// generateResponseArgs is the argument struct for generate_response, the
// turn's terminal tool.
type generateResponseArgs struct {
	Reply string `json:"reply" jsonschema:"the text to speak back to the caller"`
}

// contactSummary and emailSummary are the serialized shapes returned to the
// model; they deliberately omit internal identifiers the model has no use
// for.
type contactSummary struct {
	DisplayName string  `json:"display_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Company     string  `json:"company,omitempty"`
	Score       float64 `json:"score"`
}

type emailSummary struct {
	Sender  string  `json:"sender"`
	Subject string  `json:"subject"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

const snippetLen = 200

// RegisterRetrievalTools registers search_contacts and search_emails against
// engine, and generate_response as a terminal tool whose handler only echoes
// its arguments; the reasoning driver reads the reply from the call's
// arguments and never dispatches it.
func RegisterRetrievalTools(h *Host, engine *retrieval.Engine) error {
	if err := Register[searchContactsArgs](h, types.ToolDefinition{
		Name:        ToolSearchContacts,
		Description: "Search known contacts by name and return up to a few ranked summaries.",
	}, func(ctx context.Context, argsJSON string) (string, error) {
		if !gjson.Valid(argsJSON) {
			return "", fmt.Errorf("toolhost: %s: invalid args JSON", ToolSearchContacts)
		}
		name := gjson.Get(argsJSON, "name").String()
		results, err := engine.SearchContacts(ctx, name)
		if err != nil {
			return "", err
		}
		return marshalContacts(results)
	}); err != nil {
		return err
	}

	if err := Register[searchEmailsArgs](h, types.ToolDefinition{
		Name:        ToolSearchEmails,
		Description: "Search stored emails by semantic similarity to a free-form purpose description.",
	}, func(ctx context.Context, argsJSON string) (string, error) {
		if !gjson.Valid(argsJSON) {
			return "", fmt.Errorf("toolhost: %s: invalid args JSON", ToolSearchEmails)
		}
		query := gjson.Get(argsJSON, "query").String()
		results, err := engine.SearchEmails(ctx, query)
		if err != nil {
			return "", err
		}
		return marshalEmails(results)
	}); err != nil {
		return err
	}

	if err := Register[generateResponseArgs](h, types.ToolDefinition{
		Name:        ToolGenerateResponse,
		Description: "Terminate the turn and speak the given reply to the caller.",
	}, func(ctx context.Context, argsJSON string) (string, error) {
		// generate_response is never actually dispatched through Execute: the
		// reasoning driver recognizes it by name and ends the turn before
		// calling it. The handler exists so the tool has a complete
		// definition in the catalogue.
		return argsJSON, nil
	}); err != nil {
		return err
	}

	return nil
}

func marshalContacts(results []store.SearchResult) (string, error) {
	out := make([]contactSummary, len(results))
	for i, r := range results {
		out[i] = contactSummary{DisplayName: r.Content, Score: r.Score}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("toolhost: marshal contact summaries: %w", err)
	}
	return string(b), nil
}

func marshalEmails(results []store.SearchResult) (string, error) {
	out := make([]emailSummary, len(results))
	for i, r := range results {
		snippet := r.Content
		if len(snippet) > snippetLen {
			snippet = snippet[:snippetLen]
		}
		out[i] = emailSummary{Subject: r.Content, Snippet: snippet, Score: r.Score}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("toolhost: marshal email summaries: %w", err)
	}
	return string(b), nil
}

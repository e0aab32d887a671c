// Package toolhost hosts the three fixed tools the reasoning driver may call
// during a turn — search_contacts, search_emails, and generate_response —
// behind the Model Context Protocol, using an in-process client/server pair
// rather than an external stdio or streamable-HTTP server.
//
// Unlike a general-purpose MCP host that imports tool catalogues from
// arbitrary external servers, Host always hosts exactly this fixed set;
// there is nothing in this domain plugged in from outside the process.
package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/atrium/pkg/types"
)

// Handler executes one tool call given its JSON-encoded argument object and
// returns the tool's textual result.
type Handler func(ctx context.Context, argsJSON string) (string, error)

// toolSpec pairs a tool's definition and derived schema with the handler
// that executes it.
type toolSpec struct {
	def     types.ToolDefinition
	schema  *jsonschema.Schema
	handler Handler
}

// Host is an in-process MCP client/server pair hosting a fixed tool set.
//
// Start must be called once after all tools are registered; Execute and
// Tools are only valid afterward. The zero value is not usable — create
// instances with [New].
type Host struct {
	name    string
	version string
	specs   []toolSpec

	server  *mcpsdk.Server
	session *mcpsdk.ClientSession
}

// New creates a Host identified by name/version in the MCP handshake.
func New(name, version string) *Host {
	return &Host{name: name, version: version}
}

// Register adds a tool to the host. T is the tool's argument struct, used
// only to derive its JSON schema via reflection; the handler itself still
// receives raw JSON so its signature stays identical across tools. Register
// must be called before Start.
func Register[T any](h *Host, def types.ToolDefinition, handler Handler) error {
	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return fmt.Errorf("toolhost: derive schema for %q: %w", def.Name, err)
	}
	h.specs = append(h.specs, toolSpec{def: def, schema: schema, handler: handler})
	return nil
}

// Start builds the in-process MCP server from every registered tool, wires
// it to a freshly dialed client session over an in-memory transport pair,
// and begins serving. ctx governs the server's run loop; cancelling it (or
// calling Close) shuts the pair down.
func (h *Host) Start(ctx context.Context) error {
	h.server = mcpsdk.NewServer(&mcpsdk.Implementation{Name: h.name, Version: h.version}, nil)

	for _, spec := range h.specs {
		handler := spec.handler
		mcpsdk.AddTool(h.server, &mcpsdk.Tool{
			Name:        spec.def.Name,
			Description: spec.def.Description,
			InputSchema: spec.schema,
		}, func(ctx context.Context, req *mcpsdk.CallToolRequest, input map[string]any) (*mcpsdk.CallToolResult, any, error) {
			argsJSON, err := json.Marshal(input)
			if err != nil {
				return nil, nil, fmt.Errorf("toolhost: marshal arguments for %q: %w", spec.def.Name, err)
			}
			out, err := handler(ctx, string(argsJSON))
			if err != nil {
				return &mcpsdk.CallToolResult{
					Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
					IsError: true,
				}, nil, nil
			}
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: out}},
			}, nil, nil
		})
	}

	serverTransport, clientTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_ = h.server.Run(ctx, serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: h.name + "-client", Version: h.version}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		return fmt.Errorf("toolhost: connect in-process client: %w", err)
	}
	h.session = session
	return nil
}

// Tools returns the definitions of every registered tool, in registration
// order, suitable for [llm.CompletionRequest.Tools].
func (h *Host) Tools() []types.ToolDefinition {
	defs := make([]types.ToolDefinition, len(h.specs))
	for i, s := range h.specs {
		defs[i] = s.def
	}
	return defs
}

// Execute calls the named tool with a JSON-encoded argument object and
// returns its textual content. name must match a tool passed to Register.
func (h *Host) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	var args map[string]any
	if strings.TrimSpace(argsJSON) != "" && argsJSON != "{}" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("toolhost: invalid args JSON for tool %q: %w", name, err)
		}
	}

	result, err := h.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("toolhost: call %q: %w", name, err)
	}

	var sb strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if result.IsError {
		return "", fmt.Errorf("toolhost: tool %q returned an error: %s", name, sb.String())
	}
	return sb.String(), nil
}

// Close shuts down the client session and the underlying server.
func (h *Host) Close() error {
	if h.session != nil {
		return h.session.Close()
	}
	return nil
}

// Package mcp exposes the sidecar over the model context protocol, so
// MCP-speaking agent runtimes can recall, ingest and search without the
// REST client.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cortexmem/cortex/pkg/gate"
	"github.com/cortexmem/cortex/pkg/sieve"
)

const (
	toolRecall = "cortex_recall"
	toolIngest = "cortex_ingest"
	toolSearch = "cortex_search"
)

// Backend is the capability contract the tools call into. *gate.Gate
// and *sieve.Sieve satisfy it together via Deps.
type Backend interface {
	Recall(ctx context.Context, in gate.RecallInput) *gate.RecallResult
	Ingest(ctx context.Context, in sieve.IngestInput) (*sieve.IngestResult, error)
	Search(ctx context.Context, agentID, query string, expand bool) ([]gate.SearchHit, error)
}

type backend struct {
	gate  *gate.Gate
	sieve *sieve.Sieve
}

func (b *backend) Recall(ctx context.Context, in gate.RecallInput) *gate.RecallResult {
	return b.gate.Recall(ctx, in)
}

func (b *backend) Ingest(ctx context.Context, in sieve.IngestInput) (*sieve.IngestResult, error) {
	return b.sieve.Ingest(ctx, in)
}

func (b *backend) Search(ctx context.Context, agentID, query string, expand bool) ([]gate.SearchHit, error) {
	return b.gate.Search(ctx, agentID, query, expand)
}

// NewHandler builds a streamable HTTP handler serving the cortex tools.
func NewHandler(g *gate.Gate, s *sieve.Sieve, version string) http.Handler {
	return NewHandlerWithBackend(&backend{gate: g, sieve: s}, version)
}

func NewHandlerWithBackend(b Backend, version string) http.Handler {
	srv := mcpserver.NewMCPServer(
		"cortex",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	registerTools(srv, b)

	streamable := mcpserver.NewStreamableHTTPServer(srv, mcpserver.WithStateLess(true))
	return http.HandlerFunc(streamable.ServeHTTP)
}

func registerTools(srv *mcpserver.MCPServer, b Backend) {
	srv.AddTool(mcpproto.NewTool(toolRecall,
		mcpproto.WithDescription("Recall relevant memories as an injectable context block for the current query."),
		mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("The user's current message or question.")),
		mcpproto.WithString("agent_id", mcpproto.Description("Agent namespace (defaults to \"default\").")),
		mcpproto.WithNumber("max_tokens", mcpproto.Description("Token budget for the returned context (optional).")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		query := getString(args, "query")
		if strings.TrimSpace(query) == "" {
			return errResult("query is required"), nil
		}

		res := b.Recall(ctx, gate.RecallInput{
			Query:     query,
			AgentID:   agentID(args),
			MaxTokens: getInt(args, "max_tokens"),
		})
		return structuredResult("recall completed", res)
	})

	srv.AddTool(mcpproto.NewTool(toolIngest,
		mcpproto.WithDescription("Sift one conversational exchange for durable memories."),
		mcpproto.WithString("user_message", mcpproto.Required(), mcpproto.Description("The user's message.")),
		mcpproto.WithString("assistant_message", mcpproto.Description("The assistant's reply.")),
		mcpproto.WithString("agent_id", mcpproto.Description("Agent namespace (defaults to \"default\").")),
		mcpproto.WithString("session_id", mcpproto.Description("Session tag recorded in memory sources.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		userMsg := getString(args, "user_message")
		if strings.TrimSpace(userMsg) == "" {
			return errResult("user_message is required"), nil
		}

		res, err := b.Ingest(ctx, sieve.IngestInput{
			UserMessage:      userMsg,
			AssistantMessage: getString(args, "assistant_message"),
			AgentID:          agentID(args),
			SessionID:        getString(args, "session_id"),
		})
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("ingest completed", res)
	})

	srv.AddTool(mcpproto.NewTool(toolSearch,
		mcpproto.WithDescription("Hybrid search over stored memories with scores, no side effects."),
		mcpproto.WithString("query", mcpproto.Required(), mcpproto.Description("Search query.")),
		mcpproto.WithString("agent_id", mcpproto.Description("Agent namespace (defaults to \"default\").")),
		mcpproto.WithBoolean("expand", mcpproto.Description("Run LLM query expansion before searching.")),
	), func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
		args := req.GetArguments()
		query := getString(args, "query")
		if strings.TrimSpace(query) == "" {
			return errResult("query is required"), nil
		}

		hits, err := b.Search(ctx, agentID(args), query, getBool(args, "expand"))
		if err != nil {
			return errResult(err.Error()), nil
		}
		return structuredResult("search completed", hits)
	})
}

func agentID(args map[string]any) string {
	if id := getString(args, "agent_id"); id != "" {
		return id
	}
	return sieve.DefaultAgentID
}

func errResult(msg string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: "Error: " + msg},
		},
		IsError: true,
	}
}

func structuredResult(summary string, data any) (*mcpproto.CallToolResult, error) {
	blob, err := json.Marshal(data)
	if err != nil {
		return errResult(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return &mcpproto.CallToolResult{
		Content: []mcpproto.Content{
			mcpproto.TextContent{Type: "text", Text: summary},
			mcpproto.TextContent{Type: "text", Text: string(blob)},
		},
	}, nil
}

func getString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]any, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

func getBool(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

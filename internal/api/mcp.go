package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/opconsole/internal/console"
	"github.com/kalambet/opconsole/internal/model"
	"github.com/kalambet/opconsole/internal/storage"
)

// MCPJournal abstracts the action history for the MCP layer.
type MCPJournal interface {
	RecentActions(limit int) ([]storage.Action, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Console *console.Console
	Journal MCPJournal // optional; if nil, the history resource is not registered
	Version string
}

// NewMCPServer creates an MCP server exposing the console views and actions as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"opconsole",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("opconsole: inspect the orchestrator graph, request drafts, approve them and start runs."),
		server.WithRecovery(),
	)

	// Views
	s.AddTool(
		mcp.NewTool("graph",
			mcp.WithDescription("Return the reconciled execution graph: nodes with positions and status, edges with their derived style."),
		),
		mcpView(func() any { return deps.Console.Graph() }),
	)

	s.AddTool(
		mcp.NewTool("timeline",
			mcp.WithDescription("Return drafts, approved artifacts and runs merged newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of items (default 20)")),
		),
		mcpTimeline(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline",
			mcp.WithDescription("Return the five execution stages of every request turn."),
		),
		mcpView(func() any { return deps.Console.Pipeline() }),
	)

	s.AddTool(
		mcp.NewTool("status",
			mcp.WithDescription("Return polling cadence, failure counts and staleness of every view."),
		),
		mcpView(func() any { return deps.Console.Status() }),
	)

	// Actions
	s.AddTool(
		mcp.NewTool("send",
			mcp.WithDescription("Submit a natural-language request; the backend turns it into a draft."),
			mcp.WithString("prompt", mcp.Description("The request"), mcp.Required()),
		),
		mcpSend(deps),
	)

	s.AddTool(
		mcp.NewTool("approve",
			mcp.WithDescription("Approve a draft into an executable artifact."),
			mcp.WithString("draft_id", mcp.Description("Draft to approve"), mcp.Required()),
		),
		mcpApprove(deps),
	)

	s.AddTool(
		mcp.NewTool("reject",
			mcp.WithDescription("Reject a draft."),
			mcp.WithString("draft_id", mcp.Description("Draft to reject"), mcp.Required()),
		),
		mcpReject(deps),
	)

	s.AddTool(
		mcp.NewTool("run",
			mcp.WithDescription("Start a run of an approved artifact. Pass approved_id, or draft_id of an approved draft."),
			mcp.WithString("approved_id", mcp.Description("Approved artifact to run")),
			mcp.WithString("draft_id", mcp.Description("Approved draft to run")),
		),
		mcpRun(deps),
	)

	if deps.Journal != nil {
		s.AddResource(
			mcp.NewResource(
				"console://actions",
				"Recent Actions",
				mcp.WithResourceDescription("Last 20 operator actions and their outcome"),
				mcp.WithMIMEType("application/json"),
			),
			mcpResourceActions(deps),
		)
	}

	return s
}

func mcpView(view func() any) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(view()), nil
	}
}

func mcpTimeline(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		items := deps.Console.Timeline()
		if len(items) > limit {
			items = items[:limit]
		}
		return mcpJSON(items), nil
	}
}

func mcpSend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		turn, err := deps.Console.Send(ctx, prompt)
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}
		return mcpJSON(turn), nil
	}
}

func mcpApprove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		draftID, err := req.RequireString("draft_id")
		if err != nil {
			return mcpError("draft_id is required"), nil
		}
		res, err := deps.Console.Approve(ctx, draftID)
		if err != nil {
			return mcpError(fmt.Sprintf("approve failed: %v", err)), nil
		}
		return mcpJSON(res), nil
	}
}

func mcpReject(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		draftID, err := req.RequireString("draft_id")
		if err != nil {
			return mcpError("draft_id is required"), nil
		}
		d, err := deps.Console.Reject(ctx, draftID)
		if err != nil {
			return mcpError(fmt.Sprintf("reject failed: %v", err)), nil
		}
		return mcpJSON(d), nil
	}
}

func mcpRun(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var (
			run model.Run
			err error
		)
		if approvedID := req.GetString("approved_id", ""); approvedID != "" {
			run, err = deps.Console.Run(ctx, approvedID)
		} else if draftID := req.GetString("draft_id", ""); draftID != "" {
			run, err = deps.Console.RunDraft(ctx, draftID)
		} else {
			return mcpError("approved_id or draft_id is required"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("run failed: %v", err)), nil
		}
		return mcpJSON(run), nil
	}
}

func mcpResourceActions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		actions, err := deps.Journal.RecentActions(20)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent actions: %w", err)
		}

		b, err := json.Marshal(actions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal actions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

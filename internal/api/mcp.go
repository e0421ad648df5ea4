package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/solace/internal/chat"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Session     *chat.Session
	Provisioner ModelProvisioner
}

// NewMCPServer creates an MCP server exposing the conversation session as
// tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"solace",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("solace — a local, private companion chat backed by an on-device model."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a message to the companion and return its reply."),
			mcp.WithString("message", mcp.Description("The message text"), mcp.Required()),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_chat",
			mcp.WithDescription("Clear the conversation transcript. The loaded model is kept."),
		),
		mcpClearChat(deps),
	)

	s.AddTool(
		mcp.NewTool("model_status",
			mcp.WithDescription("Report whether the local model is downloaded and loaded, with download progress."),
		),
		mcpModelStatus(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"chat://transcript",
			"Conversation Transcript",
			mcp.WithResourceDescription("The current conversation as a JSON array of turns"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTranscript(deps),
	)

	return s
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		if err := deps.Session.Send(ctx, message); err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}

		st := deps.Session.State()
		for i := len(st.Transcript) - 1; i >= 0; i-- {
			if st.Transcript[i].Role == chat.RoleAssistant {
				return mcpText(st.Transcript[i].Content), nil
			}
		}
		return mcpError("no reply produced"), nil
	}
}

func mcpClearChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.Session.Clear()
		return mcpText("Transcript cleared."), nil
	}
}

func mcpModelStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Provisioner.Status())
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceTranscript(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		st := deps.Session.State()

		b, err := json.Marshal(st.Transcript)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transcript: %w", err)
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

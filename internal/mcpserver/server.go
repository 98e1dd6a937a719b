// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes ReliefNet operator tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/reliefnet/internal/console"
	"github.com/starford/reliefnet/internal/frame"
)

// Server wraps the MCP server with ReliefNet tools.
type Server struct {
	mcp *server.MCPServer
	svc *console.Service
}

// New creates a new MCP server with all operator tools registered.
func New(svc *console.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"ReliefNet",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_nodes",
		mcp.WithDescription("List relief nodes known to the hub with their active flag and last contact."),
	), s.listNodes)

	s.mcp.AddTool(mcp.NewTool("list_users",
		mcp.WithDescription("List end users seen through service registrations and GPS fixes."),
		mcp.WithString("service", mcp.Description("Only users offering or requesting this service code")),
	), s.listUsers)

	s.mcp.AddTool(mcp.NewTool("recent_chats",
		mcp.WithDescription("Recent chat messages relayed by the hub, newest first."),
		mcp.WithString("uid", mcp.Description("Only chats sent or received by this user id")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of chats (default 20, max 200)")),
	), s.recentChats)

	s.mcp.AddTool(mcp.NewTool("recent_events",
		mcp.WithDescription("Journaled hub events (boots, lost nodes, registrations, chats), newest first."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default 20, max 100)")),
	), s.recentEvents)

	s.mcp.AddTool(mcp.NewTool("send_command",
		mcp.WithDescription("Send an operator message to one node or to every node. "+
			"Read the operator guide first via get_operator_guide or reliefnet://operator-guide."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text, at most 179 bytes")),
		mcp.WithString("to", mcp.Description("Node id such as D1, or 'all' (default)")),
		mcp.WithString("userId", mcp.Description("Optional user id the message concerns")),
	), s.sendCommand)

	s.mcp.AddTool(mcp.NewTool("set_ticker",
		mcp.WithDescription("Replace the announcement banner on every node portal. An empty message clears it."),
		mcp.WithString("message", mcp.Required(), mcp.Description("Announcement text")),
	), s.setTicker)

	s.mcp.AddTool(mcp.NewTool("get_operator_guide",
		mcp.WithDescription("Returns the ReliefNet operator guide: vocabulary, command rules and delivery caveats."),
	), s.getOperatorGuide)

	s.mcp.AddResource(
		mcp.NewResource("reliefnet://operator-guide", "Operator Guide",
			mcp.WithResourceDescription("Vocabulary and command rules for operating a ReliefNet hub."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readOperatorGuideResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func clamp(n, def, limit int) int {
	if n <= 0 {
		return def
	}
	return min(n, limit)
}

func (s *Server) listNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodes := s.svc.Nodes()
	if len(nodes) == 0 {
		return mcp.NewToolResultText("no nodes seen yet"), nil
	}
	return jsonResult(nodes), nil
}

func (s *Server) listUsers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	service := req.GetString("service", "")
	users := s.svc.Users()
	if service != "" {
		filtered := users[:0]
		for _, u := range users {
			if u.Offering == service || u.Requesting == service {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	if len(users) == 0 {
		return mcp.NewToolResultText("no users found"), nil
	}
	return jsonResult(users), nil
}

func (s *Server) recentChats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(req.GetInt("limit", 20), 20, 200)
	return jsonResult(s.svc.Chats(req.GetString("uid", ""), limit)), nil
}

func (s *Server) recentEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := clamp(req.GetInt("limit", 20), 20, 100)
	events, err := s.svc.Events(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(events), nil
}

func (s *Server) sendCommand(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(text) > frame.MaxPayload {
		return mcp.NewToolResultError(fmt.Sprintf("text is %d bytes, limit %d", len(text), frame.MaxPayload)), nil
	}
	to := req.GetString("to", "all")
	if err := s.svc.Send(to, req.GetString("userId", ""), text); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("sent to %s", to)), nil
}

func (s *Server) setTicker(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, err := req.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(msg) > frame.MaxPayload {
		return mcp.NewToolResultError(fmt.Sprintf("message is %d bytes, limit %d", len(msg), frame.MaxPayload)), nil
	}
	if err := s.svc.SetTicker(msg); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if msg == "" {
		return mcp.NewToolResultText("ticker cleared"), nil
	}
	return mcp.NewToolResultText("ticker set"), nil
}

func (s *Server) getOperatorGuide(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(OperatorGuide), nil
}

func (s *Server) readOperatorGuideResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "reliefnet://operator-guide",
			MIMEType: "text/markdown",
			Text:     OperatorGuide,
		},
	}, nil
}

package mcp

import (
	"context"

	"meetwise/app/booking"
	"meetwise/app/service/conversation"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

// Conversations is the part of the conversation service exposed as tools.
type Conversations interface {
	HandleMessage(ctx context.Context, conversationID, text string) (*conversation.Reply, error)
	History(ctx context.Context, conversationID string) ([]booking.Message, error)
	State(ctx context.Context, conversationID string) (booking.State, error)
	Events(ctx context.Context, conversationID string) ([]conversation.Event, error)
}

var (
	chatToolDef = mcp.NewTool("booking_chat",
		mcp.WithDescription("Send one user message to the scheduling assistant and get its reply. "+
			"Reuse conversation_id across turns of the same booking."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
	)

	historyToolDef = mcp.NewTool("booking_history",
		mcp.WithDescription("Return the stored transcript of a conversation, oldest first."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
	)

	stateToolDef = mcp.NewTool("booking_state",
		mcp.WithDescription("Return the booking state of a conversation: draft, status and pending proposals."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
	)

	eventsToolDef = mcp.NewTool("booking_events",
		mcp.WithDescription("List the calendar events a conversation booked, including cancelled ones."),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation identifier")),
	)
)

// NewServer creates an MCP server with the booking tools registered.
func NewServer(conversations Conversations, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"meetwise",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(conversations)

	s.AddTool(chatToolDef, h.HandleChat)
	s.AddTool(historyToolDef, h.HandleHistory)
	s.AddTool(stateToolDef, h.HandleState)
	s.AddTool(eventsToolDef, h.HandleEvents)

	return s
}

// Run serves the tools over stdio until stdin closes.
func Run(di *do.Injector, version string) error {
	s := NewServer(do.MustInvoke[*conversation.Service](di), version)
	return server.ServeStdio(s)
}

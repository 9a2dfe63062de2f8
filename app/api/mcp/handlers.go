package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"meetwise/app/booking"
	"meetwise/app/service/conversation"

	"github.com/mark3labs/mcp-go/mcp"
)

type ChatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type ConversationRequest struct {
	ConversationID string `json:"conversation_id"`
}

type Handlers struct {
	conversations Conversations
}

func NewHandlers(conversations Conversations) *Handlers {
	return &Handlers{conversations: conversations}
}

// HandleChat handles the booking_chat tool call.
func (h *Handlers) HandleChat(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChatRequest](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}

	reply, err := h.conversations.HandleMessage(ctx, strings.TrimSpace(input.ConversationID), input.Message)
	if err != nil && reply == nil {
		return failure(err), nil
	}
	if err != nil {
		// The turn was answered but not saved; the reply says so.
		slog.Warn("Chat turn not saved", "conversation_id", input.ConversationID, "error", err)
	}

	return mcp.NewToolResultJSON(reply)
}

// HandleHistory handles the booking_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeConversation(req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}

	history, err := h.conversations.History(ctx, input.ConversationID)
	if err != nil {
		return failure(err), nil
	}

	return mcp.NewToolResultJSON(map[string]any{
		"conversation_id": input.ConversationID,
		"messages":        history,
	})
}

// HandleState handles the booking_state tool call.
func (h *Handlers) HandleState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeConversation(req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}

	st, err := h.conversations.State(ctx, input.ConversationID)
	if err != nil {
		return failure(err), nil
	}

	return mcp.NewToolResultJSON(st)
}

// HandleEvents handles the booking_events tool call.
func (h *Handlers) HandleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeConversation(req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error()), nil
	}

	events, err := h.conversations.Events(ctx, input.ConversationID)
	if err != nil {
		return failure(err), nil
	}

	return mcp.NewToolResultJSON(map[string]any{
		"conversation_id": input.ConversationID,
		"events":          events,
	})
}

func decodeConversation(req mcp.CallToolRequest) (ConversationRequest, error) {
	input, err := decode[ConversationRequest](req)
	if err != nil {
		return input, err
	}

	input.ConversationID = strings.TrimSpace(input.ConversationID)
	if input.ConversationID == "" {
		return input, conversation.ErrInvalidConversationID
	}

	return input, nil
}

// failure maps service errors to tool errors. Internal details are logged, not returned.
func failure(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrInvalidConversationID):
		return errorResult("INVALID_REQUEST", err.Error())
	case errors.Is(err, booking.ErrBusy):
		return errorResult("BUSY", "a previous message of this conversation is still being processed")
	case errors.Is(err, booking.ErrVersionConflict):
		return errorResult("CONFLICT", "the conversation changed concurrently, retry the message")
	default:
		slog.Error("MCP tool call failed", "error", err)
		return errorResult("INTERNAL", "an internal error occurred")
	}
}

// errorResult uses IsError so MCP clients recognize failures.
func errorResult(code, message string) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})

	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

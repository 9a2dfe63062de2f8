package rest

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"meetwise/app/booking"
	"meetwise/app/service/conversation"
	"meetwise/app/service/store"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
)

type chatRequest struct {
	Message        string `json:"message" validate:"required,max=4000"`
	ConversationID string `json:"conversation_id" validate:"omitempty,max=128"`
}

type chatResponse struct {
	*conversation.Reply
	Success bool `json:"success"`
}

type historyResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []booking.Message `json:"messages"`
}

type recentResponse struct {
	Conversations []store.Summary `json:"conversations"`
}

type eventsResponse struct {
	ConversationID string               `json:"conversation_id"`
	Events         []conversation.Event `json:"events"`
}

type healthResponse struct {
	Status          string    `json:"status"`
	CalendarService string    `json:"calendar_service"`
	Store           string    `json:"store"`
	Timestamp       time.Time `json:"timestamp"`
}

type databaseStatusResponse struct {
	Status                   string `json:"status"`
	TablesExist              bool   `json:"tables_exist"`
	RecentConversationsCount int    `json:"recent_conversations_count"`
	Error                    string `json:"error,omitempty"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type handlers struct {
	conversations Conversations
	validate      *validator.Validate
}

// health is healthy when every dependency answers, degraded when only the
// calendar is down and unhealthy when the store is.
func (h *handlers) health(c *fiber.Ctx) error {
	health := h.conversations.Health(c.UserContext())

	resp := healthResponse{
		Status:          "healthy",
		CalendarService: "connected",
		Store:           "connected",
		Timestamp:       time.Now().UTC(),
	}
	status := fiber.StatusOK

	if health.Calendar != nil {
		slog.Warn("Calendar health check failed", "error", health.Calendar)
		resp.Status = "degraded"
		resp.CalendarService = "disconnected"
	}
	if health.Store != nil {
		slog.Error("Store health check failed", "error", health.Store)
		resp.Status = "unhealthy"
		resp.Store = "disconnected"
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(resp)
}

func (h *handlers) databaseStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	err := h.conversations.PingStore(ctx)

	var recent []store.Summary
	if err == nil {
		recent, err = h.conversations.Recent(ctx, 1)
	}
	if err != nil {
		slog.Error("Database status check failed", "error", err)
		return c.Status(fiber.StatusServiceUnavailable).JSON(databaseStatusResponse{
			Status: "disconnected",
			Error:  "store unreachable",
		})
	}

	return c.JSON(databaseStatusResponse{
		Status:                   "connected",
		TablesExist:              true,
		RecentConversationsCount: len(recent),
	})
}

func (h *handlers) chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	req.Message = strings.TrimSpace(req.Message)
	req.ConversationID = strings.TrimSpace(req.ConversationID)

	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	reply, err := h.conversations.HandleMessage(c.UserContext(), req.ConversationID, req.Message)
	switch {
	case err == nil:
		return c.JSON(chatResponse{Reply: reply, Success: true})
	case errors.Is(err, booking.ErrVersionConflict) && reply != nil:
		return c.Status(fiber.StatusConflict).JSON(chatResponse{Reply: reply, Success: false})
	case errors.Is(err, booking.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, "a previous message of this conversation is still being processed")
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, conversation.ErrInvalidConversationID):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func (h *handlers) history(c *fiber.Ctx) error {
	id := c.Params("id")

	messages, err := h.conversations.History(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(historyResponse{ConversationID: id, Messages: messages})
}

func (h *handlers) state(c *fiber.Ctx) error {
	st, err := h.conversations.State(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(st)
}

func (h *handlers) clear(c *fiber.Ctx) error {
	id := c.Params("id")

	err := h.conversations.Clear(c.UserContext(), id)
	switch {
	case err == nil:
		return c.JSON(messageResponse{Message: "Conversation " + id + " cleared"})
	case errors.Is(err, booking.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, "a message of this conversation is still being processed")
	case errors.Is(err, conversation.ErrInvalidConversationID):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}

func (h *handlers) events(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Query("conversation_id"))
	if id == "" {
		return fiber.NewError(fiber.StatusBadRequest, "conversation_id is required")
	}

	events, err := h.conversations.Events(c.UserContext(), id)
	if err != nil {
		return err
	}

	return c.JSON(eventsResponse{ConversationID: id, Events: events})
}

func (h *handlers) recent(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultRecentLimit)
	if limit < 1 || limit > maxRecentLimit {
		return fiber.NewError(fiber.StatusBadRequest, "limit must be between 1 and 100")
	}

	summaries, err := h.conversations.Recent(c.UserContext(), limit)
	if err != nil {
		return err
	}

	return c.JSON(recentResponse{Conversations: summaries})
}

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/conversation"
	"github.com/basketly/engage/internal/message"
	"github.com/basketly/engage/internal/notify"
)

// ConversationsHandler serves dashboard conversation listings and read
// state changes.
type ConversationsHandler struct {
	conversations *conversation.Store
	messages      *message.Store
	propagator    *notify.Propagator
	logger        *slog.Logger
}

// NewConversationsHandler creates a conversations handler.
func NewConversationsHandler(log *slog.Logger, conversations *conversation.Store, messages *message.Store, propagator *notify.Propagator) *ConversationsHandler {
	return &ConversationsHandler{
		conversations: conversations,
		messages:      messages,
		propagator:    propagator,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

func (h *ConversationsHandler) Register(e *echo.Echo) {
	g := e.Group("/api/conversations")
	g.GET("", h.List)
	g.GET("/:id/messages", h.ListMessages)
	g.POST("/:id/read", h.MarkRead)
	g.POST("/read-all", h.MarkAllRead)
}

type conversationView struct {
	ID            string     `json:"id"`
	ContactID     string     `json:"contact_id"`
	AssistantID   string     `json:"assistant_id,omitempty"`
	AIEnabled     bool       `json:"ai_enabled"`
	Status        string     `json:"status"`
	TotalMessages int        `json:"total_messages"`
	UnreadCount   int        `json:"unread_count"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

func toConversationView(c conversation.Conversation) conversationView {
	v := conversationView{
		ID:            c.ID.String(),
		ContactID:     c.ContactID.String(),
		AssistantID:   c.AssistantID,
		AIEnabled:     c.AIEnabled,
		Status:        c.Status,
		TotalMessages: c.TotalMessages,
		UnreadCount:   c.UnreadCount,
	}
	if !c.LastMessageAt.IsZero() {
		t := c.LastMessageAt
		v.LastMessageAt = &t
	}
	return v
}

// List pages conversations, newest activity first.
func (h *ConversationsHandler) List(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	items, err := h.conversations.List(c.Request().Context(), limit, offset)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}
	views := make([]conversationView, 0, len(items))
	for _, item := range items {
		views = append(views, toConversationView(item))
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": views})
}

type messageView struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	Content    string    `json:"content"`
	Direction  string    `json:"direction"`
	SenderType string    `json:"sender_type"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ListMessages returns the newest messages in one conversation.
func (h *ConversationsHandler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.messages.ListByConversation(c.Request().Context(), id, limit)
	if err != nil {
		h.logger.Error("list messages failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "listing failed"})
	}
	views := make([]messageView, 0, len(items))
	for _, m := range items {
		views = append(views, messageView{
			ID:         m.ID.String(),
			ExternalID: m.ExternalID,
			Content:    m.Content,
			Direction:  m.Direction,
			SenderType: m.SenderType,
			Status:     m.Status,
			CreatedAt:  m.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": views})
}

// MarkRead clears one conversation's unread counter and pushes the change
// to notification subscribers before responding.
func (h *ConversationsHandler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid conversation id"})
	}
	err = h.propagator.MarkRead(c.Request().Context(), id)
	if errors.Is(err, conversation.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}
	if err != nil {
		h.logger.Error("mark read failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "mark read failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"unread_total": h.propagator.Current().Total})
}

// MarkAllRead clears every unread counter.
func (h *ConversationsHandler) MarkAllRead(c echo.Context) error {
	if err := h.propagator.MarkAllRead(c.Request().Context()); err != nil {
		h.logger.Error("mark all read failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "mark all read failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"unread_total": 0})
}

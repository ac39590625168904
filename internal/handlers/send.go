package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/contact"
	"github.com/basketly/engage/internal/conversation"
	"github.com/basketly/engage/internal/delivery"
	"github.com/basketly/engage/internal/gateway"
	"github.com/basketly/engage/internal/message"
)

// ContactResolver looks up or creates the contact behind an address.
type ContactResolver interface {
	GetOrCreateByAddress(ctx context.Context, address, pushName string) (contact.Contact, error)
}

// ConversationResolver looks up or creates a contact's conversation.
type ConversationResolver interface {
	GetOrCreateByContact(ctx context.Context, contactID uuid.UUID, externalID string) (conversation.Conversation, error)
}

// Deliverer sends and persists an outbound message.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error)
}

// SendHandler lets operators send messages from the dashboard.
type SendHandler struct {
	contacts      ContactResolver
	conversations ConversationResolver
	deliverer     Deliverer
	logger        *slog.Logger
}

// NewSendHandler creates a send handler.
func NewSendHandler(log *slog.Logger, contacts ContactResolver, conversations ConversationResolver, deliverer Deliverer) *SendHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SendHandler{
		contacts:      contacts,
		conversations: conversations,
		deliverer:     deliverer,
		logger:        log.With(slog.String("handler", "send")),
	}
}

func (h *SendHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/send", h.Send)
}

type sendRequest struct {
	To   string `json:"to" validate:"required"`
	Text string `json:"text" validate:"required,max=4096"`
}

type sendResponse struct {
	ConversationID string `json:"conversation_id"`
	ExternalID     string `json:"external_id"`
	Stored         bool   `json:"stored"`
}

// Send delivers an operator message to a contact, creating the contact and
// conversation on first use.
func (h *SendHandler) Send(c echo.Context) error {
	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	address := gateway.NormalizeAddress(req.To)
	if address == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid recipient"})
	}

	ctx := c.Request().Context()
	con, err := h.contacts.GetOrCreateByAddress(ctx, address, "")
	if err != nil {
		h.logger.Error("contact resolution failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "contact resolution failed"})
	}
	conv, err := h.conversations.GetOrCreateByContact(ctx, con.ID, "")
	if err != nil {
		h.logger.Error("conversation resolution failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "conversation resolution failed"})
	}

	result, err := h.deliverer.Deliver(ctx, delivery.Request{
		ConversationID: conv.ID,
		Address:        address,
		Text:           req.Text,
		SenderType:     message.SenderAdmin,
	})
	if errors.Is(err, gateway.ErrSendFailed) {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, sendResponse{
		ConversationID: conv.ID.String(),
		ExternalID:     result.ExternalID,
		Stored:         result.Stored,
	})
}

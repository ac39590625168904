package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/pipeline"
)

// EventProcessor handles one raw webhook event.
type EventProcessor interface {
	HandleEvent(ctx context.Context, body []byte) (pipeline.Outcome, error)
}

// WebhookHandler receives gateway callbacks.
type WebhookHandler struct {
	processor EventProcessor
	secret    string
	logger    *slog.Logger
}

// NewWebhookHandler creates a webhook handler. An empty secret disables
// signature verification.
func NewWebhookHandler(log *slog.Logger, processor EventProcessor, secret string) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		processor: processor,
		secret:    secret,
		logger:    log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook", h.Receive)
	e.GET("/webhook", h.Describe)
}

// Describe lets the gateway's dashboard verify the endpoint is alive.
func (h *WebhookHandler) Describe(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "active",
		"supported_events": []string{
			pipeline.EventMessagesUpsert,
			pipeline.EventMessagesUpdate,
			pipeline.EventWebhookTest,
		},
	})
}

// Receive processes one gateway event. The gateway retries on non-2xx, so
// only genuinely retryable failures return one.
func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.secret != "" {
		provided := c.Request().Header.Get("X-Webhook-Signature")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			h.logger.Warn("webhook signature mismatch")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid signature"})
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 4<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable body"})
	}

	outcome, err := h.processor.HandleEvent(c.Request().Context(), body)
	if err != nil {
		h.logger.Error("webhook processing failed",
			slog.String("event", outcome.Event),
			slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "processing failed"})
	}
	return c.JSON(http.StatusOK, outcome)
}

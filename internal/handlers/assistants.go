package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/assistant"
	"github.com/basketly/engage/internal/mention"
)

// AssistantsHandler exposes assistant diagnostics to the dashboard.
type AssistantsHandler struct {
	interactions *assistant.InteractionStore
	detector     *mention.Detector
	logger       *slog.Logger
}

// NewAssistantsHandler creates an assistants handler.
func NewAssistantsHandler(log *slog.Logger, interactions *assistant.InteractionStore, detector *mention.Detector) *AssistantsHandler {
	return &AssistantsHandler{
		interactions: interactions,
		detector:     detector,
		logger:       log.With(slog.String("handler", "assistants")),
	}
}

func (h *AssistantsHandler) Register(e *echo.Echo) {
	e.GET("/api/assistants/stats", h.Stats)
	e.POST("/api/mentions/test", h.TestMention)
}

// Stats summarizes assistant activity over the last 24 hours.
func (h *AssistantsHandler) Stats(c echo.Context) error {
	stats, err := h.interactions.RecentStats(c.Request().Context(), 24*time.Hour)
	if err != nil {
		h.logger.Error("interaction stats failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "stats unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"total":          stats.Total,
		"fallbacks":      stats.Fallbacks,
		"avg_latency_ms": stats.AvgLatencyMS,
	})
}

type mentionTestRequest struct {
	Text string `json:"text" validate:"required"`
}

// TestMention runs the mention detector against arbitrary text so operators
// can check what would trigger the assistant.
func (h *AssistantsHandler) TestMention(c echo.Context) error {
	var req mentionTestRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, h.detector.Detect(req.Text))
}

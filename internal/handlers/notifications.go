package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/notify"
)

// NotificationsHandler exposes unread state: a snapshot endpoint for
// polling clients and a websocket stream for live dashboards.
type NotificationsHandler struct {
	propagator *notify.Propagator
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

// NewNotificationsHandler creates a notifications handler.
func NewNotificationsHandler(log *slog.Logger, propagator *notify.Propagator) *NotificationsHandler {
	return &NotificationsHandler{
		propagator: propagator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The dashboard is served from another origin in development.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With(slog.String("handler", "notifications")),
	}
}

func (h *NotificationsHandler) Register(e *echo.Echo) {
	e.GET("/api/notifications", h.Snapshot)
	e.GET("/api/notifications/stream", h.Stream)
}

type unreadConversation struct {
	ID          string `json:"id"`
	UnreadCount int    `json:"unread_count"`
}

type snapshotView struct {
	Total         int                  `json:"total"`
	Conversations []unreadConversation `json:"conversations"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func toSnapshotView(snap notify.Snapshot) snapshotView {
	view := snapshotView{
		Total:         snap.Total,
		Conversations: make([]unreadConversation, 0, len(snap.Conversations)),
		UpdatedAt:     snap.UpdatedAt,
	}
	for _, c := range snap.Conversations {
		view.Conversations = append(view.Conversations, unreadConversation{
			ID:          c.ID.String(),
			UnreadCount: c.UnreadCount,
		})
	}
	return view
}

// Snapshot returns the current unread state.
func (h *NotificationsHandler) Snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, toSnapshotView(h.propagator.Current()))
}

// Stream pushes every unread state change over a websocket until the client
// disconnects.
func (h *NotificationsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := h.propagator.Subscribe()
	defer h.propagator.Unsubscribe(sub)

	// Reader goroutine: we never expect client frames, but reading is what
	// detects the disconnect.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case snap, ok := <-sub.C:
			if !ok {
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(toSnapshotView(snap)); err != nil {
				h.logger.Debug("notification stream closed", slog.Any("error", err))
				return nil
			}
		case <-gone:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}

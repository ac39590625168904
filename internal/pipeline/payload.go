package pipeline

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event names the gateway posts.
const (
	EventMessagesUpsert = "messages.upsert"
	EventMessagesUpdate = "messages.update"
	EventWebhookTest    = "webhook.test"
)

// Event is the outer webhook envelope.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes the webhook envelope.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode webhook event: %w", err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("webhook event missing event name")
	}
	return ev, nil
}

// UpsertData carries new messages.
type UpsertData struct {
	Messages []InboundMessage `json:"messages"`
}

// MessageKey identifies a message on the gateway side.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageContent holds the body in the gateway's nested formats.
type MessageContent struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

// InboundMessage is one message inside an upsert event.
type InboundMessage struct {
	Key              MessageKey      `json:"key"`
	Message          *MessageContent `json:"message"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
	PushName         string          `json:"pushName"`
}

// Text extracts the body text, whichever nested format carries it.
func (m InboundMessage) Text() string {
	if m.Message == nil {
		return ""
	}
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	if m.Message.ExtendedTextMessage != nil {
		return m.Message.ExtendedTextMessage.Text
	}
	return ""
}

// Timestamp reads the message timestamp. The gateway sends either a unix
// second count or a long wrapped in a low/high pair; anything unreadable
// falls back to now.
func (m InboundMessage) Timestamp() time.Time {
	if len(m.MessageTimestamp) == 0 {
		return time.Now()
	}
	var seconds int64
	if err := json.Unmarshal(m.MessageTimestamp, &seconds); err == nil && seconds > 0 {
		return time.Unix(seconds, 0)
	}
	var wrapped struct {
		Low int64 `json:"low"`
	}
	if err := json.Unmarshal(m.MessageTimestamp, &wrapped); err == nil && wrapped.Low > 0 {
		return time.Unix(wrapped.Low, 0)
	}
	return time.Now()
}

// UpdateData carries a delivery status change.
type UpdateData struct {
	Key    MessageKey `json:"key"`
	Update struct {
		Status int `json:"status"`
	} `json:"update"`
}

// statusNames maps the gateway's numeric delivery states.
var statusNames = map[int]string{
	0: "error",
	1: "pending",
	2: "sent",
	3: "delivered",
	4: "read",
	5: "played",
}

// StatusName translates a numeric delivery status. Unknown codes come back
// as "unknown".
func StatusName(code int) string {
	if name, ok := statusNames[code]; ok {
		return name
	}
	return "unknown"
}

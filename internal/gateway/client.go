// Package gateway speaks to the external messaging gateway that physically
// delivers text messages to end users.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrSendFailed marks a hard gateway delivery failure. The component never
// retries on its own: the gateway bills per send.
var ErrSendFailed = errors.New("gateway send failed")

// SendResult is the gateway's acknowledgement of one outbound text.
type SendResult struct {
	MessageID string
	// RawResponse is the verbatim gateway response body, persisted alongside
	// the message for audit.
	RawResponse json.RawMessage
}

// Sender is the narrow interface the delivery pipeline depends on.
type Sender interface {
	SendText(ctx context.Context, to, text string) (SendResult, error)
}

// Client calls the gateway HTTP API with bearer auth.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a gateway client. A zero timeout defaults to 15s.
func NewClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "gateway")),
	}
}

type sendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    struct {
		MsgID messageID `json:"msgId"`
	} `json:"data"`
}

// messageID tolerates both string and numeric msgId values. The gateway has
// shipped both over time.
type messageID string

func (m *messageID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = messageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("msgId is neither string nor number: %s", data)
	}
	*m = messageID(n.String())
	return nil
}

// SendText delivers one text message. Non-2xx responses surface as
// ErrSendFailed with the gateway's error message attached; the returned
// MessageID may be empty when the gateway omits it.
func (c *Client) SendText(ctx context.Context, to, text string) (SendResult, error) {
	payload, err := json.Marshal(sendRequest{To: to, Text: text})
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: encode request: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-message", bytes.NewReader(payload))
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, fmt.Errorf("%w: read response: %v", ErrSendFailed, err)
	}

	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err != nil && resp.StatusCode < 300 {
		c.logger.Warn("gateway response not json", slog.Int("status", resp.StatusCode))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := decoded.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return SendResult{}, fmt.Errorf("%w: status %d: %s", ErrSendFailed, resp.StatusCode, msg)
	}

	return SendResult{
		MessageID:   string(decoded.Data.MsgID),
		RawResponse: json.RawMessage(body),
	}, nil
}

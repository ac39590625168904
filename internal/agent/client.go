// Package agent talks to the external AI runtime that produces assistant
// replies. The runtime is asynchronous under the hood; this client uses the
// blocking wait endpoint so callers see a plain request/response call with a
// hard upper bound on latency.
package agent

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

	"github.com/basketly/engage/internal/profile"
)

// FallbackReply is returned to the end user whenever the runtime cannot
// produce an answer. It is a fixed string so delivery stays deterministic
// under runtime outages.
const FallbackReply = "Sorry, I encountered an error processing your request. Please try again."

// ErrRuntime marks any failure to obtain a reply from the AI runtime.
var ErrRuntime = errors.New("agent runtime error")

// Reply is one normalized answer from the runtime.
type Reply struct {
	Text     string
	ThreadID string
	Latency  time.Duration
	Fallback bool
}

// Invoker is the narrow interface the reply pipeline depends on.
type Invoker interface {
	Respond(ctx context.Context, assistantID, threadID, query string, prof profile.Profile) Reply
}

// Client calls the AI runtime HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a runtime client. A zero timeout defaults to 30s.
func NewClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		// The transport timeout sits slightly above the context deadline so
		// cancellation is always attributed to the deadline, not the socket.
		httpClient: &http.Client{Timeout: timeout + time.Second},
		logger:     log.With(slog.String("client", "agent")),
	}
}

type createThreadResponse struct {
	ThreadID string `json:"thread_id"`
}

// CreateThread opens a fresh execution context on the runtime.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	body, err := c.post(ctx, "/threads", map[string]any{})
	if err != nil {
		return "", err
	}
	var decoded createThreadResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode thread: %v", ErrRuntime, err)
	}
	if decoded.ThreadID == "" {
		return "", fmt.Errorf("%w: runtime returned no thread id", ErrRuntime)
	}
	return decoded.ThreadID, nil
}

type runRequest struct {
	AssistantID string    `json:"assistant_id"`
	Input       runInput  `json:"input"`
	Config      runConfig `json:"config"`
}

type runInput struct {
	Messages []runMessage `json:"messages"`
}

type runMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runConfig struct {
	Configurable map[string]any `json:"configurable"`
}

// Invoke submits one query on an existing thread and blocks until the run
// completes or the configured timeout elapses. The configurable block
// personalizes the run; the runtime falls back to its own defaults when a
// key is absent.
func (c *Client) Invoke(ctx context.Context, assistantID, threadID, query string, configurable map[string]any) (string, error) {
	req := runRequest{
		AssistantID: assistantID,
		Input:       runInput{Messages: []runMessage{{Role: "user", Content: query}}},
		Config:      runConfig{Configurable: configurable},
	}
	body, err := c.post(ctx, "/threads/"+threadID+"/runs/wait", req)
	if err != nil {
		return "", err
	}
	text, err := ExtractReply(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	return text, nil
}

// Respond is the total version of Invoke: it creates a thread when the caller
// has none, attaches the shopper's profile context to the run, and absorbs
// every runtime failure into the fallback reply. The returned Reply always
// carries usable text.
func (c *Client) Respond(ctx context.Context, assistantID, threadID, query string, prof profile.Profile) Reply {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if threadID == "" {
		id, err := c.CreateThread(ctx)
		if err != nil {
			c.logger.Warn("thread create failed, using fallback reply",
				slog.String("assistant_id", assistantID),
				slog.Any("error", err))
			return Reply{Text: FallbackReply, Latency: time.Since(start), Fallback: true}
		}
		threadID = id
	}

	text, err := c.Invoke(ctx, assistantID, threadID, query, prof.Configurable())
	if err != nil {
		c.logger.Warn("invoke failed, using fallback reply",
			slog.String("assistant_id", assistantID),
			slog.String("thread_id", threadID),
			slog.Any("error", err))
		return Reply{Text: FallbackReply, ThreadID: threadID, Latency: time.Since(start), Fallback: true}
	}
	return Reply{Text: text, ThreadID: threadID, Latency: time.Since(start)}
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrRuntime, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuntime, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrRuntime, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrRuntime, path, resp.StatusCode)
	}
	return body, nil
}

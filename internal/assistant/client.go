// Package assistant provisions per-shopper assistants on the AI runtime and
// keeps each conversation bound to exactly one of them.
package assistant

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

// DefaultGraphID selects the runtime graph new assistants run on.
const DefaultGraphID = "supervisor_agent"

var (
	// ErrAlreadyExists is returned when the runtime reports a provisioning
	// conflict. Callers treat it as success and re-fetch.
	ErrAlreadyExists = errors.New("assistant already exists")
	// ErrProvision marks any other provisioning failure.
	ErrProvision = errors.New("assistant provisioning failed")
)

// Assistant is one provisioned assistant on the runtime.
type Assistant struct {
	ID       string         `json:"assistant_id"`
	GraphID  string         `json:"graph_id"`
	Name     string         `json:"name"`
	Config   Config         `json:"config"`
	Metadata map[string]any `json:"metadata"`
}

// Config is the runtime-side assistant configuration.
type Config struct {
	Configurable map[string]any `json:"configurable"`
}

// Provisioner is what the binding manager needs from the runtime.
type Provisioner interface {
	Create(ctx context.Context, p profile.Profile) (Assistant, error)
	FindByPhone(ctx context.Context, phone string) (Assistant, bool, error)
}

// Client calls the runtime's assistant management API.
type Client struct {
	baseURL    string
	apiKey     string
	graphID    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a provisioning client. An empty graphID defaults to
// DefaultGraphID.
func NewClient(log *slog.Logger, baseURL, apiKey, graphID string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	if graphID == "" {
		graphID = DefaultGraphID
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		graphID:    graphID,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "assistant")),
	}
}

type createRequest struct {
	GraphID     string         `json:"graph_id"`
	Config      Config         `json:"config"`
	Metadata    map[string]any `json:"metadata"`
	IfExists    string         `json:"if_exists"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

// Create provisions an assistant for the given profile. A runtime conflict
// surfaces as ErrAlreadyExists.
func (c *Client) Create(ctx context.Context, p profile.Profile) (Assistant, error) {
	req := createRequest{
		GraphID: c.graphID,
		Config:  Config{Configurable: p.Configurable()},
		Metadata: map[string]any{
			"user_phone": p.Phone,
			"user_name":  p.DisplayName(),
			"country":    p.Country,
			"language":   p.Language,
		},
		IfExists:    "do_nothing",
		Name:        "Assistant for " + p.DisplayName(),
		Description: fmt.Sprintf("Personal grocery assistant for %s", p.DisplayName()),
	}
	body, status, err := c.do(ctx, http.MethodPost, "/assistants", req)
	if err != nil {
		return Assistant{}, err
	}
	if status == http.StatusConflict {
		return Assistant{}, fmt.Errorf("%w: phone %s", ErrAlreadyExists, p.Phone)
	}
	if status < 200 || status >= 300 {
		return Assistant{}, fmt.Errorf("%w: status %d", ErrProvision, status)
	}
	var a Assistant
	if err := json.Unmarshal(body, &a); err != nil {
		return Assistant{}, fmt.Errorf("%w: decode: %v", ErrProvision, err)
	}
	if a.ID == "" {
		return Assistant{}, fmt.Errorf("%w: runtime returned no assistant id", ErrProvision)
	}
	return a, nil
}

// Get fetches one assistant by id.
func (c *Client) Get(ctx context.Context, id string) (Assistant, error) {
	body, status, err := c.do(ctx, http.MethodGet, "/assistants/"+id, nil)
	if err != nil {
		return Assistant{}, err
	}
	if status < 200 || status >= 300 {
		return Assistant{}, fmt.Errorf("%w: get %s: status %d", ErrProvision, id, status)
	}
	var a Assistant
	if err := json.Unmarshal(body, &a); err != nil {
		return Assistant{}, fmt.Errorf("%w: decode: %v", ErrProvision, err)
	}
	return a, nil
}

type searchRequest struct {
	Metadata map[string]any `json:"metadata"`
	Limit    int            `json:"limit"`
}

// FindByPhone looks up an existing assistant by shopper phone.
func (c *Client) FindByPhone(ctx context.Context, phone string) (Assistant, bool, error) {
	req := searchRequest{Metadata: map[string]any{"user_phone": phone}, Limit: 1}
	body, status, err := c.do(ctx, http.MethodPost, "/assistants/search", req)
	if err != nil {
		return Assistant{}, false, err
	}
	if status < 200 || status >= 300 {
		return Assistant{}, false, fmt.Errorf("%w: search: status %d", ErrProvision, status)
	}
	var found []Assistant
	if err := json.Unmarshal(body, &found); err != nil {
		return Assistant{}, false, fmt.Errorf("%w: decode search: %v", ErrProvision, err)
	}
	if len(found) == 0 {
		return Assistant{}, false, nil
	}
	return found[0], true, nil
}

// Delete removes an assistant from the runtime. Missing assistants are not
// an error.
func (c *Client) Delete(ctx context.Context, id string) error {
	_, status, err := c.do(ctx, http.MethodDelete, "/assistants/"+id, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return nil
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("%w: delete %s: status %d", ErrProvision, id, status)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: encode request: %v", ErrProvision, err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProvision, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrProvision, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", ErrProvision, err)
	}
	return body, resp.StatusCode, nil
}

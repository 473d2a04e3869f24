package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ClientConfig holds HTTP generation client configuration.
type ClientConfig struct {
	// BaseURL of the generation service
	BaseURL string

	// Timeout for HTTP requests
	Timeout time.Duration
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 15 * time.Second,
	}
}

// Client calls an external generation service over HTTP. The service
// contract is POST /generate with the prompt context, returning the
// narrative text. Wrap it with WithRetry for the bounded-retry policy.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a generation client.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type generateRequest struct {
	RoleInstructions string     `json:"role_instructions"`
	History          []turnJSON `json:"history,omitempty"`
	ThreatType       string     `json:"threat_type"`
	FocusCategory    string     `json:"focus_category,omitempty"`
	Difficulty       int        `json:"difficulty"`
	Stage            int        `json:"stage"`
}

type turnJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate implements Generator over the HTTP contract. A 422 from the
// service means the content was refused and maps to ErrContentBlocked;
// connection failures and 5xx map to ErrProviderUnavailable so callers
// fall back to template content.
func (c *Client) Generate(ctx context.Context, gc Context) (string, error) {
	req := generateRequest{
		RoleInstructions: gc.RoleInstructions,
		ThreatType:       string(gc.ThreatType),
		FocusCategory:    string(gc.FocusCategory),
		Difficulty:       gc.Difficulty,
		Stage:            gc.Stage,
	}
	for _, t := range gc.History {
		req.History = append(req.History, turnJSON{Role: t.Role, Content: t.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to encode generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return "", ErrContentBlocked
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: service returned %d", ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("generation service returned %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	if out.Text == "" {
		return "", fmt.Errorf("generation service returned empty text")
	}

	return out.Text, nil
}

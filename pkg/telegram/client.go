// Package telegram provides a minimal Telegram Bot API client for
// alert delivery.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Telegram operations the alerting path needs.
type Client interface {
	// SendMessage posts a plain-text message to a chat.
	SendMessage(ctx context.Context, chatID, text string) error
	// Configured reports whether a bot token is set.
	Configured() bool
}

// Option configures the Telegram client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the requests-per-second cap.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Telegram Bot API client. An empty token yields a
// client that reports itself unconfigured and refuses to send.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: "https://api.telegram.org",
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		// Bot API allows ~30 messages per second overall.
		limiter: rate.NewLimiter(rate.Limit(25), 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Configured() bool {
	return c.token != ""
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *httpClient) SendMessage(ctx context.Context, chatID, text string) error {
	if !c.Configured() {
		return eris.New("telegram: bot token is not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "telegram: rate limit wait")
	}

	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return eris.Wrap(err, "telegram: encode payload")
	}
	url := c.baseURL + "/bot" + c.token + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "telegram: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "telegram: send message")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "telegram: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return eris.Wrap(err, "telegram: decode response")
	}
	if !parsed.OK {
		return eris.Errorf("telegram: api rejected message: %s", parsed.Description)
	}
	return nil
}

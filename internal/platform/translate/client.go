package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bazaarbd/storefront/internal/platform/config"
)

const defaultTimeout = 5 * time.Second

// ErrNotConfigured is returned when no endpoint is set.
var ErrNotConfigured = errors.New("translate: endpoint not configured")

// Client calls the machine translation API. It returns errors; callers decide
// on fallback text.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
}

// Option customises the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.TranslationConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		endpoint: strings.TrimSpace(cfg.Endpoint),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:        "translate",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Translate returns text rendered in target ("en" or "bn").
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	if c == nil || c.endpoint == "" {
		return "", ErrNotConfigured
	}
	return c.breaker.Execute(func() (string, error) {
		return c.fetch(ctx, text, target)
	})
}

type translationResponse struct {
	Translation string `json:"translation"`
}

func (c *Client) fetch(ctx context.Context, text, target string) (string, error) {
	endpoint, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("translate: parse endpoint: %w", err)
	}
	query := endpoint.Query()
	query.Set("text", text)
	query.Set("target", target)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("translate: status %d", resp.StatusCode)
	}

	var out translationResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 256<<10)).Decode(&out); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	if strings.TrimSpace(out.Translation) == "" {
		return "", errors.New("translate: empty translation")
	}
	return out.Translation, nil
}

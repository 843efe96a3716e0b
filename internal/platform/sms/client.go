package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/bazaarbd/storefront/internal/domain"
	"github.com/bazaarbd/storefront/internal/platform/config"
	"github.com/bazaarbd/storefront/internal/platform/textutil"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultSuccessCode = 202
	maxErrorBody       = 512
)

var (
	// ErrInvalidNumber is returned when the destination cannot be normalised.
	ErrInvalidNumber = errors.New("sms: invalid destination number")
	// ErrRejected is returned when the gateway answers with a non-success code.
	ErrRejected = errors.New("sms: gateway rejected message")
	// ErrNotConfigured is returned when no endpoint is set.
	ErrNotConfigured = errors.New("sms: gateway not configured")
)

// Client posts messages to the HTTP SMS gateway through a circuit breaker.
type Client struct {
	endpoint    string
	apiKey      string
	senderID    string
	countryCode string
	successCode int
	http        *http.Client
	breaker     *gobreaker.CircuitBreaker[gatewayResponse]
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

// WithBreakerSettings overrides the circuit breaker settings. Name is always "sms".
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(c *Client) {
		settings.Name = "sms"
		c.breaker = gobreaker.NewCircuitBreaker[gatewayResponse](settings)
	}
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.SMSConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	successCode := cfg.SuccessCode
	if successCode == 0 {
		successCode = defaultSuccessCode
	}
	c := &Client{
		endpoint:    strings.TrimSpace(cfg.Endpoint),
		apiKey:      cfg.APIKey,
		senderID:    strings.TrimSpace(cfg.SenderID),
		countryCode: textutil.FirstNonEmpty(cfg.CountryCode, "880"),
		successCode: successCode,
		http:        &http.Client{Timeout: timeout},
		breaker:     gobreaker.NewCircuitBreaker[gatewayResponse](defaultBreakerSettings()),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func defaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "sms",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
}

// Deliver sends a rendered notification.
func (c *Client) Deliver(ctx context.Context, n domain.Notification) error {
	return c.Send(ctx, n.Number, n.Body)
}

// Send normalises number and posts the message. Success requires the
// gateway's response_code to equal the configured acknowledgement code.
func (c *Client) Send(ctx context.Context, number, message string) error {
	if c == nil || c.endpoint == "" {
		return ErrNotConfigured
	}
	normalized, ok := textutil.NormalizePhone(number, c.countryCode)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidNumber, number)
	}

	resp, err := c.breaker.Execute(func() (gatewayResponse, error) {
		return c.post(ctx, normalized, message)
	})
	if err != nil {
		return fmt.Errorf("sms: send to %s: %w", maskNumber(normalized), err)
	}
	if resp.ResponseCode != c.successCode {
		return fmt.Errorf("%w: code %d: %s", ErrRejected, resp.ResponseCode, resp.message())
	}
	return nil
}

// Retryable reports whether err means the message never reached the gateway
// because the breaker short-circuited it. Any other failure may have been
// sent already.
func Retryable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Ping reports whether the breaker is closed. It does not hit the gateway.
func (c *Client) Ping(context.Context) error {
	if c == nil || c.endpoint == "" {
		return ErrNotConfigured
	}
	if c.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	return nil
}

type gatewayRequest struct {
	APIKey   string `json:"api_key"`
	SenderID string `json:"senderid,omitempty"`
	Number   string `json:"number"`
	Message  string `json:"message"`
}

type gatewayResponse struct {
	ResponseCode int    `json:"response_code"`
	SuccessMsg   string `json:"success_message"`
	ErrorMsg     string `json:"error_message"`
	MessageID    any    `json:"message_id"`
}

func (r gatewayResponse) message() string {
	return textutil.FirstNonEmpty(r.ErrorMsg, r.SuccessMsg, "no message")
}

func (c *Client) post(ctx context.Context, number, message string) (gatewayResponse, error) {
	payload, err := json.Marshal(gatewayRequest{
		APIKey:   c.apiKey,
		SenderID: c.senderID,
		Number:   number,
		Message:  message,
	})
	if err != nil {
		return gatewayResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return gatewayResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gatewayResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return gatewayResponse{}, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out gatewayResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return gatewayResponse{}, fmt.Errorf("decode gateway response (status %d): %w", resp.StatusCode, err)
	}
	return out, nil
}

func maskNumber(number string) string {
	if len(number) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}

// Package remote is the HTTP client for the marketplace checklist API.
package remote

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

	"github.com/hyperengineering/inspecta/internal/auth"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in messages.
const maxErrorBody = 4096

// Client calls the remote checklist API with bearer credentials.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// New creates a Client for baseURL.
func New(baseURL string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CallOption adjusts a single request.
type CallOption func(*http.Request)

// WithIdempotencyKey attaches an Idempotency-Key header so a retried write
// is applied at most once by the server.
func WithIdempotencyKey(key string) CallOption {
	return func(r *http.Request) {
		if key != "" {
			r.Header.Set("Idempotency-Key", key)
		}
	}
}

// envelope is the standard API response wrapper. Success is a pointer so
// bare (unwrapped) payloads can be told apart.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func (e envelope) message() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// sendJSON sends an authenticated JSON request and decodes the result into out.
func (c *Client) sendJSON(ctx context.Context, op, method, path string, body any, out any, opts ...CallOption) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	return c.send(ctx, op, method, path, "application/json", reader, out, opts...)
}

// send issues the request and maps the outcome onto the error taxonomy:
// ErrNotFound, ErrUnauthorized, *TransportError, *RejectedError.
func (c *Client) send(ctx context.Context, op, method, path, contentType string, body io.Reader, out any, opts ...CallOption) error {
	if c.baseURL == "" {
		return &TransportError{Op: op, Err: errors.New("remote base URL not configured")}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnauthorized, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	return decode(op, resp.StatusCode, data, out)
}

// lookup marks a decode target whose empty payload means the resource is
// absent. Mutations decode an empty payload into the zero value so callers
// can reject the missing record themselves.
type lookup struct{ v any }

func decode(op string, status int, data []byte, out any) error {
	var env envelope
	wrapped := json.Unmarshal(data, &env) == nil && env.Success != nil

	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", op, ErrUnauthorized, status)
	case status >= 500 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return &TransportError{Op: op, Status: status, Err: errors.New(bodyMessage(env, data))}
	case status >= 400:
		return &RejectedError{Op: op, Status: status, Message: bodyMessage(env, data)}
	}

	payload := data
	if wrapped {
		if !*env.Success {
			return &RejectedError{Op: op, Status: status, Message: env.message()}
		}
		payload = env.Data
	}

	if out == nil {
		return nil
	}
	l, absentOnEmpty := out.(lookup)
	if absentOnEmpty {
		out = l.v
	}
	if trimmed := bytes.TrimSpace(payload); len(trimmed) == 0 || string(trimmed) == "null" {
		if absentOnEmpty {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func bodyMessage(env envelope, data []byte) string {
	if msg := env.message(); msg != "" {
		return msg
	}
	if len(data) > maxErrorBody {
		data = data[:maxErrorBody]
	}
	if s := strings.TrimSpace(string(data)); s != "" {
		return s
	}
	return "no response body"
}

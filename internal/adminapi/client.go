package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiwari-pos/alert-console/internal/card"
)

const defaultTimeout = 10 * time.Second

// Errors returned by the admin API client.
var (
	ErrUnauthorized = errors.New("admin session missing or invalid")
	ErrFetch        = errors.New("fetch new cards failed")
	ErrAction       = errors.New("admin action failed")
)

// StatusError carries an unexpected HTTP status from the admin API.
type StatusError struct {
	Op     string
	Status int
	Body   string
	kind   error
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return e.kind }

// ConfirmRequest is the body of POST /{kind}-orders/{id}/confirm.
type ConfirmRequest struct {
	Print        bool `json:"print"`
	ExtraMinutes *int `json:"extraMinutes,omitempty"`
}

// CancelRequest is the body of POST /{kind}-orders/{id}/cancel.
type CancelRequest struct {
	Reason       string `json:"reason"`
	RefundIfPaid bool   `json:"refundIfPaid"`
}

type alertsSeenRequest struct {
	Kinds []string `json:"kinds"`
}

// Client talks to the restaurant platform's admin REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL authenticating with an admin bearer token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchNewCards handles GET /admin/orders/new.
func (c *Client) FetchNewCards(ctx context.Context) ([]card.Card, error) {
	resp, err := c.do(ctx, http.MethodGet, "/admin/orders/new", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	if err := checkStatus("fetch new cards", resp, ErrFetch); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	var cards []card.Card
	if err := json.Unmarshal(body, &cards); err != nil {
		return nil, fmt.Errorf("%w: decode body: %w", ErrFetch, err)
	}
	if cards == nil {
		// a JSON null is not an array
		return nil, fmt.Errorf("%w: body is not an array", ErrFetch)
	}
	for i, c := range cards {
		if _, err := card.NewKey(c.Kind, c.ID); err != nil {
			return nil, fmt.Errorf("%w: card %d: %w", ErrFetch, i, err)
		}
	}
	return cards, nil
}

// MarkSeen handles POST /{kind}-orders/{id}/seen. It is idempotent server-side.
func (c *Client) MarkSeen(ctx context.Context, key card.Key) error {
	return c.action(ctx, "mark seen", cardPath(key, "seen"), nil)
}

// Confirm handles POST /{kind}-orders/{id}/confirm.
func (c *Client) Confirm(ctx context.Context, key card.Key, req ConfirmRequest) error {
	return c.action(ctx, "confirm", cardPath(key, "confirm"), req)
}

// Cancel handles POST /{kind}-orders/{id}/cancel.
func (c *Client) Cancel(ctx context.Context, key card.Key, req CancelRequest) error {
	return c.action(ctx, "cancel", cardPath(key, "cancel"), req)
}

// MarkAlertsSeen handles POST /admin/alerts/seen, resetting badge counters.
func (c *Client) MarkAlertsSeen(ctx context.Context, buckets []string) error {
	return c.action(ctx, "mark alerts seen", "/admin/alerts/seen", alertsSeenRequest{Kinds: buckets})
}

func (c *Client) action(ctx context.Context, op, path string, body any) error {
	resp, err := c.do(ctx, http.MethodPost, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()
	// drain so the connection can be reused
	defer io.Copy(io.Discard, resp.Body) //nolint:errcheck

	return checkStatus(op, resp, ErrAction)
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		rdr = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func checkStatus(op string, resp *http.Response, kind error) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w (status %d)", op, ErrUnauthorized, resp.StatusCode)
	case kind == ErrFetch && resp.StatusCode != http.StatusOK:
		return &StatusError{Op: op, Status: resp.StatusCode, Body: readSnippet(resp.Body), kind: kind}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &StatusError{Op: op, Status: resp.StatusCode, Body: readSnippet(resp.Body), kind: kind}
	}
	return nil
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}

func cardPath(key card.Key, verb string) string {
	return "/" + key.Kind + "-orders/" + url.PathEscape(key.ID) + "/" + verb
}

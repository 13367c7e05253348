// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatbot

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Configuration constants for the chat endpoint.
const (
	// DefaultTimeout bounds non-streaming requests such as health checks.
	DefaultTimeout = 30 * time.Second

	// MaxErrorBodySize caps how much of an error response body is read.
	MaxErrorBodySize = 64 * 1024

	// defaultUserAgent identifies the client on the wire.
	defaultUserAgent = "sitechat/1.0"
)

// sharedStreamingClient is used for streaming requests (no timeout, lifetime
// controlled via the request context). Connection pooling is shared across
// all clients; TLS 1.2 is the floor.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Error variables for common chat endpoint failures.
var (
	// ErrNotConfigured indicates the endpoint URL is not set.
	ErrNotConfigured = errors.New("chat endpoint not configured")

	// ErrRateLimited indicates the service rejected the request with 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates the service is down or overloaded (5xx).
	ErrUnavailable = errors.New("chat service unavailable")

	// ErrEmptyMessage indicates a send was attempted with no message text.
	ErrEmptyMessage = errors.New("empty message")
)

// APIError represents a structured error response from the chat service.
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("chat service error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("chat service error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse is the wire shape of a structured error body.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// WIRE TYPES
// =============================================================================

// HistoryEntry is one prior conversation turn as sent to the service.
// IDs are sequential within a payload; timestamps are RFC 3339.
type HistoryEntry struct {
	ID        int    `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// Metadata carries page context attached to every send. All fields are
// best-effort; the service treats them as advisory.
type Metadata struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
	UserAgent string `json:"user_agent"`
	PageTitle string `json:"page_title"`
}

// Request is a single send to the chat service.
type Request struct {
	// Message is the full outgoing text, including any attachment framing.
	Message string

	// Ask is the user's literal question when Message carries extra
	// context. Empty when Message is the question itself.
	Ask string

	// Conversation is the prior history, oldest first.
	Conversation []HistoryEntry
}

// wireRequest is the JSON body POSTed to the endpoint.
type wireRequest struct {
	SessionID    string         `json:"session_id"`
	Message      string         `json:"message"`
	Ask          string         `json:"ask,omitempty"`
	Conversation []HistoryEntry `json:"conversation"`
	Metadata     Metadata       `json:"metadata"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the transport for the site chat endpoint. A Client is safe for
// use from a single session manager; the session identifier persists across
// sends until ResetSession.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string

	pageURL   string
	pageTitle string

	sessionID string
}

// NewClient creates a client for the given endpoint URL.
//
// A fresh session identifier is generated; it persists across sends so the
// service can correlate a visit's messages.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint:   strings.TrimSuffix(strings.TrimSpace(endpoint), "/"),
		httpClient: sharedStreamingClient,
		// One send per 2s sustained, small burst for quick follow-ups.
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 3),
		userAgent: defaultUserAgent,
		sessionID: uuid.NewString(),
	}
}

// WithHTTPClient sets a custom HTTP client. The client must not set a
// Timeout; streaming responses are bounded by the request context instead.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// WithRateLimit replaces the local send limiter. A nil limiter disables
// client-side throttling.
func (c *Client) WithRateLimit(l *rate.Limiter) *Client {
	c.limiter = l
	return c
}

// WithUserAgent sets the User-Agent header value.
func (c *Client) WithUserAgent(ua string) *Client {
	if ua != "" {
		c.userAgent = ua
	}
	return c
}

// WithPage sets the page URL and title reported in request metadata.
func (c *Client) WithPage(url, title string) *Client {
	c.pageURL = url
	c.pageTitle = title
	return c
}

// SessionID returns the current session identifier.
func (c *Client) SessionID() string {
	return c.sessionID
}

// ResetSession generates a fresh session identifier. Subsequent sends belong
// to the new session.
func (c *Client) ResetSession() string {
	c.sessionID = uuid.NewString()
	return c.sessionID
}

// IsConfigured returns true if the client has an endpoint configured.
func (c *Client) IsConfigured() bool {
	return c.endpoint != ""
}

// metadata builds the advisory metadata block for a send.
func (c *Client) metadata() Metadata {
	return Metadata{
		URL:       c.pageURL,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		UserAgent: c.userAgent,
		PageTitle: c.pageTitle,
	}
}

// Send POSTs a message and returns the streaming response.
//
// The returned Stream owns the response body; the caller must Close it.
// The request, including the full duration of the streamed response, is
// bounded by ctx. Local throttling waits (honoring ctx) rather than failing.
func (c *Client) Send(ctx context.Context, r Request) (*Stream, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(r.Message) == "" {
		return nil, ErrEmptyMessage
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body := wireRequest{
		SessionID:    c.sessionID,
		Message:      r.Message,
		Ask:          r.Ask,
		Conversation: r.Conversation,
		Metadata:     c.metadata(),
	}
	if body.Conversation == nil {
		body.Conversation = []HistoryEntry{}
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	// Any 2xx is a streaming success; some services answer 201 or 206.
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		return nil, handleErrorResponse(resp.StatusCode, errBody)
	}

	return newStream(resp.Body), nil
}

// handleErrorResponse converts HTTP error responses to appropriate Go errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		typed := &APIError{
			Status:  statusCode,
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
		}
		switch {
		case statusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, typed.Message)
		case statusCode >= 500:
			return fmt.Errorf("%w: %s", ErrUnavailable, typed.Message)
		default:
			return typed
		}
	}

	// Fallback for unparseable error responses.
	switch {
	case statusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case statusCode >= 500:
		return ErrUnavailable
	default:
		return &APIError{
			Status:  statusCode,
			Message: strings.TrimSpace(string(body)),
		}
	}
}

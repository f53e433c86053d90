// Package metacapi provides a client for the Meta (Facebook) Conversions API.
package metacapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultBaseURL    = "https://graph.facebook.com"
	defaultAPIVersion = "v18.0"
)

// ActionSourceWebsite marks events that happened on a website.
const ActionSourceWebsite = "website"

// Client defines the Conversions API operations used by this application.
type Client interface {
	// SendEvents posts a batch of server events for the configured pixel.
	SendEvents(ctx context.Context, events []Event) (*Response, error)
}

// Event is one server event. PII in UserData must already be hashed.
type Event struct {
	EventName      string         `json:"event_name"`
	EventTime      int64          `json:"event_time"`
	EventID        string         `json:"event_id,omitempty"`
	EventSourceURL string         `json:"event_source_url,omitempty"`
	ActionSource   string         `json:"action_source"`
	UserData       UserData       `json:"user_data"`
	CustomData     map[string]any `json:"custom_data,omitempty"`
}

// UserData carries hashed identifiers and browser signals.
type UserData struct {
	Email           []string `json:"em,omitempty"`
	Phone           []string `json:"ph,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
}

// Response is the vendor's acknowledgement. Raw keeps the body as received.
type Response struct {
	EventsReceived int             `json:"events_received"`
	Messages       []string        `json:"messages,omitempty"`
	FBTraceID      string          `json:"fbtrace_id,omitempty"`
	Raw            json.RawMessage `json:"-"`
}

// APIError is a non-2xx reply.
type APIError struct {
	Status  int
	Message string
	Body    json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("metacapi: status %d: %s", e.Status, e.Message)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithAPIVersion overrides the Graph API version.
func WithAPIVersion(v string) Option {
	return func(c *httpClient) {
		if v != "" {
			c.apiVersion = v
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	pixelID     string
	accessToken string
	baseURL     string
	apiVersion  string
	http        *http.Client
}

// NewClient creates a Conversions API client for one pixel.
func NewClient(pixelID, accessToken string, opts ...Option) Client {
	c := &httpClient{
		pixelID:     pixelID,
		accessToken: accessToken,
		baseURL:     defaultBaseURL,
		apiVersion:  defaultAPIVersion,
		http:        &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) SendEvents(ctx context.Context, events []Event) (*Response, error) {
	body, err := json.Marshal(struct {
		Data []Event `json:"data"`
	}{Data: events})
	if err != nil {
		return nil, eris.Wrap(err, "metacapi: marshal events")
	}

	endpoint := fmt.Sprintf("%s/%s/%s/events?access_token=%s",
		c.baseURL, c.apiVersion, url.PathEscape(c.pixelID), url.QueryEscape(c.accessToken))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "metacapi: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "metacapi: send events")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "metacapi: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
		if json.Valid(respBody) {
			apiErr.Body = respBody
		}
		return nil, apiErr
	}

	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, eris.Wrap(err, "metacapi: decode response")
	}
	out.Raw = respBody
	return &out, nil
}

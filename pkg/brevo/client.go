// Package brevo provides a client for the Brevo (Sendinblue) contacts API.
package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.brevo.com/v3"

// CodeDuplicateParameter is returned with HTTP 400 when the contact already
// exists and could not be created.
const CodeDuplicateParameter = "duplicate_parameter"

// Client defines the Brevo operations used by this application.
type Client interface {
	// CreateContact creates or updates a contact. A nil ID in the response
	// means the contact was updated in place (HTTP 204).
	CreateContact(ctx context.Context, req CreateContactRequest) (*CreateContactResponse, error)
}

// CreateContactRequest is the body of POST /contacts.
type CreateContactRequest struct {
	Email         string            `json:"email"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	ListIDs       []int64           `json:"listIds,omitempty"`
	UpdateEnabled bool              `json:"updateEnabled"`
}

// CreateContactResponse is the body of a 201 reply.
type CreateContactResponse struct {
	ID *int64 `json:"id,omitempty"`
}

// APIError is a non-2xx reply from Brevo.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brevo: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// Duplicate reports whether the error is Brevo's duplicate-contact reply.
func (e *APIError) Duplicate() bool {
	return e.Status == http.StatusBadRequest && e.Code == CodeDuplicateParameter
}

// Option configures the Brevo client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
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

// WithRateLimit overrides the default rate limit (10 req/s). Zero disables it.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new Brevo client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter: rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) CreateContact(ctx context.Context, req CreateContactRequest) (*CreateContactResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "brevo: rate limit")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "brevo: marshal contact")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/contacts", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "brevo: create request")
	}
	httpReq.Header.Set("accept", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)
	httpReq.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, eris.Wrap(err, "brevo: create contact")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "brevo: read response")
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return &CreateContactResponse{}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out CreateContactResponse
		if len(bytes.TrimSpace(respBody)) == 0 {
			return &out, nil
		}
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, eris.Wrap(err, "brevo: decode response")
		}
		return &out, nil
	default:
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(respBody))
		}
		return nil, apiErr
	}
}

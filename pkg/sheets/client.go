// Package sheets wraps the Google Sheets v4 values API.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Client defines the spreadsheet operations used by this application. Cells
// are exchanged as strings.
type Client interface {
	// GetValues reads a range in A1 notation. Trailing empty rows and cells
	// are omitted by the API.
	GetValues(ctx context.Context, rng string) ([][]string, error)
	// AppendValues appends rows after the table found in rng.
	AppendValues(ctx context.Context, rng string, rows [][]string) error
	// UpdateValues overwrites rng with rows.
	UpdateValues(ctx context.Context, rng string, rows [][]string) error
}

// Option configures the Sheets client.
type Option func(*config)

type config struct {
	credentialsJSON []byte
	credentialsFile string
	endpoint        string
	httpClient      *http.Client
	limiter         *rate.Limiter
}

// WithCredentialsJSON authenticates with a service-account key.
func WithCredentialsJSON(b []byte) Option {
	return func(c *config) {
		c.credentialsJSON = b
	}
}

// WithCredentialsFile authenticates with a service-account key file.
func WithCredentialsFile(path string) Option {
	return func(c *config) {
		c.credentialsFile = path
	}
}

// WithEndpoint sets a custom API endpoint (for testing).
func WithEndpoint(url string) Option {
	return func(c *config) {
		c.endpoint = url
	}
}

// WithHTTPClient sets a custom HTTP client. Credentials options are ignored
// when it is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// WithRateLimit overrides the default rate limit (1 req/s, burst 5). Zero
// disables it.
func WithRateLimit(rps float64) Option {
	return func(c *config) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 5))
		} else {
			c.limiter = nil
		}
	}
}

type apiClient struct {
	spreadsheetID string
	values        *sheetsapi.SpreadsheetsValuesService
	limiter       *rate.Limiter
}

// NewClient creates a Sheets client bound to one spreadsheet.
func NewClient(ctx context.Context, spreadsheetID string, opts ...Option) (Client, error) {
	if spreadsheetID == "" {
		return nil, eris.New("sheets: spreadsheet id is required")
	}
	cfg := &config{limiter: rate.NewLimiter(1, 5)}
	for _, opt := range opts {
		opt(cfg)
	}

	clientOpts := []option.ClientOption{option.WithScopes(sheetsapi.SpreadsheetsScope)}
	switch {
	case cfg.httpClient != nil:
		clientOpts = append(clientOpts, option.WithHTTPClient(cfg.httpClient))
	case len(cfg.credentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(cfg.credentialsJSON))
	case cfg.credentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	default:
		return nil, eris.New("sheets: no credentials configured")
	}
	if cfg.endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.endpoint))
	}

	svc, err := sheetsapi.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}
	return &apiClient{
		spreadsheetID: spreadsheetID,
		values:        svc.Spreadsheets.Values,
		limiter:       cfg.limiter,
	}, nil
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *apiClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *apiClient) GetValues(ctx context.Context, rng string) ([][]string, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sheets: rate limit")
	}
	resp, err := c.values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, wrapAPIError(err, "sheets: get "+rng)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (c *apiClient) AppendValues(ctx context.Context, rng string, rows [][]string) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sheets: rate limit")
	}
	_, err := c.values.Append(c.spreadsheetID, rng, valueRange(rows)).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return wrapAPIError(err, "sheets: append "+rng)
}

func (c *apiClient) UpdateValues(ctx context.Context, rng string, rows [][]string) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sheets: rate limit")
	}
	_, err := c.values.Update(c.spreadsheetID, rng, valueRange(rows)).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return wrapAPIError(err, "sheets: update "+rng)
}

func valueRange(rows [][]string) *sheetsapi.ValueRange {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	return &sheetsapi.ValueRange{Values: values}
}

// APIMessage returns the message of a Google API error, or "".
func APIMessage(err error) string {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Message
	}
	return ""
}

func wrapAPIError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return eris.Wrapf(err, "%s: status %d", msg, gerr.Code)
	}
	return eris.Wrap(err, msg)
}

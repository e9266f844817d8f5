package wingo

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/api"
	httpClient "github.com/lazzyont7t/Data/internal/platform/http"
	"github.com/lazzyont7t/Data/models"
)

// Client fetches WinGo draw history from the ar-lottery endpoint. One
// client serves one cadence; the 30-second and 1-minute games live under
// different paths.
type Client struct {
	baseURL    string
	path       string
	cadence    models.Cadence
	httpClient *httpClient.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// ClientOptions holds options for creating a new WinGo client
type ClientOptions struct {
	BaseURL         string
	Cadence         models.Cadence
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// NewClient creates a new WinGo history client for one cadence.
func NewClient(options ClientOptions) *Client {
	if options.BaseURL == "" {
		options.BaseURL = "https://draw.ar-lottery01.com"
	}

	path := "WinGo/WinGo_1M/GetHistoryIssuePage.json"
	if options.Cadence == models.Cadence30s {
		path = "WinGo/WinGo_30S/GetHistoryIssuePage.json"
	}

	return &Client{
		baseURL: options.BaseURL,
		path:    path,
		cadence: options.Cadence,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:         options.RequestTimeout,
			RequestsPerSec:  options.RequestsPerSec,
			MaxRetryTimeout: options.MaxRetryTimeout,
		}),
		logger: log.With().Str("component", "wingo_client").Str("cadence", string(options.Cadence)).Logger(),
		now:    time.Now,
	}
}

// FetchWindow fetches the recent history page.
func (c *Client) FetchWindow(ctx context.Context) (*models.Window, error) {
	body, err := c.fetchPage(ctx)
	if err != nil {
		return nil, err
	}

	window, err := api.ParseWindow(body)
	if err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Malformed history page")
		return nil, c.fetchError("malformed payload", err)
	}

	c.logger.Debug().Int("digits", len(window.Digits)).Str("next_issue", window.NextIssue).Msg("Fetched window")
	return window, nil
}

// FetchLatest fetches the most recent single outcome.
func (c *Client) FetchLatest(ctx context.Context) (int, error) {
	body, err := c.fetchPage(ctx)
	if err != nil {
		return 0, err
	}

	outcome, err := api.ParseLatest(body)
	if err != nil {
		c.logger.Error().Err(err).Str("response", string(body)).Msg("Malformed history page")
		return 0, c.fetchError("malformed payload", err)
	}
	return outcome, nil
}

func (c *Client) fetchPage(ctx context.Context) ([]byte, error) {
	url := fmt.Sprintf("%s/%s?ts=%d", c.baseURL, c.path, c.now().UnixMilli())

	c.logger.Debug().Str("url", url).Msg("Fetching history page")

	body, err := c.httpClient.Get(ctx, url)
	if err != nil {
		return nil, c.fetchError("HTTP request failed", err)
	}
	return body, nil
}

func (c *Client) fetchError(reason string, err error) *models.FetchError {
	return &models.FetchError{
		Source:  models.SourceWingo,
		Cadence: c.cadence,
		Reason:  reason,
		Err:     err,
	}
}

package mzplay

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lazzyont7t/Data/internal/api"
	httpClient "github.com/lazzyont7t/Data/internal/platform/http"
	"github.com/lazzyont7t/Data/models"
)

// typeId values the provider uses to select a game: 30 is the 30-second
// game, 1 is the 1-minute game.
const (
	typeID30s = 30
	typeID1m  = 1
)

// request is the POST body of GetNoaverageEmerdList. Random and
// signature are captured request credentials passed through from config.
type request struct {
	Language  int    `json:"language"`
	PageNo    int    `json:"pageNo"`
	PageSize  int    `json:"pageSize"`
	Random    string `json:"random"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
	TypeID    int    `json:"typeId"`
}

// Client fetches draw history from the mzplay endpoint for one cadence.
type Client struct {
	url        string
	typeID     int
	random     string
	signature  string
	pageSize   int
	cadence    models.Cadence
	httpClient *httpClient.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// ClientOptions holds options for creating a new mzplay client
type ClientOptions struct {
	URL             string
	Cadence         models.Cadence
	Random          string
	Signature       string
	PageSize        int
	RequestTimeout  time.Duration
	RequestsPerSec  int
	MaxRetryTimeout time.Duration
}

// NewClient creates a new mzplay history client for one cadence.
func NewClient(options ClientOptions) *Client {
	if options.URL == "" {
		options.URL = "https://mzplayapi.com/api/webapi/GetNoaverageEmerdList"
	}
	if options.PageSize == 0 {
		options.PageSize = 10
	}

	typeID := typeID1m
	if options.Cadence == models.Cadence30s {
		typeID = typeID30s
	}

	return &Client{
		url:       options.URL,
		typeID:    typeID,
		random:    options.Random,
		signature: options.Signature,
		pageSize:  options.PageSize,
		cadence:   options.Cadence,
		httpClient: httpClient.NewClient(httpClient.ClientOptions{
			Timeout:         options.RequestTimeout,
			RequestsPerSec:  options.RequestsPerSec,
			MaxRetryTimeout: options.MaxRetryTimeout,
		}),
		logger: log.With().Str("component", "mzplay_client").Str("cadence", string(options.Cadence)).Logger(),
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
	payload := request{
		Language:  0,
		PageNo:    1,
		PageSize:  c.pageSize,
		Random:    c.random,
		Signature: c.signature,
		Timestamp: c.now().Unix(),
		TypeID:    c.typeID,
	}

	c.logger.Debug().Int("type_id", c.typeID).Msg("Fetching history page")

	body, err := c.httpClient.PostJSON(ctx, c.url, payload)
	if err != nil {
		return nil, c.fetchError("HTTP request failed", err)
	}
	return body, nil
}

func (c *Client) fetchError(reason string, err error) *models.FetchError {
	return &models.FetchError{
		Source:  models.SourceMzplay,
		Cadence: c.cadence,
		Reason:  reason,
		Err:     err,
	}
}

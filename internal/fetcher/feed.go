package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/fuel"
)

// ErrRateLimited marks an HTTP 429 from the catalogue API. The cache layer
// treats it as a soft failure rather than an upstream error.
var ErrRateLimited = errors.New("fetcher: rate limited by upstream")

const defaultFeedURL = "https://api.data.gov.my/data-catalogue?id=fuelprice"

// FeedOptions parameterise the catalogue fetcher.
type FeedOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Feed fetches the fuel-price catalogue over HTTP.
type Feed struct {
	opts   FeedOptions
	logger zerolog.Logger
	client *http.Client
	url    string
}

// NewFeed constructs a catalogue fetcher.
func NewFeed(opts FeedOptions, logger zerolog.Logger) *Feed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	url := strings.TrimSpace(opts.BaseURL)
	if url == "" {
		url = defaultFeedURL
	}

	return &Feed{
		opts:   opts,
		logger: logger.With().Str("component", "feed_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
		url:    url,
	}
}

// FetchPrices retrieves and decodes the raw catalogue payload.
func (f *Feed) FetchPrices(ctx context.Context) ([]fuel.FeedRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(f.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "fuelwatch/1.0")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch fuel catalogue: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		f.logger.Warn().Msg("catalogue API rate limited the request")
		return nil, ErrRateLimited
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read catalogue response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("catalogue api error (%d): %s", resp.StatusCode, trimBody(body))
	}

	var records []fuel.FeedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parse catalogue payload: %w", err)
	}

	return records, nil
}

func trimBody(body []byte) string {
	const max = 256
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max]
	}
	return s
}

var _ FeedFetcher = (*Feed)(nil)

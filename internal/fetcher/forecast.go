package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/fuel"
)

// ForecastOptions parameterise the forecast fetcher.
type ForecastOptions struct {
	BaseURL string
	Timeout time.Duration
}

// Forecast fetches the externally produced forecast series over HTTP.
type Forecast struct {
	logger zerolog.Logger
	client *http.Client
	url    string
}

// NewForecast constructs a forecast fetcher.
func NewForecast(opts ForecastOptions, logger zerolog.Logger) *Forecast {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Forecast{
		logger: logger.With().Str("component", "forecast_fetcher").Logger(),
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimSpace(opts.BaseURL),
	}
}

// FetchForecast retrieves the forecast payload and normalises it to a
// date-ascending series. The payload shape is the same as the catalogue's
// level records, minus series_type.
func (f *Forecast) FetchForecast(ctx context.Context) (fuel.Series, error) {
	if f.url == "" {
		return nil, fmt.Errorf("forecast url not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read forecast response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("forecast api error (%d): %s", resp.StatusCode, trimBody(body))
	}

	var records []fuel.FeedRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parse forecast payload: %w", err)
	}

	series := make(fuel.Series, 0, len(records))
	for _, rec := range records {
		series = append(series, rec.Point())
	}
	return fuel.SortSeries(series), nil
}

var _ ForecastFetcher = (*Forecast)(nil)

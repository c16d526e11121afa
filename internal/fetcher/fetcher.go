package fetcher

import (
	"context"

	"fuelwatch/internal/fuel"
)

// FeedFetcher retrieves the raw fuel-price catalogue from the open-data API.
type FeedFetcher interface {
	FetchPrices(ctx context.Context) ([]fuel.FeedRecord, error)
}

// ForecastFetcher retrieves the externally computed forecast series.
type ForecastFetcher interface {
	FetchForecast(ctx context.Context) (fuel.Series, error)
}

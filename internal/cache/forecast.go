package cache

import (
	"context"

	"github.com/rs/zerolog"

	"fuelwatch/internal/fetcher"
	"fuelwatch/internal/fuel"
)

// Gateway wraps the forecast fetcher so that forecast unavailability always
// degrades to an empty series instead of an error. Forecast data feeds the
// dashboard only; it never participates in alert evaluation.
type Gateway struct {
	fetcher fetcher.ForecastFetcher
	logger  zerolog.Logger
}

// NewGateway constructs a forecast gateway.
func NewGateway(f fetcher.ForecastFetcher, logger zerolog.Logger) *Gateway {
	return &Gateway{
		fetcher: f,
		logger:  logger.With().Str("component", "forecast_gateway").Logger(),
	}
}

// Forecast returns the forecast series sorted ascending by date, or an empty
// series when the source fails in any way.
func (g *Gateway) Forecast(ctx context.Context) fuel.Series {
	series, err := g.fetcher.FetchForecast(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("forecast unavailable; returning empty series")
		return fuel.Series{}
	}
	if series == nil {
		series = fuel.Series{}
	}
	return series
}

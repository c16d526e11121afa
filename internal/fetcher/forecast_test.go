package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestForecast(url string) *Forecast {
	return NewForecast(ForecastOptions{BaseURL: url, Timeout: time.Second}, noopLogger())
}

func TestForecastFetchSortsAscending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"date":"2024-03-01","ron95":2.07},
			{"date":"2024-02-01","ron95":2.06}
		]`))
	}))
	defer srv.Close()

	series, err := newTestForecast(srv.URL).FetchForecast(context.Background())
	if err != nil {
		t.Fatalf("successful response should not fail: %v", err)
	}
	if len(series) != 2 {
		t.Fatalf("expected 2 points, got %d", len(series))
	}
	if series[0].Date.String() != "2024-02-01" || series[1].Date.String() != "2024-03-01" {
		t.Fatalf("series not ascending: %s, %s", series[0].Date, series[1].Date)
	}
}

func TestForecastFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := newTestForecast(srv.URL).FetchForecast(context.Background()); err == nil {
		t.Fatal("non-2xx should fail")
	}
}

func TestForecastFetchUnconfigured(t *testing.T) {
	if _, err := newTestForecast("").FetchForecast(context.Background()); err == nil {
		t.Fatal("missing url should fail")
	}
}

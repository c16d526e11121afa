package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/fetcher"
	"fuelwatch/internal/fuel"
)

type fakeFeed struct {
	mu      sync.Mutex
	calls   int
	records []fuel.FeedRecord
	err     error
	// when set, FetchPrices blocks until the channel is closed
	release chan struct{}
	started chan struct{}
}

func (f *fakeFeed) FetchPrices(ctx context.Context) ([]fuel.FeedRecord, error) {
	f.mu.Lock()
	f.calls++
	started := f.started
	release := f.release
	f.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func (f *fakeFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFeed) set(records []fuel.FeedRecord, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = records
	f.err = err
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func levelRecord(t *testing.T, date, ron95 string) fuel.FeedRecord {
	t.Helper()
	day, err := fuel.ParseDate(date)
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	price, err := decimal.NewFromString(ron95)
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	return fuel.FeedRecord{SeriesType: "level", Date: day, RON95: &price}
}

func newTestCache(feed fetcher.FeedFetcher, clock *fakeClock, stale bool) *Cache {
	return New(feed, Options{
		TTL:          24 * time.Hour,
		StaleOnError: stale,
		Now:          clock.now,
	}, zerolog.Nop())
}

func TestSnapshotServedFromCacheWithinTTL(t *testing.T) {
	feed := &fakeFeed{records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")}}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, true)

	first, err := c.Snapshot(context.Background(), false)
	if err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}

	clock.advance(23 * time.Hour)
	second, err := c.Snapshot(context.Background(), false)
	if err != nil {
		t.Fatalf("second snapshot failed: %v", err)
	}

	if feed.callCount() != 1 {
		t.Fatalf("within TTL only one fetch should happen, got %d", feed.callCount())
	}
	if len(second.Level) != len(first.Level) || second.Level[0].Date != first.Level[0].Date {
		t.Fatal("cached snapshot should be identical")
	}
}

func TestSnapshotRefreshesAfterTTL(t *testing.T) {
	feed := &fakeFeed{records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")}}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, true)

	if _, err := c.Snapshot(context.Background(), false); err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}

	clock.advance(25 * time.Hour)
	if _, err := c.Snapshot(context.Background(), false); err != nil {
		t.Fatalf("snapshot after TTL failed: %v", err)
	}

	if feed.callCount() != 2 {
		t.Fatalf("expired entry should refetch, got %d calls", feed.callCount())
	}
}

func TestForceRefreshBypassesTTL(t *testing.T) {
	feed := &fakeFeed{records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")}}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, true)

	if _, err := c.Snapshot(context.Background(), false); err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}
	if _, err := c.Snapshot(context.Background(), true); err != nil {
		t.Fatalf("forced snapshot failed: %v", err)
	}

	if feed.callCount() != 2 {
		t.Fatalf("force refresh should refetch, got %d calls", feed.callCount())
	}
}

func TestSingleFlightDeduplicatesConcurrentRefreshes(t *testing.T) {
	feed := &fakeFeed{
		records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")},
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, true)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Snapshot(context.Background(), true)
			errs <- err
		}()
	}

	// Wait until the first fetch is in flight, give the rest time to queue
	// behind it, then let it finish.
	<-feed.started
	time.Sleep(50 * time.Millisecond)
	close(feed.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent snapshot failed: %v", err)
		}
	}
	if feed.callCount() != 1 {
		t.Fatalf("concurrent refreshes should share one fetch, got %d", feed.callCount())
	}
}

func TestRateLimitedServesCachedEntryUnchanged(t *testing.T) {
	feed := &fakeFeed{records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")}}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, false)

	if _, err := c.Snapshot(context.Background(), false); err != nil {
		t.Fatalf("first snapshot failed: %v", err)
	}
	_, fetchedAt, _ := c.Entry()

	clock.advance(25 * time.Hour)
	feed.set(nil, fetcher.ErrRateLimited)

	snapshot, err := c.Snapshot(context.Background(), false)
	if err != nil {
		t.Fatalf("rate limiting must not surface as an error: %v", err)
	}
	if len(snapshot.Level) != 1 || snapshot.Level[0].Date.String() != "2024-01-01" {
		t.Fatalf("cached entry should be served unchanged: %+v", snapshot.Level)
	}

	_, after, _ := c.Entry()
	if !after.Equal(fetchedAt) {
		t.Fatal("fetchedAt must not move on a rate-limited refresh")
	}
}

func TestRateLimitedColdCacheReturnsEmpty(t *testing.T) {
	feed := &fakeFeed{err: fetcher.ErrRateLimited}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, false)

	snapshot, err := c.Snapshot(context.Background(), false)
	if err != nil {
		t.Fatalf("rate limiting with a cold cache must not fail: %v", err)
	}
	if snapshot.Level == nil || snapshot.Change == nil {
		t.Fatal("empty snapshot should have non-nil series")
	}
	if len(snapshot.Level) != 0 || len(snapshot.Change) != 0 {
		t.Fatalf("expected empty series, got %+v", snapshot)
	}
}

func TestStaleOnErrorPolicy(t *testing.T) {
	upstreamErr := errors.New("connection refused")

	for _, tc := range []struct {
		name      string
		stale     bool
		wantError bool
	}{
		{name: "serve stale", stale: true, wantError: false},
		{name: "propagate error", stale: false, wantError: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			feed := &fakeFeed{records: []fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")}}
			clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
			c := newTestCache(feed, clock, tc.stale)

			if _, err := c.Snapshot(context.Background(), false); err != nil {
				t.Fatalf("first snapshot failed: %v", err)
			}

			clock.advance(25 * time.Hour)
			feed.set(nil, upstreamErr)

			snapshot, err := c.Snapshot(context.Background(), false)
			if tc.wantError {
				if !errors.Is(err, ErrUpstream) {
					t.Fatalf("expected ErrUpstream, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("stale fallback should not fail: %v", err)
			}
			if len(snapshot.Level) != 1 {
				t.Fatalf("stale snapshot should still hold data: %+v", snapshot)
			}
		})
	}
}

func TestColdCacheUpstreamFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("boom")}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, true)

	if _, err := c.Snapshot(context.Background(), false); !errors.Is(err, ErrUpstream) {
		t.Fatalf("cold cache with failing upstream should fail with ErrUpstream, got %v", err)
	}
}

func TestPrimeSeedsEntry(t *testing.T) {
	feed := &fakeFeed{err: errors.New("must not be called")}
	clock := &fakeClock{t: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	c := newTestCache(feed, clock, false)

	snapshot := fuel.PartitionRecords([]fuel.FeedRecord{levelRecord(t, "2024-01-01", "2.05")})
	c.Prime(snapshot, clock.now().Add(-time.Hour))

	got, err := c.Snapshot(context.Background(), false)
	if err != nil {
		t.Fatalf("primed cache should serve without fetching: %v", err)
	}
	if feed.callCount() != 0 {
		t.Fatalf("prime must not trigger a fetch, got %d calls", feed.callCount())
	}
	if len(got.Level) != 1 {
		t.Fatalf("unexpected primed snapshot: %+v", got)
	}
}

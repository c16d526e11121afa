package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"fuelwatch/internal/fetcher"
	"fuelwatch/internal/fuel"
)

// ErrUpstream indicates the feed could not be fetched and no usable cached
// snapshot exists to fall back on.
var ErrUpstream = errors.New("cache: upstream unavailable and no cached data")

// Options tune the snapshot cache.
type Options struct {
	TTL time.Duration
	// StaleOnError keeps serving the previous snapshot when a refresh fails
	// for any reason other than rate limiting. Rate limiting always falls
	// back to the cached snapshot.
	StaleOnError bool
	// Now is the clock source; defaults to time.Now.
	Now func() time.Time
}

type entry struct {
	snapshot  fuel.Snapshot
	fetchedAt time.Time
}

// Cache owns the process-wide fuel-price snapshot. It serves cached data
// within the TTL, deduplicates concurrent refreshes, and degrades to stale
// or empty data instead of failing when the upstream throttles.
type Cache struct {
	feed   fetcher.FeedFetcher
	ttl    time.Duration
	stale  bool
	now    func() time.Time
	logger zerolog.Logger

	mu    sync.RWMutex
	entry *entry

	group singleflight.Group
}

// New constructs a snapshot cache around the given feed fetcher.
func New(feed fetcher.FeedFetcher, opts Options, logger zerolog.Logger) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		feed:   feed,
		ttl:    ttl,
		stale:  opts.StaleOnError,
		now:    now,
		logger: logger.With().Str("component", "price_cache").Logger(),
	}
}

// Snapshot returns the level and weekly-change series. Within the TTL it is
// served from memory without touching the network unless forceRefresh is
// set. At most one upstream fetch is in flight at a time; concurrent callers
// share its result.
func (c *Cache) Snapshot(ctx context.Context, forceRefresh bool) (fuel.Snapshot, error) {
	if !forceRefresh {
		if snap, ok := c.fresh(); ok {
			return snap, nil
		}
	}

	result, err, _ := c.group.Do("feed", func() (interface{}, error) {
		// A caller queued behind the refresh that just completed should not
		// trigger another fetch.
		if !forceRefresh {
			if snap, ok := c.fresh(); ok {
				return snap, nil
			}
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return fuel.Snapshot{}, err
	}
	return result.(fuel.Snapshot), nil
}

// Entry exposes the cached snapshot and its fetch time without triggering a
// refresh.
func (c *Cache) Entry() (fuel.Snapshot, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return fuel.Snapshot{}, time.Time{}, false
	}
	return c.entry.snapshot, c.entry.fetchedAt, true
}

// Prime seeds the cache with a previously persisted snapshot. A zero
// fetchedAt is ignored.
func (c *Cache) Prime(snapshot fuel.Snapshot, fetchedAt time.Time) {
	if fetchedAt.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || c.entry.fetchedAt.Before(fetchedAt) {
		c.entry = &entry{snapshot: snapshot, fetchedAt: fetchedAt}
	}
}

func (c *Cache) fresh() (fuel.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return fuel.Snapshot{}, false
	}
	if c.now().Sub(c.entry.fetchedAt) >= c.ttl {
		return fuel.Snapshot{}, false
	}
	return c.entry.snapshot, true
}

func (c *Cache) refresh(ctx context.Context) (fuel.Snapshot, error) {
	records, err := c.feed.FetchPrices(ctx)
	if err != nil {
		return c.degrade(err)
	}

	snapshot := fuel.PartitionRecords(records)
	fetchedAt := c.now()

	c.mu.Lock()
	c.entry = &entry{snapshot: snapshot, fetchedAt: fetchedAt}
	c.mu.Unlock()

	c.logger.Info().
		Int("level_points", len(snapshot.Level)).
		Int("change_points", len(snapshot.Change)).
		Time("fetched_at", fetchedAt).
		Msg("refreshed price snapshot")

	return snapshot, nil
}

// degrade decides what to serve when a refresh fails. The cached entry, if
// any, is left untouched so a failed refresh never destroys valid data.
func (c *Cache) degrade(cause error) (fuel.Snapshot, error) {
	c.mu.RLock()
	cached := c.entry
	c.mu.RUnlock()

	if errors.Is(cause, fetcher.ErrRateLimited) {
		if cached != nil {
			c.logger.Warn().Msg("rate limited; serving cached snapshot")
			return cached.snapshot, nil
		}
		c.logger.Warn().Msg("rate limited with cold cache; serving empty snapshot")
		return fuel.Snapshot{Level: fuel.Series{}, Change: fuel.Series{}}, nil
	}

	if cached != nil && c.stale {
		c.logger.Error().Err(cause).Msg("refresh failed; serving stale snapshot")
		return cached.snapshot, nil
	}

	return fuel.Snapshot{}, fmt.Errorf("%w: %v", ErrUpstream, cause)
}

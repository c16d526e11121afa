package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/alerting"
	"fuelwatch/internal/cache"
	"fuelwatch/internal/config"
	"fuelwatch/internal/fetcher"
	"fuelwatch/internal/service"
	"fuelwatch/internal/storage"
	"fuelwatch/internal/subscription"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newCache() *cache.Cache {
	feed := fetcher.NewFeed(fetcher.FeedOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)

	return cache.New(feed, cache.Options{
		TTL:          a.Config.Feed.CacheTTL,
		StaleOnError: a.Config.Feed.StaleOnError,
	}, a.Logger)
}

func (a *App) newForecastGateway() *cache.Gateway {
	forecast := fetcher.NewForecast(fetcher.ForecastOptions{
		BaseURL: a.Config.Forecast.BaseURL,
		Timeout: a.Config.Forecast.RequestTimeout,
	}, a.Logger)
	return cache.NewGateway(forecast, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled {
		tg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(tg.BotToken, tg.APIBase, tg.RequestTimeout, a.Logger)
	}
	return alerting.NewLogNotifier(a.Logger)
}

// openStore connects to PostgreSQL when a DSN is configured. Without one it
// returns nil and the caller falls back to the in-memory subscription store.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

type runtimeDeps struct {
	cache     *cache.Cache
	forecast  *cache.Gateway
	subs      subscription.Store
	svc       *service.Service
	store     *storage.Store
	closeFunc func()
}

// buildRuntime assembles the cache, stores, and alerting service shared by
// the serve, watch, and evaluate commands.
func (a *App) buildRuntime(ctx context.Context) (*runtimeDeps, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	priceCache := a.newCache()

	var subs subscription.Store
	var log storage.NotificationStore
	var locker storage.AdvisoryLocker
	if store != nil {
		subs = store
		log = store
		locker = store

		// Warm the cache from the last persisted snapshot so a restart does
		// not hit the upstream immediately.
		if snapshot, fetchedAt, ok, loadErr := store.LoadSnapshot(ctx); loadErr != nil {
			a.Logger.Warn().Err(loadErr).Msg("could not load persisted snapshot")
		} else if ok {
			priceCache.Prime(snapshot, fetchedAt)
		}
	} else {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory subscription store")
		subs = subscription.NewMemory()
	}

	svc := service.New(service.Options{
		Cache:     priceCache,
		Store:     subs,
		Notifier:  a.newNotifier(),
		Log:       log,
		Locker:    locker,
		LockKey:   a.Config.Scheduler.AdvisoryLockKey,
		Retention: a.Config.Alerting.Retention,
	}, a.Logger)

	return &runtimeDeps{
		cache:     priceCache,
		forecast:  a.newForecastGateway(),
		subs:      subs,
		svc:       svc,
		store:     store,
		closeFunc: closeStore,
	}, nil
}

// pass runs one evaluation pass and persists the cache entry when it moved.
func (d *runtimeDeps) pass(a *App) func(ctx context.Context, at time.Time) error {
	var lastSaved time.Time
	return func(ctx context.Context, at time.Time) error {
		err := d.svc.RunPass(ctx, at)

		if d.store != nil {
			if snapshot, fetchedAt, ok := d.cache.Entry(); ok && fetchedAt.After(lastSaved) {
				if saveErr := d.store.SaveSnapshot(ctx, snapshot, fetchedAt); saveErr != nil {
					a.Logger.Warn().Err(saveErr).Msg("could not persist price snapshot")
				} else {
					lastSaved = fetchedAt
				}
			}
		}

		return err
	}
}

package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"fuelwatch/internal/scheduler"
	"fuelwatch/internal/server"
)

// Serve runs the HTTP API together with the background evaluation scheduler
// until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	if deps.closeFunc != nil {
		defer deps.closeFunc()
	}

	srv := server.New(server.Options{
		Port:     a.Config.Server.Port,
		DevMode:  a.Config.Server.DevMode,
		Cache:    deps.cache,
		Forecast: deps.forecast,
		Subs:     deps.subs,
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	schedDone := make(chan error, 1)
	go func() {
		schedDone <- sched.Run(ctx, deps.pass(a))
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	a.Logger.Info().Msg("fuelwatch serving")

	select {
	case <-ctx.Done():
	case err := <-serverDone:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("server shutdown failed")
	}

	if err := <-schedDone; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("fuelwatch stopped")
	return nil
}

// Watch runs only the background evaluation scheduler, without the HTTP API.
func (a *App) Watch(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deps, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	if deps.closeFunc != nil {
		defer deps.closeFunc()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Msg("starting alert watcher")
	err = sched.Run(ctx, deps.pass(a))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.Logger.Info().Msg("alert watcher stopped")
	return nil
}

// Evaluate runs exactly one evaluation pass, the on-demand counterpart of
// the scheduled loop.
func (a *App) Evaluate(ctx context.Context) error {
	deps, err := a.buildRuntime(ctx)
	if err != nil {
		return err
	}
	if deps.closeFunc != nil {
		defer deps.closeFunc()
	}

	return deps.pass(a)(ctx, time.Now().UTC())
}

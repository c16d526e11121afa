package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/alerting"
	"fuelwatch/internal/cache"
	"fuelwatch/internal/storage"
	"fuelwatch/internal/subscription"
)

// Service orchestrates one alert-evaluation pass: latest snapshot in, fired
// notifications out.
type Service struct {
	cache     *cache.Cache
	store     subscription.Store
	evaluator *subscription.Evaluator
	notifier  alerting.Notifier
	log       storage.NotificationStore
	locker    storage.AdvisoryLocker
	lockKey   int64
	retention time.Duration
	logger    zerolog.Logger
}

// Options wire the service's collaborators. Log and Locker may be nil; a
// zero Retention keeps audit records forever.
type Options struct {
	Cache     *cache.Cache
	Store     subscription.Store
	Notifier  alerting.Notifier
	Log       storage.NotificationStore
	Locker    storage.AdvisoryLocker
	LockKey   int64
	Retention time.Duration
}

// New constructs the alerting service.
func New(opts Options, logger zerolog.Logger) *Service {
	return &Service{
		cache:     opts.Cache,
		store:     opts.Store,
		evaluator: subscription.NewEvaluator(logger),
		notifier:  opts.Notifier,
		log:       opts.Log,
		locker:    opts.Locker,
		lockKey:   opts.LockKey,
		retention: opts.Retention,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// RunPass executes one evaluation pass. The subscription list is read once
// up front; a rule added mid-pass waits for the next one. LastNotifiedAt is
// recorded only after delivery succeeds, so a failed send fires again on the
// next pass.
func (s *Service) RunPass(ctx context.Context, at time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("at", at).Msg("skip pass because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.executePass(ctx, at); err != nil {
		return err
	}
	s.sweepAuditLog(ctx, at)
	return nil
}

// sweepAuditLog trims audit records older than the retention window. Runs
// after each pass so the log cannot grow unbounded.
func (s *Service) sweepAuditLog(ctx context.Context, at time.Time) {
	if s.log == nil || s.retention <= 0 {
		return
	}
	cutoff := at.Add(-s.retention)
	if err := s.log.DeleteNotificationsBefore(ctx, cutoff); err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to trim notification audit log")
	}
}

func (s *Service) executePass(ctx context.Context, at time.Time) error {
	snapshot, err := s.cache.Snapshot(ctx, false)
	if err != nil {
		return fmt.Errorf("load price snapshot: %w", err)
	}

	latest, ok := snapshot.Level.Latest()
	if !ok {
		s.logger.Warn().Time("at", at).Msg("no level data; nothing to evaluate")
		return nil
	}

	owners, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	events := s.evaluator.Evaluate(latest, owners, at)
	if len(events) == 0 {
		s.logger.Debug().Time("at", at).Int("owners", len(owners)).Msg("no rules fired")
		return nil
	}

	var delivered, failed int
	for _, event := range events {
		if err := s.notifier.Notify(ctx, event); err != nil {
			failed++
			s.logger.Error().Err(err).
				Str("owner", event.Owner).
				Str("fuel", string(event.Rule.Fuel)).
				Msg("alert delivery failed; will retry next pass")
			continue
		}
		delivered++

		if err := s.store.RecordNotified(ctx, event.Owner, event.Index, event.FiredAt); err != nil {
			// A concurrent removal can invalidate the index; the rule is gone
			// so there is nothing to stamp.
			if !errors.Is(err, subscription.ErrNotFound) {
				s.logger.Error().Err(err).Str("owner", event.Owner).Msg("failed to record notification time")
			}
		}

		if s.log != nil {
			rec := storage.NotificationRecord{
				Owner:     event.Owner,
				Fuel:      string(event.Rule.Fuel),
				Condition: string(event.Rule.Condition),
				Threshold: event.Rule.Threshold,
				Observed:  event.Observed,
				FiredAt:   event.FiredAt,
			}
			if _, err := s.log.InsertNotification(ctx, rec); err != nil {
				s.logger.Error().Err(err).Str("owner", event.Owner).Msg("failed to append audit log")
			}
		}
	}

	s.logger.Info().Time("at", at).
		Int("fired", len(events)).
		Int("delivered", delivered).
		Int("failed", failed).
		Str("price_date", latest.Date.String()).
		Msg("evaluation pass complete")
	return nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"fuelwatch/internal/subscription"
)

// LogNotifier writes alerts to the log instead of an external channel. Used
// when Telegram delivery is disabled, so evaluation passes and throttling
// still behave normally.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the rendered alert and always succeeds.
func (n *LogNotifier) Notify(_ context.Context, event subscription.Event) error {
	n.logger.Info().
		Str("owner", event.Owner).
		Str("fuel", string(event.Rule.Fuel)).
		Str("condition", string(event.Rule.Condition)).
		Str("threshold", event.Rule.Threshold.String()).
		Str("observed", event.Observed.String()).
		Msg("alert fired (delivery disabled)")
	return nil
}

var _ Notifier = (*LogNotifier)(nil)

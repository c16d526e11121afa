package subscription

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
)

const (
	dailyWindow  = 24 * time.Hour
	weeklyWindow = 7 * 24 * time.Hour
)

// Event is a rule that fired against an observed price and cleared its
// frequency throttle. It is handed to the dispatcher; LastNotifiedAt is only
// recorded after delivery succeeds.
type Event struct {
	Owner    string
	ChatID   string
	Index    int
	Rule     Subscription
	Observed decimal.Decimal
	FiredAt  time.Time
}

// Evaluator decides which rules fire for a given price point.
type Evaluator struct {
	logger zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger.With().Str("component", "evaluator").Logger()}
}

// Evaluate compares every rule against the latest observed price point and
// returns the events whose condition holds and whose frequency window has
// elapsed. It never fails: a rule referencing a grade the point does not
// carry is skipped so that one bad rule cannot block the rest of the pass.
// Rules are evaluated in stored order within each owner.
func (e *Evaluator) Evaluate(latest fuel.PricePoint, owners []OwnerRules, now time.Time) []Event {
	var events []Event
	for _, owner := range owners {
		for i, rule := range owner.Rules {
			observed, ok := latest.Price(rule.Fuel)
			if !ok {
				e.logger.Debug().
					Str("owner", owner.Owner).
					Str("fuel", string(rule.Fuel)).
					Msg("grade absent from latest point; skipping rule")
				continue
			}
			if !triggered(rule, observed) {
				continue
			}
			if !throttleAllows(rule, now) {
				continue
			}
			events = append(events, Event{
				Owner:    owner.Owner,
				ChatID:   owner.ChatID,
				Index:    i,
				Rule:     rule,
				Observed: observed,
				FiredAt:  now,
			})
		}
	}
	return events
}

// triggered applies the strict threshold comparison. Equality never fires.
func triggered(rule Subscription, observed decimal.Decimal) bool {
	switch rule.Condition {
	case ConditionAbove:
		return observed.GreaterThan(rule.Threshold)
	case ConditionBelow:
		return observed.LessThan(rule.Threshold)
	default:
		return false
	}
}

func throttleAllows(rule Subscription, now time.Time) bool {
	if rule.Frequency == FrequencyInstant || rule.LastNotifiedAt == nil {
		return true
	}
	elapsed := now.Sub(*rule.LastNotifiedAt)
	switch rule.Frequency {
	case FrequencyDaily:
		return elapsed > dailyWindow
	case FrequencyWeekly:
		return elapsed > weeklyWindow
	default:
		return true
	}
}

package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
)

// ErrNotFound indicates the referenced owner or rule index does not exist.
var ErrNotFound = errors.New("subscription: not found")

// Condition states which side of the threshold triggers an alert.
type Condition string

const (
	ConditionAbove Condition = "above"
	ConditionBelow Condition = "below"
)

// Frequency bounds how often a rule may notify while it keeps matching.
type Frequency string

const (
	FrequencyInstant Frequency = "instant"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

// Subscription is one user-defined threshold alert rule.
type Subscription struct {
	Fuel           fuel.Grade      `json:"fuel"`
	Condition      Condition       `json:"condition"`
	Threshold      decimal.Decimal `json:"threshold"`
	Frequency      Frequency       `json:"frequency"`
	LastNotifiedAt *time.Time      `json:"last_notified_at,omitempty"`
}

// Validate checks the rule fields against the accepted vocabulary.
func (s Subscription) Validate() error {
	if !s.Fuel.Valid() {
		return fmt.Errorf("unknown fuel grade %q", s.Fuel)
	}
	switch s.Condition {
	case ConditionAbove, ConditionBelow:
	default:
		return fmt.Errorf("condition must be above or below, got %q", s.Condition)
	}
	switch s.Frequency {
	case FrequencyInstant, FrequencyDaily, FrequencyWeekly:
	default:
		return fmt.Errorf("frequency must be instant, daily or weekly, got %q", s.Frequency)
	}
	if s.Threshold.IsNegative() {
		return fmt.Errorf("threshold cannot be negative")
	}
	return nil
}

// OwnerRules is one owner's stored rule set plus delivery routing.
type OwnerRules struct {
	Owner  string         `json:"owner"`
	ChatID string         `json:"chat_id,omitempty"`
	Rules  []Subscription `json:"rules"`
}

// Store is the contract for subscription persistence. Mutations on one
// owner's list are atomic read-modify-write operations: two concurrent Add
// calls for the same owner must both survive.
type Store interface {
	// List returns the owner's rules in stored order; an unknown owner
	// yields an empty list, not an error.
	List(ctx context.Context, owner string) ([]Subscription, error)

	// ListAll returns every owner's rules for an evaluation pass.
	ListAll(ctx context.Context) ([]OwnerRules, error)

	// Add appends a rule to the owner's list, creating the owner record if
	// absent. A non-empty chatID updates the owner's delivery route.
	Add(ctx context.Context, owner, chatID string, rule Subscription) error

	// Remove deletes the rule at index, preserving the order of the rest.
	// Returns ErrNotFound when the owner is unknown or index out of range.
	Remove(ctx context.Context, owner string, index int) error

	// RecordNotified stamps LastNotifiedAt on one rule, leaving the others
	// untouched. Returns ErrNotFound when the rule no longer exists.
	RecordNotified(ctx context.Context, owner string, index int, when time.Time) error
}

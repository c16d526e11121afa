package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
)

func testRule(threshold string) Subscription {
	return Subscription{
		Fuel:      fuel.GradeRON95,
		Condition: ConditionBelow,
		Threshold: decimal.RequireFromString(threshold),
		Frequency: FrequencyInstant,
	}
}

func TestMemoryAddIsAdditive(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Add(ctx, "alice", "123", testRule("2.05")); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if err := store.Add(ctx, "alice", "", testRule("1.90")); err != nil {
		t.Fatalf("second add failed: %v", err)
	}

	rules, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("both rules should survive, got %d", len(rules))
	}
	if rules[0].Threshold.String() != "2.05" || rules[1].Threshold.String() != "1.9" {
		t.Fatalf("stored order should be preserved: %+v", rules)
	}
}

func TestMemoryListUnknownOwner(t *testing.T) {
	rules, err := NewMemory().List(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unknown owner should not fail: %v", err)
	}
	if len(rules) != 0 {
		t.Fatalf("unknown owner should have no rules, got %d", len(rules))
	}
}

func TestMemoryRemovePreservesRemainder(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Add(ctx, "alice", "", testRule("2.05"))
	_ = store.Add(ctx, "alice", "", testRule("1.90"))

	if err := store.Remove(ctx, "alice", 0); err != nil {
		t.Fatalf("remove failed: %v", err)
	}

	rules, _ := store.List(ctx, "alice")
	if len(rules) != 1 || rules[0].Threshold.String() != "1.9" {
		t.Fatalf("remaining rule should be the second one: %+v", rules)
	}
}

func TestMemoryRemoveOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Add(ctx, "alice", "", testRule("2.05"))

	if err := store.Remove(ctx, "alice", 5); !errors.Is(err, ErrNotFound) {
		t.Fatalf("out-of-range index should yield ErrNotFound, got %v", err)
	}
	if err := store.Remove(ctx, "alice", -1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("negative index should yield ErrNotFound, got %v", err)
	}
	if err := store.Remove(ctx, "bob", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown owner should yield ErrNotFound, got %v", err)
	}

	rules, _ := store.List(ctx, "alice")
	if len(rules) != 1 {
		t.Fatalf("failed remove must leave the list unchanged, got %d rules", len(rules))
	}
}

func TestMemoryRecordNotified(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	_ = store.Add(ctx, "alice", "", testRule("2.05"))
	_ = store.Add(ctx, "alice", "", testRule("1.90"))

	when := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	if err := store.RecordNotified(ctx, "alice", 1, when); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	rules, _ := store.List(ctx, "alice")
	if rules[0].LastNotifiedAt != nil {
		t.Fatal("untouched rule must keep a nil LastNotifiedAt")
	}
	if rules[1].LastNotifiedAt == nil || !rules[1].LastNotifiedAt.Equal(when) {
		t.Fatalf("stamped rule should carry the notification time: %+v", rules[1])
	}

	if err := store.RecordNotified(ctx, "alice", 9, when); !errors.Is(err, ErrNotFound) {
		t.Fatalf("out-of-range record should yield ErrNotFound, got %v", err)
	}
}

func TestMemoryConcurrentAddsAllSurvive(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Add(ctx, "alice", "", testRule("2.05"))
		}()
	}
	wg.Wait()

	rules, _ := store.List(ctx, "alice")
	if len(rules) != writers {
		t.Fatalf("every concurrent add must survive, got %d of %d", len(rules), writers)
	}
}

func TestSubscriptionValidate(t *testing.T) {
	valid := testRule("2.05")
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid rule should pass: %v", err)
	}

	bad := valid
	bad.Fuel = "kerosene"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown grade should fail validation")
	}

	bad = valid
	bad.Condition = "near"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown condition should fail validation")
	}

	bad = valid
	bad.Frequency = "hourly"
	if err := bad.Validate(); err == nil {
		t.Fatal("unknown frequency should fail validation")
	}

	bad = valid
	bad.Threshold = decimal.RequireFromString("-1")
	if err := bad.Validate(); err == nil {
		t.Fatal("negative threshold should fail validation")
	}
}

package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fuelwatch/internal/fuel"
	"fuelwatch/internal/subscription"
)

func testEvent() subscription.Event {
	return subscription.Event{
		Owner:  "alice",
		ChatID: "12345",
		Index:  0,
		Rule: subscription.Subscription{
			Fuel:      fuel.GradeRON95,
			Condition: subscription.ConditionBelow,
			Threshold: decimal.RequireFromString("2.05"),
			Frequency: subscription.FrequencyDaily,
		},
		Observed: decimal.RequireFromString("2.01"),
		FiredAt:  time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("delivery should succeed: %v", err)
	}

	if received["chat_id"] != "12345" {
		t.Fatalf("chat id should be the registered one, got %#v", received)
	}
	if received["parse_mode"] != "HTML" {
		t.Fatalf("messages use HTML markup, got %q", received["parse_mode"])
	}
	if !strings.Contains(received["text"], "RON95") || !strings.Contains(received["text"], "2.01") {
		t.Fatalf("message should name the fuel and the observed price: %q", received["text"])
	}
}

func TestTelegramNotifierFallsBackToOwner(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	event := testEvent()
	event.ChatID = ""

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), event); err != nil {
		t.Fatalf("delivery should succeed: %v", err)
	}
	if received["chat_id"] != "alice" {
		t.Fatalf("without a chat id the owner is the recipient, got %#v", received)
	}
}

func TestTelegramNotifierNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), testEvent())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("ok=false should yield ErrDelivery, got %v", err)
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", srv.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), testEvent())
	if !errors.Is(err, ErrDelivery) {
		t.Fatalf("non-2xx should yield ErrDelivery, got %v", err)
	}
}

func TestRenderMessage(t *testing.T) {
	text := RenderMessage(testEvent())
	for _, want := range []string{"Fuel Alert", "RON95", "below RM 2.05", "RM 2.01", "2024-01-02"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message should contain %q:\n%s", want, text)
		}
	}
}

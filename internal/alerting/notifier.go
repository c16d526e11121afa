package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"fuelwatch/internal/subscription"
)

// ErrDelivery marks a failed notification send. The caller must not stamp
// LastNotifiedAt on such failures so the next pass retries.
var ErrDelivery = errors.New("alerting: delivery failed")

// Notifier delivers a fired alert to its owner.
type Notifier interface {
	Notify(ctx context.Context, event subscription.Event) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify renders the alert text and calls the sendMessage API. The chat id
// registered at subscribe time is preferred; the owner id is the fallback
// recipient.
func (n *TelegramNotifier) Notify(ctx context.Context, event subscription.Event) error {
	recipient := event.ChatID
	if recipient == "" {
		recipient = event.Owner
	}

	payload := map[string]string{
		"chat_id":    recipient,
		"text":       RenderMessage(event),
		"parse_mode": "HTML",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: telegram status %d", ErrDelivery, resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("%w: telegram returned ok=false", ErrDelivery)
	}

	n.logger.Info().
		Str("owner", event.Owner).
		Str("fuel", string(event.Rule.Fuel)).
		Str("observed", event.Observed.String()).
		Msg("alert delivered")
	return nil
}

// RenderMessage builds the alert text sent to the user.
func RenderMessage(event subscription.Event) string {
	builder := strings.Builder{}
	builder.WriteString("🚨 <b>Fuel Alert</b> 🚨\n")
	builder.WriteString(fmt.Sprintf("Fuel: %s\n", event.Rule.Fuel.Label()))
	builder.WriteString(fmt.Sprintf("Condition: %s RM %s\n", event.Rule.Condition, event.Rule.Threshold.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Current Price: RM %s\n", event.Observed.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Date: %s", event.FiredAt.UTC().Format("2006-01-02 15:04 MST")))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

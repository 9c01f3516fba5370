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
)

// Notification is one signal alert.
type Notification struct {
	SignalID      string
	Instrument    string
	SignalType    string
	Direction     string
	Confidence    float64
	Narrative     string
	Insight       string
	Keywords      []string
	Corroborated  bool
	CreatedAt     time.Time
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers alerts to a channel.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered alert to sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return errors.New("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("signal_id", note.SignalID).
		Str("instrument", note.Instrument).
		Str("direction", note.Direction).
		Msg("signal alert sent (Telegram)")
	return nil
}

// LogNotifier writes alerts to the log instead of an external channel.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info().Str("signal_id", note.SignalID).Msg(renderMessage(note))
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Signal Alert]\n")
	builder.WriteString(fmt.Sprintf("Instrument: %s\n", note.Instrument))
	builder.WriteString(fmt.Sprintf("Type: %s / %s\n", note.SignalType, strings.ToUpper(note.Direction)))
	builder.WriteString(fmt.Sprintf("Confidence: %.0f%%", note.Confidence*100))
	if note.Corroborated {
		builder.WriteString(" (corroborated)")
	}
	builder.WriteString("\n")
	if !note.CreatedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Created: %s UTC\n", note.CreatedAt.UTC().Format(time.RFC3339)))
	}
	if note.Narrative != "" {
		builder.WriteString(fmt.Sprintf("\n%s\n", note.Narrative))
	}
	if note.Insight != "" {
		builder.WriteString(fmt.Sprintf("\nInsight: %s\n", note.Insight))
	}
	if len(note.Keywords) > 0 {
		builder.WriteString(fmt.Sprintf("Keywords: %s\n", strings.Join(note.Keywords, ", ")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)

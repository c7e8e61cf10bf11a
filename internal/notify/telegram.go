// Package notify delivers status-change notifications. Delivery is best
// effort: a failed notification is logged and dropped, never allowed to
// fail the cycle that produced it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"wardendns.io/internal/flap"
	"wardendns.io/internal/logging"
	"wardendns.io/internal/models"
)

const defaultBaseURL = "https://api.telegram.org"

// Notifier receives status-change events from the controller
type Notifier interface {
	// NotifyTransition reports one endpoint's stable-status change
	NotifyTransition(ctx context.Context, transition flap.Transition)

	// NotifySummary reports the full state of all endpoints, grouped by
	// hostname. Sent once after the first full cycle.
	NotifySummary(ctx context.Context, states []*models.HostState)
}

// NopNotifier discards all notifications. Used when Telegram is not
// configured.
type NopNotifier struct{}

func (NopNotifier) NotifyTransition(context.Context, flap.Transition) {}
func (NopNotifier) NotifySummary(context.Context, []*models.HostState) {}

// Telegram sends notifications through the Telegram Bot API
type Telegram struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

// NewTelegram creates a Telegram notifier. An empty baseURL selects the
// production Bot API endpoint; a non-positive timeout selects 10s.
func NewTelegram(botToken, chatID, baseURL string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// sendMessageRequest is the Bot API sendMessage payload
type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// NotifyTransition sends a one-line status change message
func (t *Telegram) NotifyTransition(ctx context.Context, transition flap.Transition) {
	key := transition.Key

	var text string
	switch transition.New {
	case models.StatusUp:
		text = fmt.Sprintf("✅ <b>%s</b> → %s is UP (was %s)", key.Name, key.Address, transition.Prev)
	case models.StatusDown:
		text = fmt.Sprintf("❌ <b>%s</b> → %s is DOWN (was %s)", key.Name, key.Address, transition.Prev)
	default:
		return
	}

	if err := t.send(ctx, text); err != nil {
		logging.LogNotifyFailure(key.Name, key.Address, err)
	}
}

// NotifySummary sends the state of every endpoint in one message
func (t *Telegram) NotifySummary(ctx context.Context, states []*models.HostState) {
	if len(states) == 0 {
		return
	}

	text := BuildSummary(states)
	if err := t.send(ctx, text); err != nil {
		logging.LogNotifyFailure("summary", "", err)
	}
}

// send posts one message to the configured chat
func (t *Telegram) send(ctx context.Context, text string) error {
	payload := sendMessageRequest{
		ChatID:                t.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram api returned status %d", resp.StatusCode)
	}

	return nil
}

// BuildSummary renders the per-hostname state listing used for the startup
// summary message.
func BuildSummary(states []*models.HostState) string {
	byHost := make(map[string][]*models.HostState)
	var hostnames []string

	for _, state := range states {
		if _, seen := byHost[state.Key.Name]; !seen {
			hostnames = append(hostnames, state.Key.Name)
		}
		byHost[state.Key.Name] = append(byHost[state.Key.Name], state)
	}
	sort.Strings(hostnames)

	var b strings.Builder
	b.WriteString("📋 <b>Failover controller status</b>\n")

	for _, hostname := range hostnames {
		fmt.Fprintf(&b, "\n<b>%s</b>\n", hostname)

		endpoints := byHost[hostname]
		sort.Slice(endpoints, func(i, j int) bool {
			return endpoints[i].Key.Address < endpoints[j].Key.Address
		})

		for _, state := range endpoints {
			icon := "❓"
			switch state.StableStatus {
			case models.StatusUp:
				icon = "✅"
			case models.StatusDown:
				icon = "❌"
			}
			fmt.Fprintf(&b, "%s %s (%s) %s\n", icon, state.Key.Address, state.Key.Type, state.StableStatus)
		}
	}

	return b.String()
}

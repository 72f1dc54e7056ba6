// Package notify posts run results to a Slack incoming webhook. A nil or
// incomplete configuration yields a disabled notifier whose methods are
// no-ops, so callers never need to branch on whether Slack is set up.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const maxErrorLength = 500

// SlackConfig configures the webhook notifier.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one colored block in a Slack message.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
}

// Field is a titled key/value pair inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notifier sends run notifications. Safe for concurrent use.
type Notifier struct {
	config *SlackConfig
	client *http.Client
}

// New creates a notifier. cfg may be nil.
func New(cfg *SlackConfig) *Notifier {
	return &Notifier{
		config: cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether notifications will actually be sent.
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.Enabled && n.config.WebhookURL != ""
}

func (n *Notifier) getUsername() string {
	if n.config != nil && n.config.Username != "" {
		return n.config.Username
	}
	return "syncctl"
}

// SyncSucceeded reports a completed incremental pass for one table pair.
func (n *Notifier) SyncSucceeded(pair string, inserted int64, batches int, watermark int64, elapsed time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Attachments: []Attachment{{
			Color: "#36a64f",
			Title: "Sync Completed",
			Fields: []Field{
				{Title: "Table Pair", Value: pair, Short: true},
				{Title: "Rows Inserted", Value: formatNumberWithCommas(inserted), Short: true},
				{Title: "Batches", Value: fmt.Sprintf("%d", batches), Short: true},
				{Title: "Watermark", Value: formatNumberWithCommas(watermark), Short: true},
				{Title: "Duration", Value: formatDuration(elapsed), Short: true},
			},
			Footer: "syncctl",
			Ts:     time.Now().Unix(),
		}},
	}
	return n.send(msg)
}

// SyncFailed reports a failed incremental pass.
func (n *Notifier) SyncFailed(pair string, runErr error, elapsed time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	errMsg := "Unknown error"
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorLength {
			errMsg = errMsg[:maxErrorLength] + "..."
		}
	}
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: "#dc3545",
			Title: "Sync Failed",
			Fields: []Field{
				{Title: "Table Pair", Value: pair, Short: true},
				{Title: "Duration", Value: formatDuration(elapsed), Short: true},
				{Title: "Error", Value: errMsg, Short: false},
			},
			Footer: "syncctl",
			Ts:     time.Now().Unix(),
		}},
	}
	return n.send(msg)
}

// MigrationCompleted reports a finished batch migration run.
func (n *Notifier) MigrationCompleted(runID, pair string, inserted int64, batches int, elapsed time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":white_check_mark:",
		Attachments: []Attachment{{
			Color: "#36a64f",
			Title: "Migration Completed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Table Pair", Value: pair, Short: true},
				{Title: "Rows Inserted", Value: formatNumberWithCommas(inserted), Short: true},
				{Title: "Batches", Value: fmt.Sprintf("%d", batches), Short: true},
				{Title: "Duration", Value: formatDuration(elapsed), Short: true},
			},
			Footer: "syncctl",
			Ts:     time.Now().Unix(),
		}},
	}
	return n.send(msg)
}

// MigrationFailed reports a failed batch migration run.
func (n *Notifier) MigrationFailed(runID, pair string, runErr error, elapsed time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	errMsg := "Unknown error"
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorLength {
			errMsg = errMsg[:maxErrorLength] + "..."
		}
	}
	msg := SlackMessage{
		Channel:   n.config.Channel,
		Username:  n.getUsername(),
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: "#dc3545",
			Title: "Migration Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Table Pair", Value: pair, Short: true},
				{Title: "Duration", Value: formatDuration(elapsed), Short: true},
				{Title: "Error", Value: errMsg, Short: false},
			},
			Footer: "syncctl",
			Ts:     time.Now().Unix(),
		}},
	}
	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling slack message: %w", err)
	}
	resp, err := n.client.Post(n.config.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func formatNumberWithCommas(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out)
	}
	return string(out)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

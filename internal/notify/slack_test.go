package notify

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		n := New(nil)
		if n == nil {
			t.Fatal("expected notifier, got nil")
		}
		if n.IsEnabled() {
			t.Error("expected notifier to be disabled with nil config")
		}
	})

	t.Run("valid config", func(t *testing.T) {
		cfg := &SlackConfig{
			Enabled:    true,
			WebhookURL: "https://hooks.slack.com/test",
			Channel:    "#sync",
			Username:   "test-bot",
		}
		n := New(cfg)
		if !n.IsEnabled() {
			t.Error("expected notifier to be enabled")
		}
	})
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name     string
		config   *SlackConfig
		expected bool
	}{
		{name: "nil config", config: nil, expected: false},
		{name: "disabled explicitly", config: &SlackConfig{Enabled: false, WebhookURL: "https://test"}, expected: false},
		{name: "enabled but no webhook", config: &SlackConfig{Enabled: true, WebhookURL: ""}, expected: false},
		{name: "enabled with webhook", config: &SlackConfig{Enabled: true, WebhookURL: "https://hooks.slack.com/test"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := New(tt.config)
			if got := n.IsEnabled(); got != tt.expected {
				t.Errorf("IsEnabled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func captureServer(t *testing.T, msg *SlackMessage) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, msg)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestSyncSucceeded(t *testing.T) {
	t.Run("disabled notifier returns nil", func(t *testing.T) {
		n := New(nil)
		if err := n.SyncSucceeded("dbo.orders -> public.orders", 100, 2, 4200, time.Minute); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("sends correct payload", func(t *testing.T) {
		var received SlackMessage
		server := captureServer(t, &received)
		defer server.Close()

		n := New(&SlackConfig{
			Enabled:    true,
			WebhookURL: server.URL,
			Channel:    "#sync",
			Username:   "sync-bot",
		})
		err := n.SyncSucceeded("dbo.orders -> public.orders", 1234567, 13, 99, 90*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if received.Channel != "#sync" {
			t.Errorf("channel = %q, want %q", received.Channel, "#sync")
		}
		if received.Username != "sync-bot" {
			t.Errorf("username = %q, want %q", received.Username, "sync-bot")
		}
		if received.IconEmoji != ":white_check_mark:" {
			t.Errorf("icon = %q, want %q", received.IconEmoji, ":white_check_mark:")
		}
		if len(received.Attachments) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(received.Attachments))
		}
		att := received.Attachments[0]
		if att.Title != "Sync Completed" {
			t.Errorf("title = %q, want %q", att.Title, "Sync Completed")
		}
		if att.Color != "#36a64f" {
			t.Errorf("color = %q, want green (#36a64f)", att.Color)
		}
		found := false
		for _, f := range att.Fields {
			if f.Title == "Rows Inserted" && f.Value == "1,234,567" {
				found = true
			}
		}
		if !found {
			t.Error("expected comma-formatted rows inserted field")
		}
	})
}

func TestSyncFailed(t *testing.T) {
	t.Run("disabled notifier returns nil", func(t *testing.T) {
		n := New(nil)
		if err := n.SyncFailed("dbo.orders -> public.orders", errors.New("boom"), time.Second); err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	})

	t.Run("nil error handled", func(t *testing.T) {
		var received SlackMessage
		server := captureServer(t, &received)
		defer server.Close()

		n := New(&SlackConfig{Enabled: true, WebhookURL: server.URL})
		if err := n.SyncFailed("dbo.orders -> public.orders", nil, time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		found := false
		for _, f := range received.Attachments[0].Fields {
			if f.Title == "Error" && f.Value == "Unknown error" {
				found = true
			}
		}
		if !found {
			t.Error("expected 'Unknown error' field for nil error")
		}
	})

	t.Run("long error truncated", func(t *testing.T) {
		var received SlackMessage
		server := captureServer(t, &received)
		defer server.Close()

		n := New(&SlackConfig{Enabled: true, WebhookURL: server.URL})
		long := make([]byte, 600)
		for i := range long {
			long[i] = 'a'
		}
		if err := n.SyncFailed("pair", errors.New(string(long)), time.Second); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		for _, f := range received.Attachments[0].Fields {
			if f.Title == "Error" {
				if len(f.Value) > 510 {
					t.Errorf("error message not truncated: len=%d", len(f.Value))
				}
				if f.Value[len(f.Value)-3:] != "..." {
					t.Error("truncated error should end with '...'")
				}
			}
		}
	})

	t.Run("sends correct payload", func(t *testing.T) {
		var received SlackMessage
		server := captureServer(t, &received)
		defer server.Close()

		n := New(&SlackConfig{Enabled: true, WebhookURL: server.URL})
		if err := n.SyncFailed("pair", errors.New("connection timeout"), 2*time.Minute); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if received.IconEmoji != ":x:" {
			t.Errorf("icon = %q, want %q", received.IconEmoji, ":x:")
		}
		if received.Attachments[0].Color != "#dc3545" {
			t.Errorf("color = %q, want red (#dc3545)", received.Attachments[0].Color)
		}
		if received.Attachments[0].Title != "Sync Failed" {
			t.Errorf("title = %q, want %q", received.Attachments[0].Title, "Sync Failed")
		}
	})
}

func TestMigrationCompleted(t *testing.T) {
	var received SlackMessage
	server := captureServer(t, &received)
	defer server.Close()

	n := New(&SlackConfig{Enabled: true, WebhookURL: server.URL})
	err := n.MigrationCompleted("run-456", "dbo.users -> public.users", 50000, 50, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if received.Attachments[0].Title != "Migration Completed" {
		t.Errorf("title = %q, want %q", received.Attachments[0].Title, "Migration Completed")
	}
	found := false
	for _, f := range received.Attachments[0].Fields {
		if f.Title == "Run ID" && f.Value == "run-456" {
			found = true
		}
	}
	if !found {
		t.Error("expected run id in fields")
	}
}

func TestSend(t *testing.T) {
	t.Run("HTTP error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		n := New(&SlackConfig{Enabled: true, WebhookURL: server.URL})
		if err := n.SyncFailed("pair", errors.New("x"), time.Second); err == nil {
			t.Error("expected error for non-200 response")
		}
	})

	t.Run("connection error", func(t *testing.T) {
		n := New(&SlackConfig{Enabled: true, WebhookURL: "http://localhost:99999"})
		if err := n.SyncFailed("pair", errors.New("x"), time.Second); err == nil {
			t.Error("expected error for connection failure")
		}
	})
}

func TestGetUsername(t *testing.T) {
	t.Run("custom username", func(t *testing.T) {
		n := New(&SlackConfig{Username: "custom-bot"})
		if got := n.getUsername(); got != "custom-bot" {
			t.Errorf("getUsername() = %q, want %q", got, "custom-bot")
		}
	})

	t.Run("default username", func(t *testing.T) {
		n := New(&SlackConfig{})
		if got := n.getUsername(); got != "syncctl" {
			t.Errorf("getUsername() = %q, want %q", got, "syncctl")
		}
	})
}

func TestFormatNumberWithCommas(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{1, "1"},
		{123, "123"},
		{1234, "1,234"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{1000000000, "1,000,000,000"},
		{-1234, "-1,234"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatNumberWithCommas(tt.input); got != tt.expected {
				t.Errorf("formatNumberWithCommas(%d) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{60 * time.Second, "1m 0s"},
		{5*time.Minute + 30*time.Second, "5m 30s"},
		{60 * time.Minute, "1h 0m 0s"},
		{25*time.Hour + 5*time.Minute + 10*time.Second, "25h 5m 10s"},
		{1*time.Second + 500*time.Millisecond, "2s"},
		{1*time.Second + 499*time.Millisecond, "1s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := formatDuration(tt.input); got != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"threat-sentinel/internal/runbook"
)

// Notification is the message a notify action delivers.
type Notification struct {
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Severity    string            `json:"severity"`
	Score       float64           `json:"score"`
	Labels      map[string]string `json:"labels,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// NotifyChannel delivers notifications to one destination.
type NotifyChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// WebhookChannel POSTs the notification as JSON to an HTTP endpoint.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(name, url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		name:    name,
		url:     url,
		headers: headers,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// SlackChannel sends notifications to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL, channel, username string) *SlackChannel {
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, n Notification) error {
	payload := map[string]any{
		"channel":  s.channel,
		"username": s.username,
		"attachments": []map[string]any{
			{
				"color":  s.severityColor(n.Severity),
				"title":  fmt.Sprintf("[%s] %s", strings.ToUpper(n.Severity), n.Title),
				"text":   n.Message,
				"footer": fmt.Sprintf("threat score: %.1f", n.Score),
				"ts":     n.CreatedAt.Unix(),
			},
		},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *SlackChannel) severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#FF0000"
	case "high":
		return "#FFA500"
	case "medium":
		return "#FFFF00"
	case "low":
		return "#00FF00"
	default:
		return "#808080"
	}
}

// ConsoleChannel logs notifications through slog. Used when no external
// channel is configured.
type ConsoleChannel struct{}

func (ConsoleChannel) Name() string {
	return "console"
}

func (ConsoleChannel) Send(ctx context.Context, n Notification) error {
	slog.Info("notification",
		"title", n.Title,
		"severity", n.Severity,
		"score", n.Score,
		"message", n.Message)
	return nil
}

// NotifyHandler delivers a notification built from the alert.
//
// Params:
//
//	channel - target channel name; empty means every registered channel
//	message - overrides the default message text
type NotifyHandler struct {
	channels map[string]NotifyChannel
}

// NewNotifyHandler creates a notify handler with the given channels.
func NewNotifyHandler(channels ...NotifyChannel) *NotifyHandler {
	m := make(map[string]NotifyChannel, len(channels))
	for _, ch := range channels {
		m[ch.Name()] = ch
	}
	return &NotifyHandler{channels: m}
}

func (h *NotifyHandler) Type() runbook.ActionType {
	return runbook.ActionNotify
}

func (h *NotifyHandler) Execute(ctx context.Context, action runbook.Action, alert *runbook.Alert, execCtx runbook.ExecContext) (map[string]any, error) {
	message, _ := action.StringParam("message")
	if message == "" {
		message = alert.Annotations["description"]
	}
	if message == "" {
		message = fmt.Sprintf("alert %s from %s", alert.Label("alertname"), alert.Label("ip_address"))
	}

	n := Notification{
		Title:       alert.Label("alertname"),
		Message:     message,
		Severity:    alert.Label("severity"),
		Score:       execCtx.Score,
		Labels:      alert.Labels,
		Annotations: alert.Annotations,
		CreatedAt:   time.Now().UTC(),
	}

	target, _ := action.StringParam("channel")
	if target != "" {
		ch, ok := h.channels[target]
		if !ok {
			return nil, fmt.Errorf("unknown notification channel %q", target)
		}
		if err := ch.Send(ctx, n); err != nil {
			return nil, fmt.Errorf("channel %s: %w", target, err)
		}
		return map[string]any{"channels": []string{target}}, nil
	}

	var sent []string
	for name, ch := range h.channels {
		if err := ch.Send(ctx, n); err != nil {
			return map[string]any{"channels": sent}, fmt.Errorf("channel %s: %w", name, err)
		}
		sent = append(sent, name)
	}
	if len(sent) == 0 {
		return nil, fmt.Errorf("no notification channels registered")
	}
	return map[string]any{"channels": sent}, nil
}

package actions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"threat-sentinel/internal/runbook"
)

func testAlert() *runbook.Alert {
	return &runbook.Alert{
		Status: "firing",
		Labels: map[string]string{
			"alertname":  "CredentialStuffing",
			"severity":   "high",
			"ip_address": "203.0.113.50",
		},
		Annotations: map[string]string{"description": "credential stuffing from 203.0.113.50"},
		Fingerprint: "fp-1",
	}
}

func TestIPBanHandler(t *testing.T) {
	store := NewMemoryBanStore()
	h := NewIPBanHandler(store)

	action := runbook.Action{
		Type: runbook.ActionIPBan,
		Params: map[string]any{
			"duration_seconds": float64(120),
			"reason":           "credential stuffing",
		},
	}
	data, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{Score: 80})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if data["ip_address"] != "203.0.113.50" {
		t.Errorf("data ip = %v", data["ip_address"])
	}

	record, err := store.Get(context.Background(), "203.0.113.50")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if record.Reason != "credential stuffing" {
		t.Errorf("reason = %q", record.Reason)
	}
	ttl := time.Until(record.ExpiresAt)
	if ttl < 100*time.Second || ttl > 121*time.Second {
		t.Errorf("ban TTL = %v, want about 120s", ttl)
	}
}

func TestIPBanHandler_MissingIP(t *testing.T) {
	h := NewIPBanHandler(NewMemoryBanStore())
	alert := &runbook.Alert{Labels: map[string]string{"alertname": "X"}}

	if _, err := h.Execute(context.Background(), runbook.Action{Type: runbook.ActionIPBan}, alert, runbook.ExecContext{}); err == nil {
		t.Error("expected error for alert without ip_address label")
	}
}

func TestMemoryBanStore_Expiry(t *testing.T) {
	store := NewMemoryBanStore()
	expired := BanRecord{
		IPAddress: "10.0.0.1",
		BannedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-1 * time.Hour),
	}
	if err := store.Put(context.Background(), expired, time.Hour); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(context.Background(), "10.0.0.1"); !errors.Is(err, ErrBanNotFound) {
		t.Errorf("expired ban should be not found, got %v", err)
	}
	active, err := store.Active(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active bans = %d, want 0", len(active))
	}
}

func TestNotifyHandler_Webhook(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewNotifyHandler(NewWebhookChannel("soc", srv.URL, nil))
	action := runbook.Action{
		Type:   runbook.ActionNotify,
		Params: map[string]any{"channel": "soc"},
	}
	data, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{Score: 62.5})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	channels, _ := data["channels"].([]string)
	if len(channels) != 1 || channels[0] != "soc" {
		t.Errorf("channels = %v, want [soc]", channels)
	}
	if received.Title != "CredentialStuffing" || received.Score != 62.5 {
		t.Errorf("notification = %+v", received)
	}
}

func TestNotifyHandler_UnknownChannel(t *testing.T) {
	h := NewNotifyHandler(ConsoleChannel{})
	action := runbook.Action{
		Type:   runbook.ActionNotify,
		Params: map[string]any{"channel": "pager"},
	}
	if _, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{}); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestNotifyHandler_WebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "downstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewNotifyHandler(NewWebhookChannel("soc", srv.URL, nil))
	action := runbook.Action{Type: runbook.ActionNotify}
	if _, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{}); err == nil {
		t.Error("expected error for non-2xx webhook response")
	}
}

type fakeUploader struct {
	key  string
	fail bool
}

func (u *fakeUploader) UploadReport(ctx context.Context, key string, body []byte) (string, error) {
	if u.fail {
		return "", errors.New("bucket unavailable")
	}
	u.key = key
	return "s3://reports/" + key, nil
}

func TestReportHandler(t *testing.T) {
	dir := t.TempDir()
	uploader := &fakeUploader{}
	h := NewReportHandler(dir, uploader)

	action := runbook.Action{
		Type:   runbook.ActionReport,
		Params: map[string]any{"notes": "confirmed by analyst"},
	}
	data, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{Score: 88})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}

	path, _ := data["path"].(string)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("report file not written: %v", err)
	}
	var report IncidentReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if report.Score != 88 || report.Alert.Fingerprint != "fp-1" {
		t.Errorf("report = %+v", report)
	}
	if report.Notes["operator"] != "confirmed by analyst" {
		t.Errorf("notes = %v", report.Notes)
	}
	if uploader.key != filepath.Base(path) {
		t.Errorf("uploaded key = %q, want %q", uploader.key, filepath.Base(path))
	}
	if loc, _ := data["archive_location"].(string); !strings.HasPrefix(loc, "s3://") {
		t.Errorf("archive_location = %v", data["archive_location"])
	}
}

func TestReportHandler_UploadFailureKeepsLocalCopy(t *testing.T) {
	dir := t.TempDir()
	h := NewReportHandler(dir, &fakeUploader{fail: true})

	data, err := h.Execute(context.Background(), runbook.Action{Type: runbook.ActionReport}, testAlert(), runbook.ExecContext{})
	if err == nil {
		t.Fatal("expected archival error")
	}
	path, _ := data["path"].(string)
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("local report must survive upload failure: %v", statErr)
	}
}

func TestServiceCommandHandler(t *testing.T) {
	h := NewServiceCommandHandler(map[string][]string{
		"reload-firewall": {"firewall-ctl", "reload"},
	})

	var gotName string
	var gotArgs []string
	h.runner = func(ctx context.Context, name string, args []string) (string, error) {
		gotName = name
		gotArgs = args
		return "reloaded\n", nil
	}

	action := runbook.Action{
		Type:   runbook.ActionServiceCommand,
		Params: map[string]any{"command": "reload-firewall"},
	}
	data, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if gotName != "firewall-ctl" || len(gotArgs) != 1 || gotArgs[0] != "reload" {
		t.Errorf("ran %s %v", gotName, gotArgs)
	}
	if data["output"] != "reloaded" {
		t.Errorf("output = %v", data["output"])
	}
}

func TestServiceCommandHandler_RejectsUnlisted(t *testing.T) {
	h := NewServiceCommandHandler(map[string][]string{})
	action := runbook.Action{
		Type:   runbook.ActionServiceCommand,
		Params: map[string]any{"command": "rm-rf"},
	}
	if _, err := h.Execute(context.Background(), action, testAlert(), runbook.ExecContext{}); err == nil {
		t.Error("expected allowlist rejection")
	}
}

package internal_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"threat-sentinel/internal/actions"
	"threat-sentinel/internal/alertmanager"
	"threat-sentinel/internal/api"
	"threat-sentinel/internal/correlation"
	"threat-sentinel/internal/runbook"
	"threat-sentinel/internal/schema"
)

// --- Test: Ingest -> Correlate -> Score pipeline ---

func TestIngestCorrelateScore(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultEngineConfig())
	executor := runbook.NewExecutor(runbook.DefaultExecutorConfig())
	matcher := runbook.NewMatcher(nil)

	mux := http.NewServeMux()
	api.NewHandler(engine, executor, matcher, actions.NewMemoryBanStore()).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	// Five honeypot probes from one source should correlate into a
	// reconnaissance pattern.
	for i := 0; i < 5; i++ {
		event := schema.AttackEvent{
			Timestamp:  time.Now().UTC().Add(-time.Duration(i) * time.Minute),
			IPAddress:  "198.51.100.7",
			AttackType: fmt.Sprintf("honeypot_probe_%d", i%3),
			Severity:   schema.SeverityMedium,
		}
		body, _ := json.Marshal(event)
		resp, err := http.Post(ts.URL+"/v1/events", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatalf("failed to post event: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("ingest status = %d, want 202", resp.StatusCode)
		}
	}

	resp, err := http.Get(ts.URL + "/v1/patterns")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var patterns struct {
		Patterns []correlation.AttackPattern `json:"patterns"`
		Total    int                         `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&patterns); err != nil {
		t.Fatal(err)
	}
	if patterns.Total == 0 {
		t.Fatal("expected at least one correlated pattern")
	}
	if patterns.Patterns[0].Type != correlation.PatternReconnaissance {
		t.Errorf("pattern type = %s, want reconnaissance", patterns.Patterns[0].Type)
	}

	scoreResp, err := http.Get(ts.URL + "/v1/score/198.51.100.7")
	if err != nil {
		t.Fatal(err)
	}
	defer scoreResp.Body.Close()

	var score struct {
		Score float64 `json:"score"`
		Level string  `json:"level"`
	}
	if err := json.NewDecoder(scoreResp.Body).Decode(&score); err != nil {
		t.Fatal(err)
	}
	if score.Score <= 0 {
		t.Errorf("score = %f, want > 0", score.Score)
	}

	t.Logf("Pipeline test passed: 5 events -> %d pattern(s) -> score %.1f (%s)",
		patterns.Total, score.Score, score.Level)
}

// --- Test: Alert -> Runbook -> Ban + Notify ---

func TestAlertDispatchExecutesRunbook(t *testing.T) {
	var receivedPayloads [][]byte
	var mu sync.Mutex

	mockWebhook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		receivedPayloads = append(receivedPayloads, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer mockWebhook.Close()

	banStore := actions.NewMemoryBanStore()

	executor := runbook.NewExecutor(runbook.DefaultExecutorConfig())
	executor.RegisterHandler(actions.NewIPBanHandler(banStore))
	executor.RegisterHandler(actions.NewNotifyHandler(
		actions.NewWebhookChannel("soc", mockWebhook.URL, nil)))

	matcher := runbook.NewMatcher([]*runbook.Runbook{{
		Name:    "ban-and-notify",
		Enabled: true,
		Trigger: runbook.TriggerCondition{Alertname: "BruteForceDetected"},
		Actions: []runbook.Action{
			{Type: runbook.ActionIPBan, Params: map[string]any{"duration_seconds": float64(60)}},
			{Type: runbook.ActionNotify},
		},
	}})

	engine := correlation.NewEngine(correlation.DefaultEngineConfig())
	dispatcher := alertmanager.NewDispatcher(matcher, executor, engine)

	mux := http.NewServeMux()
	alertmanager.NewWebhookHandler(dispatcher).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	defer ts.Close()

	payload := alertmanager.WebhookPayload{
		Version:  "4",
		Status:   "firing",
		Receiver: "sentinel",
		Alerts: []runbook.Alert{{
			Status: "firing",
			Labels: map[string]string{
				"alertname":  "BruteForceDetected",
				"severity":   "high",
				"ip_address": "203.0.113.99",
			},
			Fingerprint: "fp-1",
		}},
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(ts.URL+"/v1/alerts/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", resp.StatusCode)
	}

	// Ban recorded
	record, err := banStore.Get(t.Context(), "203.0.113.99")
	if err != nil {
		t.Fatalf("expected active ban: %v", err)
	}
	if record.Reason != "BruteForceDetected" {
		t.Errorf("ban reason = %s, want BruteForceDetected", record.Reason)
	}
	if record.Runbook != "ban-and-notify" {
		t.Errorf("ban runbook = %s, want ban-and-notify", record.Runbook)
	}

	// Notification delivered
	mu.Lock()
	notified := len(receivedPayloads)
	mu.Unlock()
	if notified != 1 {
		t.Fatalf("notifications = %d, want 1", notified)
	}

	// Execution logged as completed
	execs := executor.RecentExecutions(10)
	if len(execs) != 1 {
		t.Fatalf("executions = %d, want 1", len(execs))
	}
	if execs[0].Status != runbook.StatusCompleted {
		t.Errorf("execution status = %s, want completed", execs[0].Status)
	}
	if execs[0].ActionsExecuted != 2 || execs[0].ActionsFailed != 0 {
		t.Errorf("actions = %d/%d, want 2/0",
			execs[0].ActionsExecuted, execs[0].ActionsFailed)
	}

	t.Logf("Dispatch test passed: alert -> runbook -> ban + %d notification(s)", notified)
}

// --- Test: Event sink observes ingested events ---

func TestEngineSinkObservesIngest(t *testing.T) {
	engine := correlation.NewEngine(correlation.DefaultEngineConfig())

	var sunk []*schema.AttackEvent
	engine.SetSink(func(event *schema.AttackEvent) {
		sunk = append(sunk, event)
	})

	engine.AddEvent(&schema.AttackEvent{
		Timestamp:  time.Now().UTC(),
		IPAddress:  "192.0.2.10",
		AttackType: "sql_injection",
		Severity:   schema.SeverityHigh,
	})
	engine.AddEvent(nil)

	if len(sunk) != 1 {
		t.Errorf("sink observed %d events, want 1 (nil events are never sunk)", len(sunk))
	}
}
